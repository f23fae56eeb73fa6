package group

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/rolegraph"
	"github.com/cooperado/cooperado/internal/shared"
)

type memoryGroupRepo struct {
	groups map[int64]*Group
	nextID int64
}

func newMemoryGroupRepo() *memoryGroupRepo {
	return &memoryGroupRepo{groups: make(map[int64]*Group)}
}

func (r *memoryGroupRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryGroupRepo) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return Group{}, shared.ErrNotFound
	}
	return *g, nil
}

func (r *memoryGroupRepo) ListGroups(ctx context.Context) ([]Group, error) {
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g)
	}
	return out, nil
}

func (r *memoryGroupRepo) GroupsForMember(ctx context.Context, actorID int64) ([]Group, error) {
	var out []Group
	for _, g := range r.groups {
		if g.HasMember(actorID) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *memoryGroupRepo) InsertGroup(ctx context.Context, g Group) (Group, error) {
	for _, existing := range r.groups {
		if existing.Name == g.Name {
			return Group{}, &pgconn.PgError{Code: "23505"}
		}
	}
	r.nextID++
	g.ID = r.nextID
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt
	r.groups[g.ID] = &g
	return g, nil
}

func (r *memoryGroupRepo) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	stored, ok := r.groups[g.ID]
	if !ok {
		return Group{}, shared.ErrNotFound
	}
	stored.Name = g.Name
	stored.UpdatedAt = time.Now()
	return *stored, nil
}

func (r *memoryGroupRepo) SetActive(ctx context.Context, id int64, active bool) error {
	g, ok := r.groups[id]
	if !ok {
		return shared.ErrNotFound
	}
	g.Active = active
	return nil
}

func (r *memoryGroupRepo) InsertMember(ctx context.Context, groupID, actorID int64) error {
	g := r.groups[groupID]
	g.Members = append(g.Members, actorID)
	return nil
}

func (r *memoryGroupRepo) DeleteMember(ctx context.Context, groupID, actorID int64) (bool, error) {
	g, ok := r.groups[groupID]
	if !ok {
		return false, shared.ErrNotFound
	}
	for i, id := range g.Members {
		if id == actorID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryGroupRepo) InsertRole(ctx context.Context, groupID, roleID int64) error {
	g := r.groups[groupID]
	g.Roles = append(g.Roles, roleID)
	return nil
}

func (r *memoryGroupRepo) DeleteRole(ctx context.Context, groupID, roleID int64) (bool, error) {
	g, ok := r.groups[groupID]
	if !ok {
		return false, shared.ErrNotFound
	}
	for i, id := range g.Roles {
		if id == roleID {
			g.Roles = append(g.Roles[:i], g.Roles[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// stubClosure serves fixed roles and closures.
type stubClosure struct {
	roles    map[int64]rolegraph.Role
	closures map[int64]rolegraph.PermissionSet
}

func (s *stubClosure) GetRole(ctx context.Context, roleID int64) (rolegraph.Role, error) {
	role, ok := s.roles[roleID]
	if !ok {
		return rolegraph.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (s *stubClosure) EffectivePermissions(ctx context.Context, roleID int64) (rolegraph.PermissionSet, error) {
	closure, ok := s.closures[roleID]
	if !ok {
		return rolegraph.PermissionSet{}, nil
	}
	return closure, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (a *recordingAudit) Record(ctx context.Context, entry audit.Entry) (audit.Record, error) {
	a.entries = append(a.entries, entry)
	return audit.Record{Action: entry.Action, Success: entry.Success}, nil
}

type countingBumper struct {
	bumps int
}

func (b *countingBumper) Bump(ctx context.Context) error {
	b.bumps++
	return nil
}

func permSet(ids ...int64) rolegraph.PermissionSet {
	set := make(rolegraph.PermissionSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func newGroupService(t *testing.T) (*Service, *memoryGroupRepo, *stubClosure, *recordingAudit) {
	t.Helper()
	repo := newMemoryGroupRepo()
	closure := &stubClosure{
		roles: map[int64]rolegraph.Role{
			1: {ID: 1, Code: "ADMIN", Active: true},
			2: {ID: 2, Code: "MANAGER", Active: true},
			3: {ID: 3, Code: "RETIRED", Active: false},
		},
		closures: map[int64]rolegraph.PermissionSet{
			1: permSet(100, 101),
			2: permSet(101, 200),
			3: permSet(999),
		},
	}
	auditor := &recordingAudit{}
	return NewService(repo, closure, auditor, &countingBumper{}, nil), repo, closure, auditor
}

func mustCreateGroup(t *testing.T, svc *Service, name string) Group {
	t.Helper()
	g, err := svc.CreateGroup(context.Background(), CreateGroupInput{Name: name})
	require.NoError(t, err)
	return g
}

func TestCreateGroupDuplicateName(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	mustCreateGroup(t, svc, "Treasury")

	_, err := svc.CreateGroup(context.Background(), CreateGroupInput{Name: "Treasury"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestRenameGroup(t *testing.T) {
	svc, repo, _, auditor := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	renamed, err := svc.RenameGroup(context.Background(), g.ID, CreateGroupInput{Name: "  Finance Board "})
	require.NoError(t, err)
	require.Equal(t, "Finance Board", renamed.Name)
	require.Equal(t, "Finance Board", repo.groups[g.ID].Name)

	last := auditor.entries[len(auditor.entries)-1]
	require.Equal(t, audit.ActionGroupUpdated, last.Action)
	require.True(t, last.Success)

	_, err = svc.RenameGroup(context.Background(), 999, CreateGroupInput{Name: "Ghost"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddMemberTwiceRejected(t *testing.T) {
	svc, _, _, auditor := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	require.NoError(t, svc.AddMember(context.Background(), g.ID, 42))
	err := svc.AddMember(context.Background(), g.ID, 42)
	require.ErrorIs(t, err, ErrAlreadyMember)

	last := auditor.entries[len(auditor.entries)-1]
	require.Equal(t, audit.ActionGroupMemberAdded, last.Action)
	require.False(t, last.Success)
}

func TestRemoveAbsentMemberRejected(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	err := svc.RemoveMember(context.Background(), g.ID, 42)
	require.ErrorIs(t, err, ErrNotMember)
}

func TestAddRoleUnknownRole(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	err := svc.AddRole(context.Background(), g.ID, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddRoleTwiceRejected(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	require.NoError(t, svc.AddRole(context.Background(), g.ID, 1))
	require.ErrorIs(t, svc.AddRole(context.Background(), g.ID, 1), ErrRoleAlreadyAttached)
}

func TestRemoveRoleNotAttached(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")

	require.ErrorIs(t, svc.RemoveRole(context.Background(), g.ID, 1), ErrRoleNotAttached)
}

func TestEffectivePermissionsUnionsActiveRoles(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")
	require.NoError(t, svc.AddRole(context.Background(), g.ID, 1))
	require.NoError(t, svc.AddRole(context.Background(), g.ID, 2))

	perms, err := svc.EffectivePermissions(context.Background(), g.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 101, 200}, perms.Sorted(), "overlap counts once")
}

func TestEffectivePermissionsSkipsInactiveRole(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")
	require.NoError(t, svc.AddRole(context.Background(), g.ID, 1))
	require.NoError(t, svc.AddRole(context.Background(), g.ID, 3))

	perms, err := svc.EffectivePermissions(context.Background(), g.ID)
	require.NoError(t, err)
	require.False(t, perms.Contains(999), "inactive roles contribute nothing")
}

func TestEffectivePermissionsInactiveGroupIsEmpty(t *testing.T) {
	svc, _, _, _ := newGroupService(t)
	g := mustCreateGroup(t, svc, "Treasury")
	require.NoError(t, svc.AddRole(context.Background(), g.ID, 1))
	require.NoError(t, svc.DeactivateGroup(context.Background(), g.ID))

	perms, err := svc.EffectivePermissions(context.Background(), g.ID)
	require.NoError(t, err)
	require.Empty(t, perms.Sorted())
}
