package rolegraph

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/shared"
)

type memoryGraphRepo struct {
	roles       map[int64]*Role
	assignments map[int64][]int64
	groupRoles  map[int64]struct{}
	nextID      int64

	inTx             bool
	inUseCheckedInTx bool
}

func newMemoryGraphRepo() *memoryGraphRepo {
	return &memoryGraphRepo{
		roles:       make(map[int64]*Role),
		assignments: make(map[int64][]int64),
		groupRoles:  make(map[int64]struct{}),
	}
}

func (r *memoryGraphRepo) WithGraphTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.inTx = true
	defer func() { r.inTx = false }()
	return fn(ctx, r)
}

func (r *memoryGraphRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return *role, nil
}

func (r *memoryGraphRepo) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	for _, role := range r.roles {
		if role.Code == code {
			return *role, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (r *memoryGraphRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (r *memoryGraphRepo) LoadArena(ctx context.Context) (Arena, error) {
	arena := make(Arena, len(r.roles))
	for id, role := range r.roles {
		arena[id] = ArenaNode{
			Parents:     append([]int64(nil), role.ParentRoles...),
			Permissions: append([]int64(nil), role.DirectPermissions...),
			Active:      role.Active,
		}
	}
	return arena, nil
}

func (r *memoryGraphRepo) HasAssignments(ctx context.Context, roleID int64) (bool, error) {
	r.inUseCheckedInTx = r.inTx
	for _, roleIDs := range r.assignments {
		for _, id := range roleIDs {
			if id == roleID {
				return true, nil
			}
		}
	}
	_, ok := r.groupRoles[roleID]
	return ok, nil
}

func (r *memoryGraphRepo) RoleIDsForActor(ctx context.Context, actorID int64) ([]int64, error) {
	return append([]int64(nil), r.assignments[actorID]...), nil
}

func (r *memoryGraphRepo) AssignActor(ctx context.Context, actorID, roleID int64) error {
	for _, id := range r.assignments[actorID] {
		if id == roleID {
			return nil
		}
	}
	r.assignments[actorID] = append(r.assignments[actorID], roleID)
	return nil
}

func (r *memoryGraphRepo) UnassignActor(ctx context.Context, actorID, roleID int64) error {
	kept := r.assignments[actorID][:0]
	for _, id := range r.assignments[actorID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	r.assignments[actorID] = kept
	return nil
}

func (r *memoryGraphRepo) InsertRole(ctx context.Context, role Role) (Role, error) {
	for _, existing := range r.roles {
		if existing.Code == role.Code {
			return Role{}, &pgconn.PgError{Code: "23505"}
		}
	}
	r.nextID++
	role.ID = r.nextID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	r.roles[role.ID] = &role
	return role, nil
}

func (r *memoryGraphRepo) UpdateRole(ctx context.Context, role Role) (Role, error) {
	stored, ok := r.roles[role.ID]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	stored.Name = role.Name
	stored.HierarchyLevel = role.HierarchyLevel
	stored.UpdatedAt = time.Now()
	return *stored, nil
}

func (r *memoryGraphRepo) SetActive(ctx context.Context, id int64, active bool) error {
	role, ok := r.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	role.Active = active
	return nil
}

func (r *memoryGraphRepo) DeleteRole(ctx context.Context, id int64) (int64, error) {
	if _, ok := r.roles[id]; !ok {
		return 0, nil
	}
	delete(r.roles, id)
	return 1, nil
}

func (r *memoryGraphRepo) InsertParentEdge(ctx context.Context, roleID, parentID int64) error {
	role := r.roles[roleID]
	role.ParentRoles = append(role.ParentRoles, parentID)
	return nil
}

func (r *memoryGraphRepo) DeleteParentEdge(ctx context.Context, roleID, parentID int64) (bool, error) {
	role, ok := r.roles[roleID]
	if !ok {
		return false, shared.ErrNotFound
	}
	for i, id := range role.ParentRoles {
		if id == parentID {
			role.ParentRoles = append(role.ParentRoles[:i], role.ParentRoles[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryGraphRepo) InsertPermission(ctx context.Context, roleID, permissionID int64) error {
	role := r.roles[roleID]
	role.DirectPermissions = append(role.DirectPermissions, permissionID)
	return nil
}

func (r *memoryGraphRepo) DeletePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	role, ok := r.roles[roleID]
	if !ok {
		return false, shared.ErrNotFound
	}
	for i, id := range role.DirectPermissions {
		if id == permissionID {
			role.DirectPermissions = append(role.DirectPermissions[:i], role.DirectPermissions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (a *recordingAudit) Record(ctx context.Context, entry audit.Entry) (audit.Record, error) {
	a.entries = append(a.entries, entry)
	return audit.Record{Action: entry.Action, Success: entry.Success}, nil
}

func (a *recordingAudit) last() audit.Entry {
	return a.entries[len(a.entries)-1]
}

type countingBumper struct {
	bumps int
}

func (b *countingBumper) Bump(ctx context.Context) error {
	b.bumps++
	return nil
}

func newGraphService(t *testing.T) (*Service, *memoryGraphRepo, *recordingAudit, *countingBumper) {
	t.Helper()
	repo := newMemoryGraphRepo()
	auditor := &recordingAudit{}
	bumper := &countingBumper{}
	return NewService(repo, auditor, bumper, nil), repo, auditor, bumper
}

func mustCreateRole(t *testing.T, svc *Service, code string, level int) Role {
	t.Helper()
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: code, Name: code, HierarchyLevel: level})
	require.NoError(t, err)
	return role
}

func TestCreateRoleNormalizesAndAudits(t *testing.T) {
	svc, repo, auditor, bumper := newGraphService(t)
	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Name: "ops"})

	role, err := svc.CreateRole(ctx, CreateRoleInput{Code: "branch_manager", Name: "branch   MANAGER", HierarchyLevel: 5})
	require.NoError(t, err)
	require.Equal(t, "BRANCH_MANAGER", role.Code)
	require.Equal(t, "Branch Manager", role.Name)
	require.True(t, role.Active)
	require.Len(t, repo.roles, 1)

	require.Len(t, auditor.entries, 1)
	entry := auditor.last()
	require.Equal(t, audit.ActionRoleCreated, entry.Action)
	require.Equal(t, int64(7), entry.ActorID)
	require.True(t, entry.Success)
	require.Equal(t, 1, bumper.bumps)
}

func TestCreateRoleDuplicateCode(t *testing.T) {
	svc, _, auditor, _ := newGraphService(t)
	mustCreateRole(t, svc, "CLERK", 1)

	_, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: "clerk", Name: "Clerk"})
	require.ErrorIs(t, err, ErrDuplicateCode)

	entry := auditor.last()
	require.False(t, entry.Success)
	require.NotEmpty(t, entry.ErrorMessage)
}

func TestCreateRoleValidation(t *testing.T) {
	svc, _, auditor, _ := newGraphService(t)

	_, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: "", Name: "No Code"})
	require.Error(t, err)
	require.Empty(t, auditor.entries, "validation failures are rejected before the audit trail")
}

func TestGetRoleByCodeNormalizesInput(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	created := mustCreateRole(t, svc, "CLERK", 1)

	found, err := svc.GetRoleByCode(context.Background(), "  clerk ")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)

	_, err = svc.GetRoleByCode(context.Background(), "GHOST")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRoleSystemImmutable(t *testing.T) {
	svc, repo, _, _ := newGraphService(t)
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: "ADMIN", Name: "Admin", IsSystem: true})
	require.NoError(t, err)

	_, err = svc.UpdateRole(context.Background(), role.ID, UpdateRoleInput{Name: "Renamed"})
	require.ErrorIs(t, err, ErrSystemRoleImmutable)
	require.Equal(t, "Admin", repo.roles[role.ID].Name)
}

func TestAddParentRejectsCycle(t *testing.T) {
	svc, repo, auditor, _ := newGraphService(t)
	admin := mustCreateRole(t, svc, "ADMIN", 10)
	manager := mustCreateRole(t, svc, "MANAGER", 5)
	clerk := mustCreateRole(t, svc, "CLERK", 1)

	require.NoError(t, svc.AddParent(context.Background(), manager.ID, admin.ID))
	require.NoError(t, svc.AddParent(context.Background(), clerk.ID, manager.ID))

	err := svc.AddParent(context.Background(), admin.ID, clerk.ID)
	require.ErrorIs(t, err, ErrCycleDetected)

	// The rejected edge must leave the graph untouched.
	require.Empty(t, repo.roles[admin.ID].ParentRoles)
	entry := auditor.last()
	require.Equal(t, audit.ActionRoleParentAdded, entry.Action)
	require.False(t, entry.Success)
}

func TestAddParentSelfEdge(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	role := mustCreateRole(t, svc, "SOLO", 1)

	err := svc.AddParent(context.Background(), role.ID, role.ID)
	require.ErrorIs(t, err, ErrCycleDetected)
}

func TestAddParentDuplicateEdge(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	parent := mustCreateRole(t, svc, "PARENT", 5)
	child := mustCreateRole(t, svc, "CHILD", 1)

	require.NoError(t, svc.AddParent(context.Background(), child.ID, parent.ID))
	err := svc.AddParent(context.Background(), child.ID, parent.ID)
	require.ErrorIs(t, err, ErrAlreadyParent)
}

func TestRemoveParentMissingEdge(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	parent := mustCreateRole(t, svc, "PARENT", 5)
	child := mustCreateRole(t, svc, "CHILD", 1)

	err := svc.RemoveParent(context.Background(), child.ID, parent.ID)
	require.ErrorIs(t, err, ErrNotParent)
}

func TestEffectivePermissionsFollowInheritance(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	admin := mustCreateRole(t, svc, "ADMIN", 10)
	manager := mustCreateRole(t, svc, "MANAGER", 5)

	require.NoError(t, svc.AddParent(context.Background(), manager.ID, admin.ID))
	require.NoError(t, svc.GrantPermission(context.Background(), admin.ID, 100))
	require.NoError(t, svc.GrantPermission(context.Background(), manager.ID, 200))

	perms, err := svc.EffectivePermissions(context.Background(), manager.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 200}, perms.Sorted())
}

func TestRevokePermissionPropagates(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	admin := mustCreateRole(t, svc, "ADMIN", 10)
	manager := mustCreateRole(t, svc, "MANAGER", 5)

	require.NoError(t, svc.AddParent(context.Background(), manager.ID, admin.ID))
	require.NoError(t, svc.GrantPermission(context.Background(), admin.ID, 100))

	perms, err := svc.EffectivePermissions(context.Background(), manager.ID)
	require.NoError(t, err)
	require.True(t, perms.Contains(100))

	require.NoError(t, svc.RevokePermission(context.Background(), admin.ID, 100))

	perms, err = svc.EffectivePermissions(context.Background(), manager.ID)
	require.NoError(t, err)
	require.False(t, perms.Contains(100), "revoking on the ancestor removes it from every descendant")
}

func TestGrantPermissionDuplicate(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	role := mustCreateRole(t, svc, "CLERK", 1)

	require.NoError(t, svc.GrantPermission(context.Background(), role.ID, 100))
	err := svc.GrantPermission(context.Background(), role.ID, 100)
	require.ErrorIs(t, err, ErrPermissionAlreadyGranted)
}

func TestRevokePermissionNotGranted(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	role := mustCreateRole(t, svc, "CLERK", 1)

	err := svc.RevokePermission(context.Background(), role.ID, 100)
	require.ErrorIs(t, err, ErrPermissionNotGranted)
}

func TestDeleteRoleDegradesToDeactivate(t *testing.T) {
	svc, repo, auditor, _ := newGraphService(t)
	role := mustCreateRole(t, svc, "CLERK", 1)
	require.NoError(t, svc.AssignActor(context.Background(), 42, role.ID))

	require.NoError(t, svc.DeleteRole(context.Background(), role.ID))

	stored, ok := repo.roles[role.ID]
	require.True(t, ok, "assigned roles survive deletion")
	require.False(t, stored.Active)
	require.True(t, repo.inUseCheckedInTx, "in-use check must share the delete transaction")
	require.Equal(t, audit.ActionRoleDeactivated, auditor.last().Action)
}

func TestDeleteRoleUnassigned(t *testing.T) {
	svc, repo, auditor, _ := newGraphService(t)
	role := mustCreateRole(t, svc, "TEMP", 1)

	require.NoError(t, svc.DeleteRole(context.Background(), role.ID))
	require.NotContains(t, repo.roles, role.ID)
	require.Equal(t, audit.ActionRoleDeleted, auditor.last().Action)
}

func TestDeleteRoleSystemImmutable(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: "ADMIN", Name: "Admin", IsSystem: true})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteRole(context.Background(), role.ID), ErrSystemRoleImmutable)
}

func TestSystemRoleGrantsStayAdjustable(t *testing.T) {
	svc, repo, _, _ := newGraphService(t)
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{Code: "ADMIN", Name: "Admin", IsSystem: true})
	require.NoError(t, err)

	require.NoError(t, svc.GrantPermission(context.Background(), role.ID, 100))
	require.Contains(t, repo.roles[role.ID].DirectPermissions, int64(100))
	require.NoError(t, svc.RevokePermission(context.Background(), role.ID, 100))
	require.NotContains(t, repo.roles[role.ID].DirectPermissions, int64(100))
}

func TestEveryMutationBumpsCache(t *testing.T) {
	svc, _, _, bumper := newGraphService(t)
	admin := mustCreateRole(t, svc, "ADMIN", 10)
	manager := mustCreateRole(t, svc, "MANAGER", 5)
	require.NoError(t, svc.AddParent(context.Background(), manager.ID, admin.ID))
	require.NoError(t, svc.GrantPermission(context.Background(), admin.ID, 100))
	require.NoError(t, svc.RevokePermission(context.Background(), admin.ID, 100))
	require.NoError(t, svc.RemoveParent(context.Background(), manager.ID, admin.ID))
	require.NoError(t, svc.DeactivateRole(context.Background(), manager.ID))
	require.NoError(t, svc.ActivateRole(context.Background(), manager.ID))

	require.Equal(t, 8, bumper.bumps)
}

func TestAssignActorUnknownRole(t *testing.T) {
	svc, _, _, _ := newGraphService(t)
	err := svc.AssignActor(context.Background(), 42, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
