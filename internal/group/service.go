package group

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/rolegraph"
	"github.com/cooperado/cooperado/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GroupsForMember(ctx context.Context, actorID int64) ([]Group, error)
}

// ClosurePort resolves role closures and role state.
type ClosurePort interface {
	GetRole(ctx context.Context, roleID int64) (rolegraph.Role, error)
	EffectivePermissions(ctx context.Context, roleID int64) (rolegraph.PermissionSet, error)
}

// AuditPort abstracts the audit recorder.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Record, error)
}

// CacheInvalidator bumps the graph version after membership mutations.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates group mutations and effective-permission queries.
type Service struct {
	repo     RepositoryPort
	roles    ClosurePort
	audit    AuditPort
	cache    CacheInvalidator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds a Service.
func NewService(repo RepositoryPort, roles ClosurePort, auditor AuditPort, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		roles:    roles,
		audit:    auditor,
		cache:    cache,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateGroupInput carries the fields for a new group.
type CreateGroupInput struct {
	Name string `validate:"required,max=100"`
}

// CreateGroup inserts an empty active group.
func (s *Service) CreateGroup(ctx context.Context, input CreateGroupInput) (Group, error) {
	if err := s.validate.Struct(input); err != nil {
		return Group{}, fmt.Errorf("group: invalid group: %w", err)
	}
	var created Group
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertGroup(ctx, Group{Name: strings.TrimSpace(input.Name), Active: true})
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, input.Name)
		}
		return err
	})
	s.record(ctx, audit.ActionGroupCreated, created.ID, created.Name, nil, err)
	if err != nil {
		return Group{}, err
	}
	return created, nil
}

// RenameGroup changes the group's display name. Membership and roles are
// untouched, so memoized closures stay valid.
func (s *Service) RenameGroup(ctx context.Context, groupID int64, input CreateGroupInput) (Group, error) {
	if err := s.validate.Struct(input); err != nil {
		return Group{}, fmt.Errorf("group: invalid group: %w", err)
	}
	var updated Group
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		g.Name = strings.TrimSpace(input.Name)
		updated, err = tx.UpdateGroup(ctx, g)
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, input.Name)
		}
		return err
	})
	s.record(ctx, audit.ActionGroupUpdated, groupID, updated.Name, nil, err)
	if err != nil {
		return Group{}, err
	}
	return updated, nil
}

// DeactivateGroup soft-disables a group; its roles stop contributing to any
// member's effective permissions.
func (s *Service) DeactivateGroup(ctx context.Context, groupID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, groupID, false)
	})
	s.record(ctx, audit.ActionGroupDeactivated, groupID, "", nil, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddMember adds an actor to the group. Adding twice is rejected, not ignored.
func (s *Service) AddMember(ctx context.Context, groupID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g.HasMember(actorID) {
			return ErrAlreadyMember
		}
		return tx.InsertMember(ctx, groupID, actorID)
	})
	s.record(ctx, audit.ActionGroupMemberAdded, groupID, "", memberDetails(actorID), err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RemoveMember removes an actor from the group. Removing an absent member is
// rejected, not ignored.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		removed, err := tx.DeleteMember(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotMember
		}
		return nil
	})
	s.record(ctx, audit.ActionGroupMemberRemoved, groupID, "", memberDetails(actorID), err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddRole attaches a role to the group.
func (s *Service) AddRole(ctx context.Context, groupID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g.HasRole(roleID) {
			return ErrRoleAlreadyAttached
		}
		if _, err := s.roles.GetRole(ctx, roleID); err != nil {
			return err
		}
		return tx.InsertRole(ctx, groupID, roleID)
	})
	s.record(ctx, audit.ActionGroupRoleAdded, groupID, "", roleDetails(roleID), err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RemoveRole detaches a role from the group.
func (s *Service) RemoveRole(ctx context.Context, groupID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		removed, err := tx.DeleteRole(ctx, groupID, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrRoleNotAttached
		}
		return nil
	})
	s.record(ctx, audit.ActionGroupRoleRemoved, groupID, "", roleDetails(roleID), err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GetGroup fetches a group.
func (s *Service) GetGroup(ctx context.Context, groupID int64) (Group, error) {
	return s.repo.GetGroup(ctx, groupID)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// GroupsForMember returns the actor's groups.
func (s *Service) GroupsForMember(ctx context.Context, actorID int64) ([]Group, error) {
	return s.repo.GroupsForMember(ctx, actorID)
}

// EffectivePermissions returns the union of the closures of the group's
// active roles. Insertion order never matters; the result is a pure union.
func (s *Service) EffectivePermissions(ctx context.Context, groupID int64) (rolegraph.PermissionSet, error) {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	result := make(rolegraph.PermissionSet)
	if !g.Active {
		return result, nil
	}
	for _, roleID := range g.Roles {
		role, err := s.roles.GetRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if !role.Active {
			continue
		}
		closure, err := s.roles.EffectivePermissions(ctx, roleID)
		if err != nil {
			return nil, err
		}
		result.Union(closure)
	}
	return result, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("closure cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, groupID int64, groupName string, details map[string]string, opErr error) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	entry := audit.Entry{
		ActorID:    actor.ID,
		Action:     action,
		TargetType: "group",
		TargetID:   strconv.FormatInt(groupID, 10),
		TargetName: groupName,
		Details:    details,
		Success:    opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func memberDetails(actorID int64) map[string]string {
	return map[string]string{"member_id": strconv.FormatInt(actorID, 10)}
}

func roleDetails(roleID int64) map[string]string {
	return map[string]string{"role_id": strconv.FormatInt(roleID, 10)}
}
