package rolegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/shared"
)

var (
	// ErrCycleDetected indicates the requested parent edge would make a role
	// its own ancestor.
	ErrCycleDetected = errors.New("rolegraph: cycle detected")
	// ErrSystemRoleImmutable guards built-in roles against mutation.
	ErrSystemRoleImmutable = errors.New("rolegraph: system role immutable")
	// ErrDuplicateCode indicates a role code collision.
	ErrDuplicateCode = errors.New("rolegraph: duplicate role code")
	// ErrAlreadyParent indicates the parent edge already exists.
	ErrAlreadyParent = errors.New("rolegraph: role already has this parent")
	// ErrNotParent indicates the parent edge does not exist.
	ErrNotParent = errors.New("rolegraph: role does not have this parent")
	// ErrPermissionAlreadyGranted indicates a duplicate direct grant.
	ErrPermissionAlreadyGranted = errors.New("rolegraph: permission already granted")
	// ErrPermissionNotGranted indicates a revoke of an absent direct grant.
	ErrPermissionNotGranted = errors.New("rolegraph: permission not granted")
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithGraphTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	LoadArena(ctx context.Context) (Arena, error)
	RoleIDsForActor(ctx context.Context, actorID int64) ([]int64, error)
	AssignActor(ctx context.Context, actorID, roleID int64) error
	UnassignActor(ctx context.Context, actorID, roleID int64) error
}

// AuditPort abstracts the audit recorder.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Record, error)
}

// CacheInvalidator bumps the graph version after any mutation so memoized
// closures are discarded.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates role graph mutations and closure queries.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	cache    CacheInvalidator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds a Service.
func NewService(repo RepositoryPort, auditor AuditPort, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    auditor,
		cache:    cache,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Code           string `validate:"required,max=50"`
	Name           string `validate:"required,max=100"`
	HierarchyLevel int    `validate:"gte=0,lte=100"`
	IsSystem       bool
}

// CreateRole inserts a new role with no parents and no permissions.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("rolegraph: invalid role: %w", err)
	}
	role := Role{
		Code:           strings.ToUpper(strings.TrimSpace(input.Code)),
		Name:           NormalizeName(input.Name),
		HierarchyLevel: input.HierarchyLevel,
		IsSystem:       input.IsSystem,
		Active:         true,
	}
	var created Role
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertRole(ctx, role)
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, role.Code)
		}
		return err
	})
	s.record(ctx, audit.ActionRoleCreated, created.ID, role.Code, nil, err)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateRoleInput carries mutable role fields.
type UpdateRoleInput struct {
	Name           string `validate:"required,max=100"`
	HierarchyLevel int    `validate:"gte=0,lte=100"`
}

// UpdateRole updates name and hierarchy level. System roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, roleID int64, input UpdateRoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("rolegraph: invalid role: %w", err)
	}
	var updated Role
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}
		role.Name = NormalizeName(input.Name)
		role.HierarchyLevel = input.HierarchyLevel
		updated, err = tx.UpdateRole(ctx, role)
		return err
	})
	s.record(ctx, audit.ActionRoleUpdated, roleID, updated.Code, nil, err)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// DeleteRole removes a role. Roles referenced by users or groups are
// deactivated instead of deleted so history stays intact; system roles are
// never removed.
func (s *Service) DeleteRole(ctx context.Context, roleID int64) error {
	var deactivated bool
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}
		inUse, err := tx.HasAssignments(ctx, roleID)
		if err != nil {
			return err
		}
		if inUse {
			deactivated = true
			return tx.SetActive(ctx, roleID, false)
		}
		rows, err := tx.DeleteRole(ctx, roleID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	action := audit.ActionRoleDeleted
	if deactivated {
		action = audit.ActionRoleDeactivated
		s.logger.Info("role in use, deactivated instead of deleted", slog.Int64("role_id", roleID))
	}
	s.record(ctx, action, roleID, "", nil, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeactivateRole soft-disables a role.
func (s *Service) DeactivateRole(ctx context.Context, roleID int64) error {
	return s.setActive(ctx, roleID, false, audit.ActionRoleDeactivated)
}

// ActivateRole re-enables a role.
func (s *Service) ActivateRole(ctx context.Context, roleID int64) error {
	return s.setActive(ctx, roleID, true, audit.ActionRoleActivated)
}

func (s *Service) setActive(ctx context.Context, roleID int64, active bool, action audit.Action) error {
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}
		return tx.SetActive(ctx, roleID, active)
	})
	s.record(ctx, action, roleID, "", nil, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddParent adds parentID as a parent of roleID. The cycle check runs against
// an arena snapshot taken inside the same transaction as the edge insert, so
// no concurrent writer can sneak a cycle past it.
func (s *Service) AddParent(ctx context.Context, roleID, parentID int64) error {
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}
		if _, err := tx.GetRole(ctx, parentID); err != nil {
			return err
		}
		for _, existing := range role.ParentRoles {
			if existing == parentID {
				return ErrAlreadyParent
			}
		}
		arena, err := tx.LoadArena(ctx)
		if err != nil {
			return err
		}
		if arena.WouldCycle(roleID, parentID) {
			return fmt.Errorf("%w: role %d cannot inherit from %d", ErrCycleDetected, roleID, parentID)
		}
		return tx.InsertParentEdge(ctx, roleID, parentID)
	})
	s.record(ctx, audit.ActionRoleParentAdded, roleID, "", map[string]string{"parent_id": strconv.FormatInt(parentID, 10)}, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RemoveParent removes a parent edge.
func (s *Service) RemoveParent(ctx context.Context, roleID, parentID int64) error {
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}
		removed, err := tx.DeleteParentEdge(ctx, roleID, parentID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotParent
		}
		return nil
	})
	s.record(ctx, audit.ActionRoleParentRemoved, roleID, "", map[string]string{"parent_id": strconv.FormatInt(parentID, 10)}, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GrantPermission adds a direct permission to the role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		for _, existing := range role.DirectPermissions {
			if existing == permissionID {
				return ErrPermissionAlreadyGranted
			}
		}
		return tx.InsertPermission(ctx, roleID, permissionID)
	})
	s.record(ctx, audit.ActionPermissionGranted, roleID, "", map[string]string{"permission_id": strconv.FormatInt(permissionID, 10)}, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RevokePermission removes a direct permission from the role. The closure of
// every descendant loses the permission unless another ancestor grants it.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	err := s.repo.WithGraphTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		removed, err := tx.DeletePermission(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrPermissionNotGranted
		}
		return nil
	})
	s.record(ctx, audit.ActionPermissionRevoked, roleID, "", map[string]string{"permission_id": strconv.FormatInt(permissionID, 10)}, err)
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AssignActor gives an actor a direct role.
func (s *Service) AssignActor(ctx context.Context, actorID, roleID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	err := s.repo.AssignActor(ctx, actorID, roleID)
	s.record(ctx, audit.ActionRoleAssigned, roleID, "", map[string]string{"target_actor_id": strconv.FormatInt(actorID, 10)}, err)
	return err
}

// UnassignActor removes a direct role from an actor.
func (s *Service) UnassignActor(ctx context.Context, actorID, roleID int64) error {
	err := s.repo.UnassignActor(ctx, actorID, roleID)
	s.record(ctx, audit.ActionRoleUnassigned, roleID, "", map[string]string{"target_actor_id": strconv.FormatInt(actorID, 10)}, err)
	return err
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, roleID int64) (Role, error) {
	return s.repo.GetRole(ctx, roleID)
}

// GetRoleByCode fetches a role by its code. Codes are normalized the same
// way CreateRole stores them, so lookups are case-insensitive.
func (s *Service) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	return s.repo.GetRoleByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// RoleIDsForActor returns the actor's direct role ids.
func (s *Service) RoleIDsForActor(ctx context.Context, actorID int64) ([]int64, error) {
	return s.repo.RoleIDsForActor(ctx, actorID)
}

// EffectivePermissions computes the closure of roleID against the latest
// committed graph.
func (s *Service) EffectivePermissions(ctx context.Context, roleID int64) (PermissionSet, error) {
	arena, err := s.repo.LoadArena(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := arena[roleID]; !ok {
		return nil, shared.ErrNotFound
	}
	return arena.Closure(roleID), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("closure cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, roleID int64, roleCode string, details map[string]string, opErr error) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	entry := audit.Entry{
		ActorID:    actor.ID,
		Action:     action,
		TargetType: "role",
		TargetID:   strconv.FormatInt(roleID, 10),
		TargetName: roleCode,
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
