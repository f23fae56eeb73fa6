// Package resolver answers "does actor X hold permission P" by combining
// direct role assignments, group memberships and role closures. It is a pure
// query facade: callers audit sensitive checks themselves, recording denied
// outcomes distinctly from granted ones.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cooperado/cooperado/internal/group"
	"github.com/cooperado/cooperado/internal/permission"
	"github.com/cooperado/cooperado/internal/rolegraph"
	"github.com/cooperado/cooperado/internal/shared"
)

// RolePort exposes the role graph operations the resolver needs.
type RolePort interface {
	RoleIDsForActor(ctx context.Context, actorID int64) ([]int64, error)
	GetRole(ctx context.Context, roleID int64) (rolegraph.Role, error)
	EffectivePermissions(ctx context.Context, roleID int64) (rolegraph.PermissionSet, error)
}

// GroupPort exposes the group memberships the resolver needs.
type GroupPort interface {
	GroupsForMember(ctx context.Context, actorID int64) ([]group.Group, error)
}

// Resolver is the stateless permission-resolution facade.
type Resolver struct {
	catalog *permission.Catalog
	roles   RolePort
	groups  GroupPort
	cache   *Cache
	logger  *slog.Logger
}

// New builds a Resolver. cache may be nil; closures are then computed on
// every call.
func New(catalog *permission.Catalog, roles RolePort, groups GroupPort, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog: catalog,
		roles:   roles,
		groups:  groups,
		cache:   cache,
		logger:  logger,
	}
}

// HasPermission reports whether the actor holds the permission, either via a
// directly assigned role or via a group whose roles confer it. Unknown
// codenames resolve to false.
func (r *Resolver) HasPermission(ctx context.Context, actorID int64, codename string) (bool, error) {
	perm, ok := r.catalog.ByCodename(codename)
	if !ok {
		r.logger.Debug("unknown permission codename", slog.String("codename", codename))
		return false, nil
	}
	set, err := r.effectiveSet(ctx, actorID)
	if err != nil {
		return false, err
	}
	return set.Contains(perm.ID), nil
}

// Require is the guard form of HasPermission: it returns an error wrapping
// shared.ErrPermissionDenied when the actor lacks the permission, so callers
// can abort a handler with a single errors.Is check.
func (r *Resolver) Require(ctx context.Context, actorID int64, codename string) error {
	ok, err := r.HasPermission(ctx, actorID, codename)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: actor %d lacks %s", shared.ErrPermissionDenied, actorID, codename)
	}
	return nil
}

// EffectivePermissions returns every permission codename the actor holds,
// sorted, for authorization summaries.
func (r *Resolver) EffectivePermissions(ctx context.Context, actorID int64) ([]string, error) {
	set, err := r.effectiveSet(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return r.catalog.Codenames(set), nil
}

func (r *Resolver) effectiveSet(ctx context.Context, actorID int64) (rolegraph.PermissionSet, error) {
	result := make(rolegraph.PermissionSet)
	seen := make(map[int64]struct{})

	directIDs, err := r.roles.RoleIDsForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := r.unionRoles(ctx, directIDs, seen, result); err != nil {
		return nil, err
	}

	groups, err := r.groups.GroupsForMember(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if !g.Active {
			continue
		}
		if err := r.unionRoles(ctx, g.Roles, seen, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Resolver) unionRoles(ctx context.Context, roleIDs []int64, seen map[int64]struct{}, result rolegraph.PermissionSet) error {
	for _, roleID := range roleIDs {
		if _, done := seen[roleID]; done {
			continue
		}
		seen[roleID] = struct{}{}

		role, err := r.roles.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if !role.Active {
			continue
		}
		id := roleID
		closure, err := r.cache.Closure(ctx, id, func(ctx context.Context) (rolegraph.PermissionSet, error) {
			return r.roles.EffectivePermissions(ctx, id)
		})
		if err != nil {
			return err
		}
		result.Union(closure)
	}
	return nil
}
