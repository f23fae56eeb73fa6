package rolegraph

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperado/cooperado/internal/platform/db"
	"github.com/cooperado/cooperado/internal/shared"
)

// Repository persists the role graph in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service. All
// structural mutations run through it so the cycle check and the edge write
// stay consistent.
type TxRepository interface {
	LoadArena(ctx context.Context) (Arena, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteRole(ctx context.Context, id int64) (int64, error)
	HasAssignments(ctx context.Context, roleID int64) (bool, error)
	InsertParentEdge(ctx context.Context, roleID, parentID int64) error
	DeleteParentEdge(ctx context.Context, roleID, parentID int64) (bool, error)
	InsertPermission(ctx context.Context, roleID, permissionID int64) error
	DeletePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithGraphTx runs fn inside a serializable transaction holding the role
// graph advisory lock. Check-then-act sequences (cycle detection, duplicate
// guards) are race-free inside it.
func (r *Repository) WithGraphTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.RoleGraphLockID); err != nil {
			return err
		}
		return fn(ctx, &txRepo{tx: tx})
	})
	return shared.MapStorageErr(err)
}

const roleColumns = `id, code, name, hierarchy_level, is_system, active, created_at, updated_at`

// GetRole fetches a role by id, including its edges and direct permissions.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return getRole(ctx, r.pool, id)
}

// GetRoleByCode fetches a role by its unique code.
func (r *Repository) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1`, code)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, err
	}
	return attachEdges(ctx, r.pool, role)
}

// ListRoles returns all roles ordered by hierarchy level, highest first.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY hierarchy_level DESC, code`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for i := range roles {
		roles[i], err = attachEdges(ctx, r.pool, roles[i])
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// LoadArena snapshots the whole graph from the latest committed state.
func (r *Repository) LoadArena(ctx context.Context) (Arena, error) {
	return loadArena(ctx, r.pool)
}

// RoleIDsForActor returns the ids of roles directly assigned to the actor.
func (r *Repository) RoleIDsForActor(ctx context.Context, actorID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, actorID)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignActor links a role to an actor.
func (r *Repository) AssignActor(ctx context.Context, actorID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, actorID, roleID)
	return shared.MapStorageErr(err)
}

// UnassignActor removes a role from an actor.
func (r *Repository) UnassignActor(ctx context.Context, actorID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, actorID, roleID)
	return shared.MapStorageErr(err)
}

func (t *txRepo) LoadArena(ctx context.Context) (Arena, error) {
	return loadArena(ctx, t.tx)
}

func (t *txRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	return getRole(ctx, t.tx, id)
}

func (t *txRepo) InsertRole(ctx context.Context, role Role) (Role, error) {
	now := time.Now().UTC()
	row := t.tx.QueryRow(ctx, `
		INSERT INTO roles (code, name, hierarchy_level, is_system, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+roleColumns,
		role.Code, role.Name, role.HierarchyLevel, role.IsSystem, role.Active, now)
	return scanRole(row)
}

func (t *txRepo) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE roles SET name = $2, hierarchy_level = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, role.HierarchyLevel, time.Now().UTC())
	return scanRole(row)
}

func (t *txRepo) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE roles SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return shared.MapStorageErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, shared.MapStorageErr(err)
	}
	return tag.RowsAffected(), nil
}

// HasAssignments reports whether the role is referenced by any user or group.
// It reads through the open transaction so the in-use decision and the delete
// see the same state. Referenced roles are only ever soft-deactivated.
func (t *txRepo) HasAssignments(ctx context.Context, roleID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1)
		    OR EXISTS (SELECT 1 FROM group_roles WHERE role_id = $1)`, roleID).Scan(&exists)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return exists, nil
}

func (t *txRepo) InsertParentEdge(ctx context.Context, roleID, parentID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO role_parents (role_id, parent_id) VALUES ($1, $2)`, roleID, parentID)
	return shared.MapStorageErr(err)
}

func (t *txRepo) DeleteParentEdge(ctx context.Context, roleID, parentID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_parents WHERE role_id = $1 AND parent_id = $2`, roleID, parentID)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) InsertPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permissionID)
	return shared.MapStorageErr(err)
}

func (t *txRepo) DeletePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRole(ctx context.Context, q querier, id int64) (Role, error) {
	row := q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, err
	}
	return attachEdges(ctx, q, role)
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Code, &role.Name, &role.HierarchyLevel, &role.IsSystem, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, shared.MapStorageErr(err)
	}
	return role, nil
}

func attachEdges(ctx context.Context, q querier, role Role) (Role, error) {
	parents, err := scanIDs(ctx, q, `SELECT parent_id FROM role_parents WHERE role_id = $1 ORDER BY parent_id`, role.ID)
	if err != nil {
		return Role{}, err
	}
	perms, err := scanIDs(ctx, q, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.ParentRoles = parents
	role.DirectPermissions = perms
	return role, nil
}

func scanIDs(ctx context.Context, q querier, sql string, args ...any) ([]int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadArena(ctx context.Context, q querier) (Arena, error) {
	arena := make(Arena)
	rows, err := q.Query(ctx, `SELECT id, active FROM roles`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for rows.Next() {
		var id int64
		var active bool
		if err := rows.Scan(&id, &active); err != nil {
			rows.Close()
			return nil, err
		}
		arena[id] = ArenaNode{Active: active}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}

	rows, err = q.Query(ctx, `SELECT role_id, parent_id FROM role_parents`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for rows.Next() {
		var roleID, parentID int64
		if err := rows.Scan(&roleID, &parentID); err != nil {
			rows.Close()
			return nil, err
		}
		node := arena[roleID]
		node.Parents = append(node.Parents, parentID)
		arena[roleID] = node
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}

	rows, err = q.Query(ctx, `SELECT role_id, permission_id FROM role_permissions`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for rows.Next() {
		var roleID, permissionID int64
		if err := rows.Scan(&roleID, &permissionID); err != nil {
			rows.Close()
			return nil, err
		}
		node := arena[roleID]
		node.Permissions = append(node.Permissions, permissionID)
		arena[roleID] = node
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}

	return arena, nil
}
