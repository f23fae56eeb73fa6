package group

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperado/cooperado/internal/platform/db"
	"github.com/cooperado/cooperado/internal/shared"
)

// Repository persists groups in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional membership operations. Duplicate checks
// run inside the same transaction as the write so they stay race-free.
type TxRepository interface {
	GetGroup(ctx context.Context, id int64) (Group, error)
	InsertGroup(ctx context.Context, g Group) (Group, error)
	UpdateGroup(ctx context.Context, g Group) (Group, error)
	SetActive(ctx context.Context, id int64, active bool) error
	InsertMember(ctx context.Context, groupID, actorID int64) error
	DeleteMember(ctx context.Context, groupID, actorID int64) (bool, error)
	InsertRole(ctx context.Context, groupID, roleID int64) error
	DeleteRole(ctx context.Context, groupID, roleID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return shared.MapStorageErr(err)
}

// GetGroup fetches a group with its roles and members.
func (r *Repository) GetGroup(ctx context.Context, id int64) (Group, error) {
	return getGroup(ctx, r.pool, id)
}

// ListGroups returns all groups ordered by name.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, active, created_at, updated_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for i := range groups {
		groups[i], err = attachEdges(ctx, r.pool, groups[i])
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// GroupsForMember returns the groups the actor belongs to.
func (r *Repository) GroupsForMember(ctx context.Context, actorID int64) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name, g.active, g.created_at, g.updated_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.name`, actorID)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}
	for i := range groups {
		groups[i], err = attachEdges(ctx, r.pool, groups[i])
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (t *txRepo) GetGroup(ctx context.Context, id int64) (Group, error) {
	return getGroup(ctx, t.tx, id)
}

func (t *txRepo) InsertGroup(ctx context.Context, g Group) (Group, error) {
	now := time.Now().UTC()
	row := t.tx.QueryRow(ctx, `
		INSERT INTO groups (name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, active, created_at, updated_at`, g.Name, g.Active, now)
	return scanGroup(row)
}

func (t *txRepo) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE groups SET name = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, name, active, created_at, updated_at`, g.ID, g.Name, time.Now().UTC())
	return scanGroup(row)
}

func (t *txRepo) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE groups SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return shared.MapStorageErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertMember(ctx context.Context, groupID, actorID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, groupID, actorID)
	return shared.MapStorageErr(err)
}

func (t *txRepo) DeleteMember(ctx context.Context, groupID, actorID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, actorID)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) InsertRole(ctx context.Context, groupID, roleID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)`, groupID, roleID)
	return shared.MapStorageErr(err)
}

func (t *txRepo) DeleteRole(ctx context.Context, groupID, roleID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM group_roles WHERE group_id = $1 AND role_id = $2`, groupID, roleID)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getGroup(ctx context.Context, q querier, id int64) (Group, error) {
	row := q.QueryRow(ctx, `SELECT id, name, active, created_at, updated_at FROM groups WHERE id = $1`, id)
	g, err := scanGroup(row)
	if err != nil {
		return Group{}, err
	}
	return attachEdges(ctx, q, g)
}

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, shared.ErrNotFound
		}
		return Group{}, shared.MapStorageErr(err)
	}
	return g, nil
}

func attachEdges(ctx context.Context, q querier, g Group) (Group, error) {
	roles, err := scanIDs(ctx, q, `SELECT role_id FROM group_roles WHERE group_id = $1 ORDER BY role_id`, g.ID)
	if err != nil {
		return Group{}, err
	}
	members, err := scanIDs(ctx, q, `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, g.ID)
	if err != nil {
		return Group{}, err
	}
	g.Roles = roles
	g.Members = members
	return g, nil
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
