package permission

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperado/cooperado/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the permission catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all permissions ordered by codename.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, codename, category, description FROM permissions ORDER BY codename`)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		var category string
		if err := rows.Scan(&p.ID, &p.Codename, &category, &p.Description); err != nil {
			return nil, err
		}
		p.Category = Category(category)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapStorageErr(err)
	}
	return perms, nil
}

// Ensure upserts a permission keeping the codename stable and returns the
// stored row. Existing rows keep their id so references never move.
func (r *Repository) Ensure(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (codename, category, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (codename) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, codename, category, description`,
		strings.TrimSpace(p.Codename), string(p.Category), strings.TrimSpace(p.Description))
	var stored Permission
	var category string
	if err := row.Scan(&stored.ID, &stored.Codename, &category, &stored.Description); err != nil {
		return Permission{}, shared.MapStorageErr(err)
	}
	stored.Category = Category(category)
	return stored, nil
}

// LoadCatalog reads every stored permission into an immutable catalog.
func (r *Repository) LoadCatalog(ctx context.Context) (*Catalog, error) {
	perms, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(perms)
}

// Seed installs the default permission grid, leaving existing rows untouched
// apart from refreshed descriptions.
func (r *Repository) Seed(ctx context.Context) error {
	for _, p := range Defaults() {
		if _, err := r.Ensure(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
