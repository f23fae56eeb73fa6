package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/platform/db"
	"github.com/cooperado/cooperado/internal/shared"
)

// Repository persists security alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional alert operations so lifecycle guards are
// race-free.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Alert, error)
	UpdateState(ctx context.Context, alert Alert) error
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

const alertColumns = `id, ref, alert_type, state, affected_actor_id, description, details, severity, priority, resolved_by, resolved_at, resolution_comment, created_at`

// Insert persists a new alert.
func (r *Repository) Insert(ctx context.Context, alert Alert) (Alert, error) {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return Alert{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO security_alerts (ref, alert_type, state, affected_actor_id, description, details, severity, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+alertColumns,
		alert.Ref, alert.Type, string(alert.State), alert.AffectedActorID, alert.Description,
		details, string(alert.Severity), alert.Priority, alert.CreatedAt)
	return scanAlert(row)
}

// Get fetches an alert by id.
func (r *Repository) Get(ctx context.Context, id int64) (Alert, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = $1`, id)
	return scanAlert(row)
}

// ListFilter narrows alert listings.
type ListFilter struct {
	Type            string
	Severity        string
	AffectedActorID int64
	MinPriority     int
}

// ListActive returns open (non-terminal) alerts ordered by priority then age.
func (r *Repository) ListActive(ctx context.Context, filter ListFilter, page, perPage int) ([]Alert, shared.Pagination, error) {
	where := `state IN ('active', 'investigating')`
	var args []any
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += ` AND alert_type = $` + itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		where += ` AND severity = $` + itoa(len(args))
	}
	if filter.AffectedActorID != 0 {
		args = append(args, filter.AffectedActorID)
		where += ` AND affected_actor_id = $` + itoa(len(args))
	}
	if filter.MinPriority > 0 {
		args = append(args, filter.MinPriority)
		where += ` AND priority >= $` + itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, shared.MapStorageErr(err)
	}
	paging := shared.NewPagination(page, perPage, total)

	args = append(args, paging.PerPage, paging.Offset())
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM security_alerts
		WHERE `+where+`
		ORDER BY priority DESC, created_at
		LIMIT $`+itoa(len(args)-1)+` OFFSET $`+itoa(len(args)), args...)
	if err != nil {
		return nil, shared.Pagination{}, shared.MapStorageErr(err)
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, shared.MapStorageErr(err)
	}
	return alerts, paging, nil
}

// HasOpen reports whether an open alert of the given type already exists for
// the actor. The periodic scan uses it to avoid duplicate alerts.
func (r *Repository) HasOpen(ctx context.Context, actorID int64, alertType string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM security_alerts
			WHERE affected_actor_id = $1 AND alert_type = $2 AND state IN ('active', 'investigating')
		)`, actorID, alertType).Scan(&exists)
	if err != nil {
		return false, shared.MapStorageErr(err)
	}
	return exists, nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Alert, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = $1 FOR UPDATE`, id)
	return scanAlert(row)
}

func (t *txRepo) UpdateState(ctx context.Context, alert Alert) error {
	var resolvedAt any
	if !alert.ResolvedAt.IsZero() {
		resolvedAt = alert.ResolvedAt
	}
	var resolvedBy any
	if alert.ResolvedBy != 0 {
		resolvedBy = alert.ResolvedBy
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE security_alerts
		SET state = $2, resolved_by = $3, resolved_at = $4, resolution_comment = $5
		WHERE id = $1`,
		alert.ID, string(alert.State), resolvedBy, resolvedAt, alert.ResolutionComment)
	if err != nil {
		return shared.MapStorageErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var alert Alert
	var state, severity string
	var details []byte
	var resolvedBy *int64
	var resolvedAt *time.Time
	err := row.Scan(&alert.ID, &alert.Ref, &alert.Type, &state, &alert.AffectedActorID, &alert.Description,
		&details, &severity, &alert.Priority, &resolvedBy, &resolvedAt, &alert.ResolutionComment, &alert.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Alert{}, shared.ErrNotFound
		}
		return Alert{}, shared.MapStorageErr(err)
	}
	alert.State = State(state)
	alert.Severity = audit.Severity(severity)
	if resolvedBy != nil {
		alert.ResolvedBy = *resolvedBy
	}
	if resolvedAt != nil {
		alert.ResolvedAt = *resolvedAt
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &alert.Details); err != nil {
			return Alert{}, err
		}
	}
	return alert, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
