package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperado/cooperado/internal/shared"
)

// Repository persists audit records in PostgreSQL. The table is append-only;
// the only delete path is the retention purge.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, seq, actor_id, action, target_type, target_id, target_name, details, severity, success, error_message, created_at`

// Insert appends one record and returns it with id and seq assigned.
func (r *Repository) Insert(ctx context.Context, record Record) (Record, error) {
	details, err := json.Marshal(record.Details)
	if err != nil {
		return Record{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO audit_records (actor_id, action, target_type, target_id, target_name, details, severity, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+recordColumns,
		record.ActorID, string(record.Action), record.TargetType, record.TargetID, record.TargetName,
		details, string(record.Severity), record.Success, record.ErrorMessage, record.CreatedAt)
	return scanRecord(row)
}

// Filter narrows audit listings.
type Filter struct {
	Action   Action
	Severity Severity
	Success  *bool
	From     time.Time
	To       time.Time
}

// ListForActor returns the actor's records, newest first.
func (r *Repository) ListForActor(ctx context.Context, actorID int64, filter Filter, page, perPage int) ([]Record, shared.Pagination, error) {
	return r.list(ctx, `actor_id = $1`, []any{actorID}, filter, page, perPage)
}

// ListForTarget returns records affecting one target, newest first.
func (r *Repository) ListForTarget(ctx context.Context, targetType, targetID string, filter Filter, page, perPage int) ([]Record, shared.Pagination, error) {
	return r.list(ctx, `target_type = $1 AND target_id = $2`, []any{targetType, targetID}, filter, page, perPage)
}

func (r *Repository) list(ctx context.Context, where string, args []any, filter Filter, page, perPage int) ([]Record, shared.Pagination, error) {
	where, args = applyFilter(where, args, filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, shared.MapStorageErr(err)
	}
	paging := shared.NewPagination(page, perPage, total)

	args = append(args, paging.PerPage, paging.Offset())
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM audit_records
		WHERE `+where+`
		ORDER BY seq DESC
		LIMIT $`+itoa(len(args)-1)+` OFFSET $`+itoa(len(args)), args...)
	if err != nil {
		return nil, shared.Pagination{}, shared.MapStorageErr(err)
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, paging, nil
}

// ListForActorSince returns the actor's records inside [since, now] in
// sequence order. The anomaly detector's window logic depends on it.
func (r *Repository) ListForActorSince(ctx context.Context, actorID int64, since time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM audit_records
		WHERE actor_id = $1 AND created_at >= $2
		ORDER BY seq`, actorID, since)
	if err != nil {
		return nil, shared.MapStorageErr(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ActiveActorsSince lists the distinct actors with audit activity inside the window.
func (r *Repository) ActiveActorsSince(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT actor_id FROM audit_records WHERE created_at >= $1 AND actor_id <> 0`, since)
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

// Stats aggregates the audit trail over a date range.
type Stats struct {
	Total      int
	Failures   int
	ByAction   map[Action]int
	BySeverity map[Severity]int
}

// Statistics computes aggregate counts for [from, to].
func (r *Repository) Statistics(ctx context.Context, from, to time.Time) (Stats, error) {
	stats := Stats{
		ByAction:   make(map[Action]int),
		BySeverity: make(map[Severity]int),
	}
	rows, err := r.pool.Query(ctx, `
		SELECT action, severity, success, COUNT(*)
		FROM audit_records
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY action, severity, success`, from, to)
	if err != nil {
		return Stats{}, shared.MapStorageErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var action, severity string
		var success bool
		var count int
		if err := rows.Scan(&action, &severity, &success, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		stats.ByAction[Action(action)] += count
		stats.BySeverity[Severity(severity)] += count
		if !success {
			stats.Failures += count
		}
	}
	return stats, rows.Err()
}

// PurgeOlderThan removes records past the retention window and reports how
// many were deleted.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, shared.MapStorageErr(err)
	}
	return tag.RowsAffected(), nil
}

func applyFilter(where string, args []any, filter Filter) (string, []any) {
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		where += ` AND action = $` + itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		where += ` AND severity = $` + itoa(len(args))
	}
	if filter.Success != nil {
		args = append(args, *filter.Success)
		where += ` AND success = $` + itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND created_at >= $` + itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND created_at <= $` + itoa(len(args))
	}
	return where, args
}

func scanRecord(row pgx.Row) (Record, error) {
	var record Record
	var action, severity string
	var details []byte
	err := row.Scan(&record.ID, &record.Seq, &record.ActorID, &action, &record.TargetType, &record.TargetID,
		&record.TargetName, &details, &severity, &record.Success, &record.ErrorMessage, &record.CreatedAt)
	if err != nil {
		return Record{}, shared.MapStorageErr(err)
	}
	record.Action = Action(action)
	record.Severity = Severity(severity)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &record.Details); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
