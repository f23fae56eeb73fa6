package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store persists audit records.
type Store interface {
	Insert(ctx context.Context, record Record) (Record, error)
}

// Hook runs after a record is durably stored. The anomaly scan enqueue uses it.
type Hook func(ctx context.Context, record Record)

// Recorder writes the append-only security audit trail. Recording is
// best-effort: storage failures are logged and swallowed so auditing never
// blocks the operation it observes. In strict mode, critical-severity
// permission mutations are the one exception and propagate the failure.
type Recorder struct {
	store  Store
	logger *slog.Logger
	strict bool
	clock  func() time.Time
	hooks  []Hook
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithStrictMode makes critical permission-mutation writes a hard dependency.
func WithStrictMode(strict bool) RecorderOption {
	return func(r *Recorder) { r.strict = strict }
}

// WithHook registers a post-write hook.
func WithHook(hook Hook) RecorderOption {
	return func(r *Recorder) { r.hooks = append(r.hooks, hook) }
}

// WithClock injects a clock, for tests.
func WithClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) { r.clock = clock }
}

// NewRecorder builds a Recorder.
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record classifies and persists one audit entry, returning the stored record.
func (r *Recorder) Record(ctx context.Context, entry Entry) (Record, error) {
	record := Record{
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		TargetType:   entry.TargetType,
		TargetID:     entry.TargetID,
		TargetName:   entry.TargetName,
		Details:      entry.Details,
		Severity:     SeverityFor(entry.Action),
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
		CreatedAt:    r.clock(),
	}

	stored, err := r.store.Insert(ctx, record)
	if err != nil {
		if r.strict && record.Severity == SeverityCritical && record.Action.IsPermissionMutation() {
			return Record{}, fmt.Errorf("audit: record %s: %w", record.Action, err)
		}
		r.logger.Error("audit write failed, continuing",
			slog.String("action", string(record.Action)),
			slog.Int64("actor_id", record.ActorID),
			slog.Any("error", err),
		)
		return record, nil
	}

	for _, hook := range r.hooks {
		hook(ctx, stored)
	}
	return stored, nil
}
