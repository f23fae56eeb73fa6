package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cooperado/cooperado/internal/jobs"
)

// AuditStore is the slice of the audit repository the purge job needs.
type AuditStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPurgeJob deletes audit records older than the retention window.
type AuditPurgeJob struct {
	Store     AuditStore
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Retention time.Duration
	clock     func() time.Time
}

// NewAuditPurgeJob initialises the retention purge handler. Retention is the
// default window when the task payload does not carry one.
func NewAuditPurgeJob(store AuditStore, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPurgeJob {
	return &AuditPurgeJob{
		Store:     store,
		Logger:    logger,
		Metrics:   metrics,
		Retention: retention,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one retention purge.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("audit purge: handler not configured")
	}
	var payload AuditPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = 365 * 24 * time.Hour
	}

	tracker := j.metrics().Track(TaskAuditRetentionPurge)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().Add(-retention)
	logger := j.logger().With(slog.Time("cutoff", cutoff))
	logger.Info("starting audit purge")

	removed, err := j.Store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("purge failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed audit purge", slog.Int64("removed", removed))
	return resultErr
}

func (j *AuditPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetentionPurge))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetentionPurge))
}

func (j *AuditPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditPurgeJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
