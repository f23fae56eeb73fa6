package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cooperado/cooperado/internal/anomaly"
	jobmetrics "github.com/cooperado/cooperado/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AnomalyScanJob sweeps recent audit activity for suspicious patterns and
// raises security alerts for the matches.
type AnomalyScanJob struct {
	Detector *anomaly.Detector
	Source   anomaly.RecordSource
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Window   time.Duration
	clock    func() time.Time
}

// NewAnomalyScanJob initialises the anomaly scan handler. Window is the
// default sliding window when the task payload does not carry one.
func NewAnomalyScanJob(detector *anomaly.Detector, source anomaly.RecordSource, window time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AnomalyScanJob {
	return &AnomalyScanJob{
		Detector: detector,
		Source:   source,
		Logger:   logger,
		Metrics:  metrics,
		Window:   window,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one detection sweep.
func (j *AnomalyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Detector == nil {
		return errors.New("anomaly scan: handler not configured")
	}
	var payload AnomalyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window := j.Window
	if payload.WindowMinutes > 0 {
		window = time.Duration(payload.WindowMinutes) * time.Minute
	}
	if window <= 0 {
		window = time.Hour
	}

	start := j.now()
	tracker := j.metrics().Track(TaskSecurityAnomalyScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Duration("window", window),
		slog.Int64("actor_id", payload.ActorID),
	)
	logger.Info("starting anomaly scan")

	actors := []int64{payload.ActorID}
	if payload.ActorID == 0 {
		var err error
		actors, err = j.Source.ActiveActorsSince(ctx, start.Add(-window))
		if err != nil {
			resultErr = err
			logger.Error("list active actors", slog.Any("error", err))
			return resultErr
		}
	}

	var createdTotal int
	for _, actorID := range actors {
		created, err := j.Detector.ScanAndRaise(ctx, actorID, window)
		if err != nil {
			resultErr = err
			logger.Error("scan failed", slog.Int64("actor_id", actorID), slog.Any("error", err))
			return resultErr
		}
		for _, alert := range created {
			j.metrics().AddAlerts(alert.Type, string(alert.Severity), 1)
		}
		createdTotal += len(created)
	}

	logger.Info("completed anomaly scan",
		slog.Int("actors", len(actors)),
		slog.Int("alerts_created", createdTotal),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AnomalyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityAnomalyScan))
	}
	return slog.Default().With(slog.String("job", TaskSecurityAnomalyScan))
}

func (j *AnomalyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AnomalyScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
