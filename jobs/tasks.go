package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecurityAnomalyScan sweeps recent audit activity for suspicious
	// patterns and raises alerts.
	TaskSecurityAnomalyScan = "security:anomaly_scan"
	// TaskAuditRetentionPurge removes audit records past the retention window.
	TaskAuditRetentionPurge = "audit:retention_purge"
)

// AnomalyScanPayload parameterises a scan run. ActorID zero scans every actor
// active inside the window.
type AnomalyScanPayload struct {
	ActorID       int64 `json:"actor_id"`
	WindowMinutes int   `json:"window_minutes"`
}

// NewAnomalyScanTask constructs an Asynq task for a detection sweep.
func NewAnomalyScanTask(payload AnomalyScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityAnomalyScan, data), nil
}

// AuditPurgePayload parameterises a retention purge run.
type AuditPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewAuditPurgeTask constructs an Asynq task for the retention purge.
func NewAuditPurgeTask(payload AuditPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetentionPurge, data), nil
}
