package alerts

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cooperado/cooperado/internal/audit"
)

// ErrAlreadyTerminal indicates the alert reached a terminal state; terminal
// states are irreversible so resolution history stays immutable.
var ErrAlreadyTerminal = errors.New("alerts: alert already terminal")

// State is the alert lifecycle state.
type State string

const (
	StateActive        State = "active"
	StateInvestigating State = "investigating"
	StateResolved      State = "resolved"
	StateFalseAlarm    State = "false_alarm"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFalseAlarm
}

// Alert is a tracked, actionable security finding awaiting triage.
type Alert struct {
	ID                int64
	Ref               uuid.UUID
	Type              string
	State             State
	AffectedActorID   int64
	Description       string
	Details           map[string]string
	Severity          audit.Severity
	Priority          int
	ResolvedBy        int64
	ResolvedAt        time.Time
	ResolutionComment string
	CreatedAt         time.Time
}

// NewAlert carries the fields for a freshly detected alert.
type NewAlert struct {
	Type            string `validate:"required,max=64"`
	AffectedActorID int64
	Description     string `validate:"required"`
	Details         map[string]string
	Severity        audit.Severity
}

// PriorityFor maps a severity to the triage priority scale (1-5).
func PriorityFor(s audit.Severity) int {
	switch s {
	case audit.SeverityCritical:
		return 5
	case audit.SeverityHigh:
		return 4
	case audit.SeverityMedium:
		return 2
	default:
		return 1
	}
}
