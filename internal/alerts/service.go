package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Insert(ctx context.Context, alert Alert) (Alert, error)
	Get(ctx context.Context, id int64) (Alert, error)
	ListActive(ctx context.Context, filter ListFilter, page, perPage int) ([]Alert, shared.Pagination, error)
	HasOpen(ctx context.Context, actorID int64, alertType string) (bool, error)
}

// AuditPort abstracts the audit recorder.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Record, error)
}

// Service manages the security alert lifecycle: active, optionally
// investigating, then resolved or false_alarm. Both end states are terminal.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	validate *validator.Validate
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService builds a Service.
func NewService(repo RepositoryPort, auditor AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    auditor,
		validate: validator.New(),
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a clock, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create persists a new alert in the active state with priority derived from
// its severity.
func (s *Service) Create(ctx context.Context, input NewAlert) (Alert, error) {
	if err := s.validate.Struct(input); err != nil {
		return Alert{}, fmt.Errorf("alerts: invalid alert: %w", err)
	}
	alert := Alert{
		Ref:             uuid.New(),
		Type:            input.Type,
		State:           StateActive,
		AffectedActorID: input.AffectedActorID,
		Description:     input.Description,
		Details:         input.Details,
		Severity:        input.Severity,
		Priority:        PriorityFor(input.Severity),
		CreatedAt:       s.clock(),
	}
	created, err := s.repo.Insert(ctx, alert)
	if err != nil {
		return Alert{}, err
	}
	s.logger.Warn("security alert created",
		slog.String("ref", created.Ref.String()),
		slog.String("type", created.Type),
		slog.String("severity", string(created.Severity)),
		slog.Int("priority", created.Priority),
		slog.Int64("affected_actor_id", created.AffectedActorID),
	)
	return created, nil
}

// Get fetches an alert.
func (s *Service) Get(ctx context.Context, id int64) (Alert, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns open alerts matching the filter.
func (s *Service) ListActive(ctx context.Context, filter ListFilter, page, perPage int) ([]Alert, shared.Pagination, error) {
	return s.repo.ListActive(ctx, filter, page, perPage)
}

// HasOpenFor reports whether an open alert of the type exists for the actor.
func (s *Service) HasOpenFor(ctx context.Context, actorID int64, alertType string) (bool, error) {
	return s.repo.HasOpen(ctx, actorID, alertType)
}

// StartInvestigation moves an active alert into investigating. The step is
// optional; active alerts may be resolved directly.
func (s *Service) StartInvestigation(ctx context.Context, alertID int64, actorID int64) (Alert, error) {
	return s.transition(ctx, alertID, actorID, StateInvestigating, "", audit.ActionAlertInvestigating)
}

// Resolve closes the alert as handled.
func (s *Service) Resolve(ctx context.Context, alertID int64, actorID int64, comment string) (Alert, error) {
	return s.transition(ctx, alertID, actorID, StateResolved, comment, audit.ActionAlertResolved)
}

// MarkFalseAlarm closes the alert as a false positive.
func (s *Service) MarkFalseAlarm(ctx context.Context, alertID int64, actorID int64, comment string) (Alert, error) {
	return s.transition(ctx, alertID, actorID, StateFalseAlarm, comment, audit.ActionAlertFalseAlarm)
}

func (s *Service) transition(ctx context.Context, alertID, actorID int64, next State, comment string, action audit.Action) (Alert, error) {
	var updated Alert
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alert, err := tx.GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		if alert.State.Terminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, alert.State)
		}
		alert.State = next
		if next.Terminal() {
			alert.ResolvedBy = actorID
			alert.ResolvedAt = s.clock()
			alert.ResolutionComment = comment
		}
		if err := tx.UpdateState(ctx, alert); err != nil {
			return err
		}
		updated = alert
		return nil
	})
	s.record(ctx, action, alertID, comment, err)
	if err != nil {
		return Alert{}, err
	}
	return updated, nil
}

func (s *Service) record(ctx context.Context, action audit.Action, alertID int64, comment string, opErr error) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	var details map[string]string
	if comment != "" {
		details = map[string]string{"comment": comment}
	}
	entry := audit.Entry{
		ActorID:    actor.ID,
		Action:     action,
		TargetType: "security_alert",
		TargetID:   strconv.FormatInt(alertID, 10),
		Details:    details,
		Success:    opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", slog.String("action", string(action)), slog.Any("error", err))
	}
}
