package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cooperado/cooperado/internal/alerts"
	"github.com/cooperado/cooperado/internal/audit"
)

// RecordSource reads the audit records a scan inspects.
type RecordSource interface {
	ListForActorSince(ctx context.Context, actorID int64, since time.Time) ([]audit.Record, error)
	ActiveActorsSince(ctx context.Context, since time.Time) ([]int64, error)
}

// AlertSink receives findings promoted to alerts.
type AlertSink interface {
	Create(ctx context.Context, input alerts.NewAlert) (alerts.Alert, error)
	HasOpenFor(ctx context.Context, actorID int64, alertType string) (bool, error)
}

// Finding is one detected pattern for an actor within the scan window.
// Evidence carries at most the first ten triggering records.
type Finding struct {
	Type     FindingType
	Severity audit.Severity
	ActorID  int64
	Count    int
	Window   time.Duration
	Evidence []audit.Record
}

// Detector evaluates the fixed rule table over recent audit activity and
// raises alerts for matches.
type Detector struct {
	source RecordSource
	sink   AlertSink
	rules  []Rule
	logger *slog.Logger
	clock  func() time.Time
}

// NewDetector builds a Detector with the built-in rules.
func NewDetector(source RecordSource, sink AlertSink, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		source: source,
		sink:   sink,
		rules:  Rules(),
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a clock, for tests.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Scan evaluates every rule against the actor's records inside the window.
// Counts strictly below a rule's threshold produce no finding.
func (d *Detector) Scan(ctx context.Context, actorID int64, window time.Duration) ([]Finding, error) {
	since := d.clock().Add(-window)
	records, err := d.source.ListForActorSince(ctx, actorID, since)
	if err != nil {
		return nil, fmt.Errorf("anomaly: load records for actor %d: %w", actorID, err)
	}
	var findings []Finding
	for _, rule := range d.rules {
		var matched []audit.Record
		for _, rec := range records {
			if rule.Matches(rec) {
				matched = append(matched, rec)
			}
		}
		if len(matched) < rule.Threshold {
			continue
		}
		evidence := matched
		if len(evidence) > maxEvidence {
			evidence = evidence[:maxEvidence]
		}
		findings = append(findings, Finding{
			Type:     rule.Type,
			Severity: rule.Severity,
			ActorID:  actorID,
			Count:    len(matched),
			Window:   window,
			Evidence: evidence,
		})
	}
	return findings, nil
}

// Raise promotes a finding to an alert unless an open alert of the same type
// already exists for the actor. It returns the created alert and whether one
// was created.
func (d *Detector) Raise(ctx context.Context, finding Finding) (alerts.Alert, bool, error) {
	open, err := d.sink.HasOpenFor(ctx, finding.ActorID, string(finding.Type))
	if err != nil {
		return alerts.Alert{}, false, err
	}
	if open {
		d.logger.Debug("open alert exists, skipping",
			slog.String("type", string(finding.Type)),
			slog.Int64("actor_id", finding.ActorID),
		)
		return alerts.Alert{}, false, nil
	}
	created, err := d.sink.Create(ctx, alerts.NewAlert{
		Type:            string(finding.Type),
		AffectedActorID: finding.ActorID,
		Description:     describeFinding(finding),
		Details:         findingDetails(finding),
		Severity:        finding.Severity,
	})
	if err != nil {
		return alerts.Alert{}, false, err
	}
	return created, true, nil
}

// ScanAndRaise runs Scan for the actor and raises an alert per finding,
// returning the alerts created.
func (d *Detector) ScanAndRaise(ctx context.Context, actorID int64, window time.Duration) ([]alerts.Alert, error) {
	findings, err := d.Scan(ctx, actorID, window)
	if err != nil {
		return nil, err
	}
	var created []alerts.Alert
	for _, finding := range findings {
		alert, ok, err := d.Raise(ctx, finding)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, alert)
		}
	}
	return created, nil
}

func describeFinding(f Finding) string {
	var what string
	for _, rule := range Rules() {
		if rule.Type == f.Type {
			what = rule.Description
			break
		}
	}
	return fmt.Sprintf("%s: %d occurrences for actor %d within %s", what, f.Count, f.ActorID, f.Window)
}

func findingDetails(f Finding) map[string]string {
	seqs := make([]string, 0, len(f.Evidence))
	for _, rec := range f.Evidence {
		seqs = append(seqs, strconv.FormatInt(rec.Seq, 10))
	}
	return map[string]string{
		"count":         strconv.Itoa(f.Count),
		"window":        f.Window.String(),
		"evidence_seqs": strings.Join(seqs, ","),
	}
}
