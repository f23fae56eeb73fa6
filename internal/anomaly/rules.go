package anomaly

import "github.com/cooperado/cooperado/internal/audit"

// FindingType names the pattern a rule detects.
type FindingType string

const (
	FindingMultipleFailedAttempts    FindingType = "multiple_failed_attempts"
	FindingFrequentDeniedAccess      FindingType = "frequent_denied_access"
	FindingCriticalPermissionChanges FindingType = "critical_permission_changes"
)

// maxEvidence bounds the triggering records attached to a finding for
// operator review.
const maxEvidence = 10

// Rule is one fixed-threshold detection rule over an actor's recent audit
// records.
type Rule struct {
	Type        FindingType
	Threshold   int
	Severity    audit.Severity
	Description string
	Matches     func(audit.Record) bool
}

// Rules returns the built-in rule table.
func Rules() []Rule {
	return []Rule{
		{
			Type:        FindingMultipleFailedAttempts,
			Threshold:   5,
			Severity:    audit.SeverityHigh,
			Description: "repeated failed login attempts",
			Matches: func(r audit.Record) bool {
				return r.Action == audit.ActionLoginFailed
			},
		},
		{
			Type:        FindingFrequentDeniedAccess,
			Threshold:   10,
			Severity:    audit.SeverityMedium,
			Description: "frequent denied access attempts",
			Matches: func(r audit.Record) bool {
				return r.Action == audit.ActionPermissionDenied || r.Action == audit.ActionAccessDenied
			},
		},
		{
			Type:        FindingCriticalPermissionChanges,
			Threshold:   3,
			Severity:    audit.SeverityCritical,
			Description: "burst of high-impact permission changes",
			Matches: func(r audit.Record) bool {
				return r.Action.IsPermissionMutation() && r.Severity.Rank() >= audit.SeverityHigh.Rank()
			},
		},
	}
}
