package audit

import "time"

// Severity classifies how security-relevant a record is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Action is the closed set of auditable operations carried over from the
// cooperative's audit trail.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	ActionLogin              Action = "login"
	ActionLogout             Action = "logout"
	ActionLoginFailed        Action = "login_failed"
	ActionSessionExpired     Action = "session_expired"
	ActionSessionInvalidated Action = "session_invalidated"
	ActionAccountLocked      Action = "account_locked"
	ActionAccountUnlocked    Action = "account_unlocked"

	ActionPasswordChanged Action = "password_changed"
	ActionPasswordReset   Action = "password_reset"

	ActionAccessDenied     Action = "access_denied"
	ActionPermissionDenied Action = "permission_denied"

	ActionUserActivated     Action = "user_activated"
	ActionUserDeactivated   Action = "user_deactivated"
	ActionMemberActivated   Action = "member_activated"
	ActionMemberDeactivated Action = "member_deactivated"

	ActionRoleCreated       Action = "role_created"
	ActionRoleUpdated       Action = "role_updated"
	ActionRoleDeleted       Action = "role_deleted"
	ActionRoleActivated     Action = "role_activated"
	ActionRoleDeactivated   Action = "role_deactivated"
	ActionRoleParentAdded   Action = "role_parent_added"
	ActionRoleParentRemoved Action = "role_parent_removed"
	ActionRoleAssigned      Action = "role_assigned"
	ActionRoleUnassigned    Action = "role_unassigned"

	ActionPermissionGranted Action = "permission_granted"
	ActionPermissionRevoked Action = "permission_revoked"

	ActionGroupCreated       Action = "group_created"
	ActionGroupUpdated       Action = "group_updated"
	ActionGroupDeactivated   Action = "group_deactivated"
	ActionGroupMemberAdded   Action = "group_member_added"
	ActionGroupMemberRemoved Action = "group_member_removed"
	ActionGroupRoleAdded     Action = "group_role_added"
	ActionGroupRoleRemoved   Action = "group_role_removed"

	ActionTransferApproved Action = "transfer_approved"
	ActionTransferRejected Action = "transfer_rejected"

	ActionAlertInvestigating Action = "alert_investigating"
	ActionAlertResolved      Action = "alert_resolved"
	ActionAlertFalseAlarm    Action = "alert_false_alarm"
)

// severityByAction is the exhaustive classification table. Mutations of the
// permission model rate high or critical; authentication noise rates medium.
var severityByAction = map[Action]Severity{
	ActionCreate: SeverityLow,
	ActionUpdate: SeverityLow,
	ActionDelete: SeverityMedium,

	ActionLogin:              SeverityLow,
	ActionLogout:             SeverityLow,
	ActionLoginFailed:        SeverityMedium,
	ActionSessionExpired:     SeverityLow,
	ActionSessionInvalidated: SeverityMedium,
	ActionAccountLocked:      SeverityHigh,
	ActionAccountUnlocked:    SeverityMedium,

	ActionPasswordChanged: SeverityMedium,
	ActionPasswordReset:   SeverityMedium,

	ActionAccessDenied:     SeverityMedium,
	ActionPermissionDenied: SeverityMedium,

	ActionUserActivated:     SeverityMedium,
	ActionUserDeactivated:   SeverityMedium,
	ActionMemberActivated:   SeverityLow,
	ActionMemberDeactivated: SeverityLow,

	ActionRoleCreated:       SeverityHigh,
	ActionRoleUpdated:       SeverityHigh,
	ActionRoleDeleted:       SeverityCritical,
	ActionRoleActivated:     SeverityHigh,
	ActionRoleDeactivated:   SeverityHigh,
	ActionRoleParentAdded:   SeverityCritical,
	ActionRoleParentRemoved: SeverityCritical,
	ActionRoleAssigned:      SeverityHigh,
	ActionRoleUnassigned:    SeverityHigh,

	ActionPermissionGranted: SeverityCritical,
	ActionPermissionRevoked: SeverityCritical,

	ActionGroupCreated:       SeverityHigh,
	ActionGroupUpdated:       SeverityHigh,
	ActionGroupDeactivated:   SeverityHigh,
	ActionGroupMemberAdded:   SeverityHigh,
	ActionGroupMemberRemoved: SeverityHigh,
	ActionGroupRoleAdded:     SeverityHigh,
	ActionGroupRoleRemoved:   SeverityHigh,

	ActionTransferApproved: SeverityMedium,
	ActionTransferRejected: SeverityMedium,

	ActionAlertInvestigating: SeverityMedium,
	ActionAlertResolved:      SeverityMedium,
	ActionAlertFalseAlarm:    SeverityMedium,
}

// SeverityFor returns the configured severity for an action. Unknown actions
// rate medium so nothing silently disappears below alert thresholds.
func SeverityFor(a Action) Severity {
	if s, ok := severityByAction[a]; ok {
		return s
	}
	return SeverityMedium
}

// permissionMutations are the actions that change who can do what. The
// anomaly detector and the strict recording mode key off this set.
var permissionMutations = map[Action]struct{}{
	ActionRoleCreated:        {},
	ActionRoleUpdated:        {},
	ActionRoleDeleted:        {},
	ActionRoleActivated:      {},
	ActionRoleDeactivated:    {},
	ActionRoleParentAdded:    {},
	ActionRoleParentRemoved:  {},
	ActionRoleAssigned:       {},
	ActionRoleUnassigned:     {},
	ActionPermissionGranted:  {},
	ActionPermissionRevoked:  {},
	ActionGroupCreated:       {},
	ActionGroupUpdated:       {},
	ActionGroupDeactivated:   {},
	ActionGroupMemberAdded:   {},
	ActionGroupMemberRemoved: {},
	ActionGroupRoleAdded:     {},
	ActionGroupRoleRemoved:   {},
}

// IsPermissionMutation reports whether the action mutates the permission model.
func (a Action) IsPermissionMutation() bool {
	_, ok := permissionMutations[a]
	return ok
}

// Record is an immutable audit trail entry. Seq is a monotonic logical
// sequence assigned by storage; window queries order by it so concurrent
// writers with skewed clocks cannot reorder history.
type Record struct {
	ID           int64
	Seq          int64
	ActorID      int64
	Action       Action
	TargetType   string
	TargetID     string
	TargetName   string
	Details      map[string]string
	Severity     Severity
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// Entry is the caller-supplied input for one audit record. Severity is
// derived from the action, never chosen by the caller.
type Entry struct {
	ActorID      int64
	Action       Action
	TargetType   string
	TargetID     string
	TargetName   string
	Details      map[string]string
	Success      bool
	ErrorMessage string
}
