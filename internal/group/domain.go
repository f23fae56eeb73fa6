package group

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyMember indicates the actor is already in the group.
	ErrAlreadyMember = errors.New("group: already a member")
	// ErrNotMember indicates the actor is not in the group.
	ErrNotMember = errors.New("group: not a member")
	// ErrRoleAlreadyAttached indicates the role is already attached to the group.
	ErrRoleAlreadyAttached = errors.New("group: role already attached")
	// ErrRoleNotAttached indicates the role is not attached to the group.
	ErrRoleNotAttached = errors.New("group: role not attached")
	// ErrDuplicateName indicates a group name collision.
	ErrDuplicateName = errors.New("group: duplicate name")
)

// Group is a role-holding, member-holding collection. Its effective
// permissions are the union of the closures of its active roles.
type Group struct {
	ID        int64
	Name      string
	Active    bool
	Roles     []int64
	Members   []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether the role is attached.
func (g Group) HasRole(roleID int64) bool {
	for _, id := range g.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// HasMember reports whether the actor belongs to the group.
func (g Group) HasMember(actorID int64) bool {
	for _, id := range g.Members {
		if id == actorID {
			return true
		}
	}
	return false
}
