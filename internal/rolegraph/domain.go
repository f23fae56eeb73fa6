package rolegraph

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// Role is a node in the role graph. Parents confer their effective
// permissions to the role; the parent relation must stay acyclic.
type Role struct {
	ID                int64
	Code              string
	Name              string
	HierarchyLevel    int
	IsSystem          bool
	Active            bool
	DirectPermissions []int64
	ParentRoles       []int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PermissionSet is a set of permission ids.
type PermissionSet map[int64]struct{}

// Contains reports set membership.
func (s PermissionSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Add inserts an id.
func (s PermissionSet) Add(id int64) {
	s[id] = struct{}{}
}

// Union merges other into s.
func (s PermissionSet) Union(other PermissionSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the ids in ascending order, for deterministic output.
func (s PermissionSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeName trims and title-cases a role name the way the back office
// stores it.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	words := strings.Split(name, " ")
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
