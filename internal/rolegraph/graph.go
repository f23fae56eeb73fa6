package rolegraph

// Arena is a flat snapshot of the role graph keyed by role id. Closure and
// cycle queries run against an arena so they observe one consistent graph
// state regardless of concurrent writers.
type Arena map[int64]ArenaNode

// ArenaNode carries the edges and direct grants of one role.
type ArenaNode struct {
	Parents     []int64
	Permissions []int64
	Active      bool
}

// Closure returns the effective permission set of roleID: its direct
// permissions unioned with the recursive effective permissions of every
// parent. A visited set bounds the walk so the computation terminates even if
// an inconsistent (cyclic) graph slipped into storage.
func (a Arena) Closure(roleID int64) PermissionSet {
	result := make(PermissionSet)
	visited := make(map[int64]struct{})
	a.collect(roleID, visited, result)
	return result
}

func (a Arena) collect(roleID int64, visited map[int64]struct{}, result PermissionSet) {
	if _, seen := visited[roleID]; seen {
		return
	}
	visited[roleID] = struct{}{}
	node, ok := a[roleID]
	if !ok {
		return
	}
	for _, perm := range node.Permissions {
		result.Add(perm)
	}
	for _, parent := range node.Parents {
		a.collect(parent, visited, result)
	}
}

// InheritsFrom reports whether roleID transitively inherits from ancestorID,
// walking parent edges depth-first with a visited guard.
func (a Arena) InheritsFrom(roleID, ancestorID int64) bool {
	if roleID == ancestorID {
		return true
	}
	visited := make(map[int64]struct{})
	return a.reaches(roleID, ancestorID, visited)
}

func (a Arena) reaches(from, target int64, visited map[int64]struct{}) bool {
	if _, seen := visited[from]; seen {
		return false
	}
	visited[from] = struct{}{}
	node, ok := a[from]
	if !ok {
		return false
	}
	for _, parent := range node.Parents {
		if parent == target {
			return true
		}
		if a.reaches(parent, target, visited) {
			return true
		}
	}
	return false
}

// WouldCycle reports whether adding parentID as a parent of roleID would make
// roleID its own ancestor. The check runs before the edge is committed.
func (a Arena) WouldCycle(roleID, parentID int64) bool {
	if roleID == parentID {
		return true
	}
	return a.InheritsFrom(parentID, roleID)
}

// Descendants returns every role that transitively inherits from roleID,
// including roleID itself. Closure-cache invalidation uses it: a permission
// change on a role affects every dependant.
func (a Arena) Descendants(roleID int64) []int64 {
	out := []int64{roleID}
	for id := range a {
		if id == roleID {
			continue
		}
		if a.InheritsFrom(id, roleID) {
			out = append(out, id)
		}
	}
	return out
}
