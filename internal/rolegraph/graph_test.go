package rolegraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildArena() Arena {
	// admin <- manager <- clerk, plus a standalone auditor role.
	return Arena{
		1: {Permissions: []int64{100, 101}, Active: true},
		2: {Parents: []int64{1}, Permissions: []int64{200}, Active: true},
		3: {Parents: []int64{2}, Permissions: []int64{300}, Active: true},
		4: {Permissions: []int64{400}, Active: true},
	}
}

func TestClosureUnionsAncestors(t *testing.T) {
	arena := buildArena()

	closure := arena.Closure(3)
	require.Equal(t, []int64{100, 101, 200, 300}, closure.Sorted())

	closure = arena.Closure(1)
	require.Equal(t, []int64{100, 101}, closure.Sorted())
}

func TestClosureIsIdempotent(t *testing.T) {
	arena := buildArena()
	first := arena.Closure(3)
	second := arena.Closure(3)
	require.Equal(t, first.Sorted(), second.Sorted())
}

func TestClosureDiamondCountsOnce(t *testing.T) {
	arena := Arena{
		1: {Permissions: []int64{10}, Active: true},
		2: {Parents: []int64{1}, Permissions: []int64{20}, Active: true},
		3: {Parents: []int64{1}, Permissions: []int64{30}, Active: true},
		4: {Parents: []int64{2, 3}, Permissions: []int64{40}, Active: true},
	}
	closure := arena.Closure(4)
	require.Equal(t, []int64{10, 20, 30, 40}, closure.Sorted())
}

func TestClosureUnknownRoleIsEmpty(t *testing.T) {
	arena := buildArena()
	require.Empty(t, arena.Closure(99).Sorted())
}

func TestClosureTerminatesOnCyclicStorage(t *testing.T) {
	// A cycle should never be committed, but the walk must still terminate
	// if one slipped into storage.
	arena := Arena{
		1: {Parents: []int64{2}, Permissions: []int64{10}, Active: true},
		2: {Parents: []int64{1}, Permissions: []int64{20}, Active: true},
	}
	require.Equal(t, []int64{10, 20}, arena.Closure(1).Sorted())
}

func TestWouldCycle(t *testing.T) {
	arena := buildArena()

	require.True(t, arena.WouldCycle(1, 1), "self edge")
	require.True(t, arena.WouldCycle(1, 3), "clerk is a descendant of admin")
	require.True(t, arena.WouldCycle(2, 3))
	require.False(t, arena.WouldCycle(3, 4), "unrelated roles may link")
	require.False(t, arena.WouldCycle(4, 1))
}

func TestInheritsFrom(t *testing.T) {
	arena := buildArena()

	require.True(t, arena.InheritsFrom(3, 1))
	require.True(t, arena.InheritsFrom(3, 2))
	require.True(t, arena.InheritsFrom(2, 2), "a role inherits from itself")
	require.False(t, arena.InheritsFrom(1, 3))
	require.False(t, arena.InheritsFrom(4, 1))
}

func TestDescendants(t *testing.T) {
	arena := buildArena()

	desc := arena.Descendants(1)
	require.ElementsMatch(t, []int64{1, 2, 3}, desc)

	require.ElementsMatch(t, []int64{4}, arena.Descendants(4))
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "Branch Manager", NormalizeName("  branch   MANAGER "))
	require.Equal(t, "Operator", NormalizeName("operator"))
	require.Equal(t, "", NormalizeName("   "))
}
