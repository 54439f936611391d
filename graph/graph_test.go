package graph

import (
	"errors"
	"testing"

	"github.com/cellgrid-lab/cellgrid/cell"
	"github.com/stretchr/testify/require"
)

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("column %q missing from order %v", name, order)
	return -1
}

func TestSortRespectsRequirements(t *testing.T) {
	names := []string{"c", "b", "a"}
	requires := map[string][]string{
		"c": {"b"},
		"b": {"a"},
	}

	order, err := Sort(names, requires)
	require.NoError(t, err)
	require.Len(t, order, 3)
	require.Less(t, indexOf(t, order, "a"), indexOf(t, order, "b"))
	require.Less(t, indexOf(t, order, "b"), indexOf(t, order, "c"))
}

func TestSortTiesFollowRegistrationOrder(t *testing.T) {
	names := []string{"z", "m", "a"}
	order, err := Sort(names, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"z", "m", "a"}, order)
}

func TestSortDiamond(t *testing.T) {
	names := []string{"base", "left", "right", "top"}
	requires := map[string][]string{
		"left":  {"base"},
		"right": {"base"},
		"top":   {"left", "right"},
	}
	order, err := Sort(names, requires)
	require.NoError(t, err)
	require.Equal(t, []string{"base", "left", "right", "top"}, order)
}

func TestSortCycle(t *testing.T) {
	names := []string{"a", "b"}
	requires := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}

	_, err := Sort(names, requires)
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	require.Contains(t, []string{"a", "b"}, cyc.Column)
}

func TestSortSelfLoop(t *testing.T) {
	_, err := Sort([]string{"a"}, map[string][]string{"a": {"a"}})
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	require.Equal(t, "a", cyc.Column)
}

func TestSortIgnoresUnknownRequirement(t *testing.T) {
	order, err := Sort([]string{"a"}, map[string][]string{"a": {"ghost"}})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, order)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]string{"a", "b"}, map[string][]string{"b": {"a"}}))

	err := Validate([]string{"b"}, map[string][]string{"b": {"a"}})
	require.True(t, errors.Is(err, cell.ErrNotFound))
	require.Contains(t, err.Error(), `"a"`)
}
