// Package graph computes the refresh order for a set of columns from their
// declared requirements. Edges point from a column to the columns it
// requires; the produced order places every requirement before the columns
// that need it.
package graph

import (
	"fmt"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// CycleError reports that the requirement graph admits no topological order.
type CycleError struct {
	// Column is a member of the offending cycle.
	Column string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving column %q", e.Column)
}

// Sort returns the column names ordered so that for every column c, each
// name in requires[c] appears before c. Independent columns keep their
// relative order in names (registration order), so the result is stable
// across runs.
//
// Names in requires that do not appear in names are ignored here; existence
// is the registry's concern, checked by Validate.
func Sort(names []string, requires map[string][]string) ([]string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	// out[b] lists columns that require b; indeg counts known requirements.
	out := make(map[string][]string, len(names))
	indeg := make(map[string]int, len(names))
	for _, n := range names {
		for _, req := range requires[n] {
			if !known[req] {
				continue
			}
			out[req] = append(out[req], n)
			indeg[n]++
		}
	}

	order := make([]string, 0, len(names))
	done := make(map[string]bool, len(names))
	for len(order) < len(names) {
		picked := ""
		for _, n := range names {
			if !done[n] && indeg[n] == 0 {
				picked = n
				break
			}
		}
		if picked == "" {
			// Everything left has a pending requirement: a cycle. Name the
			// first remaining column in registration order.
			for _, n := range names {
				if !done[n] {
					return nil, &CycleError{Column: n}
				}
			}
		}
		done[picked] = true
		order = append(order, picked)
		for _, dep := range out[picked] {
			indeg[dep]--
		}
	}
	return order, nil
}

// Validate checks that every required column is a known name.
func Validate(names []string, requires map[string][]string) error {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, n := range names {
		for _, req := range requires[n] {
			if !known[req] {
				return fmt.Errorf("column %q requires %q: %w", n, req, cell.ErrNotFound)
			}
		}
	}
	return nil
}
