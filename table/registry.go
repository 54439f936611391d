package table

import (
	"fmt"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// registry holds the declared columns in registration order. Pure
// bookkeeping; no recomputation logic lives here.
type registry struct {
	cols  map[string]Column
	order []string
}

func newRegistry() *registry {
	return &registry{cols: make(map[string]Column)}
}

func (r *registry) add(c Column) error {
	name := c.Name()
	if _, exists := r.cols[name]; exists {
		return fmt.Errorf("register column %q: %w", name, cell.ErrColumnExists)
	}
	r.cols[name] = c
	r.order = append(r.order, name)
	return nil
}

// remove undoes a registration that failed validation (cycle detected).
func (r *registry) remove(name string) {
	delete(r.cols, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *registry) get(name string) (Column, error) {
	c, ok := r.cols[name]
	if !ok {
		return nil, fmt.Errorf("column %q: %w", name, cell.ErrNotFound)
	}
	return c, nil
}

// names returns column names in registration order.
func (r *registry) names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// requires maps each column to its declared requirements.
func (r *registry) requires() map[string][]string {
	out := make(map[string][]string, len(r.cols))
	for name, c := range r.cols {
		if req := c.Required(); len(req) > 0 {
			out[name] = req
		}
	}
	return out
}
