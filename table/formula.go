package table

import (
	"context"
	"fmt"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// Row is the view a formula receives: the same-bucket values of its
// required columns for one key. Missing values appear as Absent; the
// formula decides how to handle them.
type Row map[string]cell.Value

// Formula computes one output value from a row view. Returning an error
// aborts the whole refresh.
type Formula func(row Row) (cell.Value, error)

// RowFormula is a derived column computing one value per (bucket, key) from
// the same-bucket values of its required columns.
type RowFormula struct {
	name     string
	fn       Formula
	required []string
}

// NewRowFormula declares a formula column over the given required columns.
func NewRowFormula(name string, fn Formula, required ...string) *RowFormula {
	return &RowFormula{name: name, fn: fn, required: required}
}

func (c *RowFormula) Name() string       { return c.name }
func (c *RowFormula) Required() []string { return c.required }

func (c *RowFormula) Refresh(ctx context.Context, tb *Table, buckets []int) error {
	for _, b := range buckets {
		for _, key := range tb.Keys(b) {
			row := make(Row, len(c.required))
			for _, req := range c.required {
				v, err := tb.valueAt(ctx, b, req, key)
				if err != nil {
					return err
				}
				row[req] = v
			}
			out, err := c.fn(row)
			if err != nil {
				return fmt.Errorf("formula %q at bucket %d key %q: %w", c.name, b, key, err)
			}
			if err := tb.writeComputed(ctx, cell.Addr{Bucket: b, Column: c.name}, key, out); err != nil {
				return err
			}
		}
	}
	return nil
}
