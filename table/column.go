package table

import (
	"context"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// Column is the pluggable unit of table logic. Pass-through kinds hold
// externally-supplied values and implement Refresh as a no-op; derived kinds
// recompute their cells from the columns they declare in Required.
type Column interface {
	// Name identifies the column. Unique per table.
	Name() string

	// Required lists the columns this one reads during Refresh. Every
	// update to a required column marks this column dirty at the updated
	// bucket. Requirements may be registered after this column, but must
	// all exist by the first refresh.
	Required() []string

	// Refresh recomputes this column for the given dirty buckets, in
	// ascending order, writing results through the table. Writes that
	// change a stored value mark downstream columns dirty.
	Refresh(ctx context.Context, tb *Table, buckets []int) error
}

// keyInitializer is implemented by columns that react to the first sighting
// of a (bucket, key) pair, before any refresh runs.
type keyInitializer interface {
	KeyInit(ctx context.Context, tb *Table, bucket int, key string) error
}

// stateful is implemented by columns that keep durable state of their own
// (windowed aggregates persist running-total snapshots). open runs at
// registration against an open table, close during table close.
type stateful interface {
	open(ctx context.Context, tb *Table) error
	close(ctx context.Context, tb *Table) error
}

// PassThrough is a column with no computed logic: values arrive via Set and
// only trigger downstream recomputation.
type PassThrough struct {
	name string
}

// NewPassThrough declares a plain externally-supplied column.
func NewPassThrough(name string) *PassThrough {
	return &PassThrough{name: name}
}

// NewProtected declares an externally-supplied column that carries target
// values (outcomes being predicted, settlement amounts). The engine treats
// it exactly like a flat pass-through; the distinct constructor documents
// that formulas should not read it as a same-bucket input.
func NewProtected(name string) *PassThrough {
	return &PassThrough{name: name}
}

func (c *PassThrough) Name() string       { return c.name }
func (c *PassThrough) Required() []string { return nil }

func (c *PassThrough) Refresh(ctx context.Context, tb *Table, buckets []int) error {
	return nil
}

// Const is a column whose every cell holds the same value. New keys are
// seeded immediately; buckets that existed before registration fill on the
// next refresh.
type Const struct {
	name  string
	value cell.Value
}

// NewConst declares a constant column.
func NewConst(name string, value cell.Value) *Const {
	return &Const{name: name, value: value}
}

func (c *Const) Name() string       { return c.name }
func (c *Const) Required() []string { return nil }

func (c *Const) Refresh(ctx context.Context, tb *Table, buckets []int) error {
	for _, b := range buckets {
		for _, key := range tb.Keys(b) {
			if err := tb.writeComputed(ctx, cell.Addr{Bucket: b, Column: c.name}, key, c.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Const) KeyInit(ctx context.Context, tb *Table, bucket int, key string) error {
	return tb.writeComputed(ctx, cell.Addr{Bucket: bucket, Column: c.name}, key, c.value)
}
