package table

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cellgrid-lab/cellgrid/cell"
	"github.com/cellgrid-lab/cellgrid/store"
	"github.com/shopspring/decimal"
)

// InputMap describes one source pairing for a windowed aggregate: for each
// row, the value of ValueColumn is accumulated under the label read from
// MatchColumn. A game row with (Player1, Points1) and (Player2, Points2)
// mappings contributes both players' points to their own running totals.
type InputMap struct {
	// MatchColumn names the column whose value labels the contribution.
	MatchColumn string
	// ValueColumn names the numeric column being summed. Absent and
	// non-numeric values count as zero.
	ValueColumn string
}

// WindowedAggregate is a derived column that, for each (bucket, key), sums
// its input mappings over every row of the trailing window
// [bucket-window, bucket) — the current bucket itself is excluded — keeping
// only contributions whose label matches the row's lookup value.
//
// The sum is kept as a running total per label. With a snapshot interval
// set, the totals are persisted every interval buckets through the page
// store, so a later refresh resumes from the nearest snapshot instead of
// rescanning the whole window history.
type WindowedAggregate struct {
	name     string
	required []string
	inputs   []InputMap
	lookup   string
	window   int

	snapEvery   int
	snapBuckets []int // ascending, persisted in backend metadata
}

// NewWindowedAggregate declares a windowed aggregate column. required must
// cover every column the aggregate reads (the input mappings' columns and
// the lookup column); window is a span in bucket-ordering units.
func NewWindowedAggregate(name string, required []string, inputs []InputMap, lookup string, window int) *WindowedAggregate {
	return &WindowedAggregate{
		name:     name,
		required: required,
		inputs:   inputs,
		lookup:   lookup,
		window:   window,
	}
}

// NewWindowedAggregateWithSnapshots is NewWindowedAggregate with running
// totals persisted every interval buckets.
func NewWindowedAggregateWithSnapshots(name string, required []string, inputs []InputMap, lookup string, window, interval int) *WindowedAggregate {
	c := NewWindowedAggregate(name, required, inputs, lookup, window)
	c.snapEvery = interval
	return c
}

func (c *WindowedAggregate) Name() string       { return c.name }
func (c *WindowedAggregate) Required() []string { return c.required }

// labelKey canonicalizes a lookup value into a kind-tagged totals key, so a
// numeric label never aliases a textual one (Num(1) vs Str("1")). Numbers
// render trimmed, keeping 1.0 and 1.00 on the same key as Value.Equal does.
// Callers skip Absent before keying.
func labelKey(v cell.Value) string {
	if d, ok := v.Decimal(); ok {
		return "n:" + d.String()
	}
	s, _ := v.Text()
	return "t:" + s
}

// snapColumn is the reserved column under which snapshot pages are stored.
func (c *WindowedAggregate) snapColumn() string { return reservedPrefix + "snap:" + c.name }

// snapMeta is the metadata record listing persisted snapshot buckets.
func (c *WindowedAggregate) snapMeta() string { return "snapshots/" + c.name }

// snapStart maps a bucket to the snapshot boundary at or before it.
func (c *WindowedAggregate) snapStart(bucket int) int {
	if c.snapEvery <= 0 {
		return bucket
	}
	m := bucket % c.snapEvery
	if m < 0 {
		m += c.snapEvery
	}
	return bucket - m
}

func (c *WindowedAggregate) open(ctx context.Context, tb *Table) error {
	data, ok, err := tb.store.Backend().LoadMeta(ctx, c.snapMeta())
	if err != nil {
		return fmt.Errorf("load snapshot index: %w", err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, &c.snapBuckets); err != nil {
		return fmt.Errorf("decode snapshot index: %w", err)
	}
	return nil
}

func (c *WindowedAggregate) close(ctx context.Context, tb *Table) error {
	if len(c.snapBuckets) == 0 {
		return nil
	}
	data, err := json.Marshal(c.snapBuckets)
	if err != nil {
		return fmt.Errorf("encode snapshot index: %w", err)
	}
	if err := tb.store.Backend().SaveMeta(ctx, c.snapMeta(), data); err != nil {
		return fmt.Errorf("save snapshot index: %w", err)
	}
	return nil
}

// Refresh recomputes the column from the nearest snapshot at or before the
// smallest dirty bucket, forward through every known bucket. A trailing
// window makes every later bucket a potential dependent of an earlier
// change, so the forward sweep is required; unchanged cells are
// write-suppressed and propagate nothing.
func (c *WindowedAggregate) Refresh(ctx context.Context, tb *Table, buckets []int) error {
	if len(buckets) == 0 {
		return nil
	}
	minB := buckets[0]

	totals := make(map[string]decimal.Decimal)
	start := c.snapStart(minB)
	fromSnapshot := false
	if i := sort.SearchInts(c.snapBuckets, minB+1) - 1; i >= 0 {
		start = c.snapBuckets[i]
		loaded, err := c.loadSnapshot(ctx, tb, start)
		if err != nil {
			return err
		}
		totals = loaded
		fromSnapshot = true
	}

	// Buckets currently inside the running window, ascending. A persisted
	// snapshot covers exactly [start-window, start); without one the
	// totals are rebuilt by scanning that range.
	win := tb.buckets.Range(start-c.window, start)
	if !fromSnapshot {
		for _, b := range win {
			inc, err := c.increment(ctx, tb, b)
			if err != nil {
				return err
			}
			for label, v := range inc {
				totals[label] = totals[label].Add(v)
			}
		}
	}
	toUpdate := tb.buckets.From(start)

	// Snapshot boundaries that fall within the sweep, each written once,
	// before the first bucket at or past it.
	var due []int
	if c.snapEvery > 0 {
		seen := make(map[int]bool)
		for _, b := range toUpdate {
			if s := c.snapStart(b); !seen[s] {
				seen[s] = true
				due = append(due, s)
			}
		}
		sort.Ints(due)
	}

	// expire subtracts the contributions of window buckets older than cut.
	expire := func(cut int) error {
		for len(win) > 0 && win[0] < cut {
			inc, err := c.increment(ctx, tb, win[0])
			if err != nil {
				return err
			}
			for label, v := range inc {
				totals[label] = totals[label].Sub(v)
			}
			win = win[1:]
		}
		return nil
	}

	for _, b := range toUpdate {
		for len(due) > 0 && due[0] <= b {
			sb := due[0]
			due = due[1:]
			if err := expire(sb - c.window); err != nil {
				return err
			}
			if err := c.saveSnapshot(ctx, tb, sb, totals); err != nil {
				return err
			}
		}

		win = append(win, b)
		if err := expire(b - c.window); err != nil {
			return err
		}

		// Totals now cover [b-window, b): write this bucket's cells before
		// folding in its own contributions.
		for _, key := range tb.Keys(b) {
			lookup, err := tb.valueAt(ctx, b, c.lookup, key)
			if err != nil {
				return err
			}
			// An absent lookup matches nothing, including labels keyed
			// by the empty string.
			var sum decimal.Decimal
			if !lookup.IsAbsent() {
				sum = totals[labelKey(lookup)]
			}
			if err := tb.writeComputed(ctx, cell.Addr{Bucket: b, Column: c.name}, key, cell.Num(sum)); err != nil {
				return err
			}
		}

		inc, err := c.increment(ctx, tb, b)
		if err != nil {
			return err
		}
		for label, v := range inc {
			totals[label] = totals[label].Add(v)
		}
	}
	return nil
}

// increment collects the contributions of one bucket: per row and per input
// mapping, the value column's number accumulated under the match column's
// label. Rows with an absent label contribute nothing for that mapping.
func (c *WindowedAggregate) increment(ctx context.Context, tb *Table, bucket int) (map[string]decimal.Decimal, error) {
	inc := make(map[string]decimal.Decimal)
	for _, key := range tb.Keys(bucket) {
		for _, im := range c.inputs {
			label, err := tb.valueAt(ctx, bucket, im.MatchColumn, key)
			if err != nil {
				return nil, err
			}
			if label.IsAbsent() {
				continue
			}
			v, err := tb.valueAt(ctx, bucket, im.ValueColumn, key)
			if err != nil {
				return nil, err
			}
			l := labelKey(label)
			inc[l] = inc[l].Add(v.NumberOr(decimal.Zero))
		}
	}
	return inc, nil
}

func (c *WindowedAggregate) loadSnapshot(ctx context.Context, tb *Table, bucket int) (map[string]decimal.Decimal, error) {
	page, err := tb.store.PageCopy(ctx, store.PageID{Bucket: bucket, Column: c.snapColumn()})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q at bucket %d: %w", c.name, bucket, err)
	}
	totals := make(map[string]decimal.Decimal, len(page))
	for label, v := range page {
		totals[label] = v.NumberOr(decimal.Zero)
	}
	return totals, nil
}

func (c *WindowedAggregate) saveSnapshot(ctx context.Context, tb *Table, bucket int, totals map[string]decimal.Decimal) error {
	page := make(store.Page, len(totals))
	for label, v := range totals {
		page[label] = cell.Num(v)
	}
	if err := tb.store.ReplacePage(ctx, store.PageID{Bucket: bucket, Column: c.snapColumn()}, page); err != nil {
		return fmt.Errorf("save snapshot %q at bucket %d: %w", c.name, bucket, err)
	}
	i := sort.SearchInts(c.snapBuckets, bucket)
	if i == len(c.snapBuckets) || c.snapBuckets[i] != bucket {
		c.snapBuckets = append(c.snapBuckets, 0)
		copy(c.snapBuckets[i+1:], c.snapBuckets[i:])
		c.snapBuckets[i] = bucket
	}
	return nil
}
