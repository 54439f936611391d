// Package table implements the cell-link table: columns registered against
// a paged cell store, a per-table dirty set, and a refresh engine that
// recomputes derived columns in dependency order.
//
// A table is single-owner state. Open it once, mutate and refresh it from
// one goroutine, and Close it exactly once; concurrent use is undefined.
package table

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cellgrid-lab/cellgrid/bucketset"
	"github.com/cellgrid-lab/cellgrid/cell"
	"github.com/cellgrid-lab/cellgrid/graph"
	"github.com/cellgrid-lab/cellgrid/store"
)

// bucketsMeta is the metadata record holding the persisted bucket→keys
// index.
const bucketsMeta = "buckets"

// reservedPrefix marks column names the engine keeps for itself (snapshot
// pages). User columns may not start with it.
const reservedPrefix = "~"

// Table composes the paged cell store, the column registry, the bucket
// index and the dirty set, and exposes the get/set/refresh/open/close
// surface external collaborators use.
type Table struct {
	store   *store.Store
	buckets *bucketset.Set
	reg     *registry

	// order caches the topological refresh order; nil means stale.
	order []string
	// dependents maps a column to the columns that directly require it.
	dependents map[string][]string
	// dirty holds, per column, the buckets whose inputs changed and have
	// not yet been propagated.
	dirty map[string]map[int]struct{}

	readOnly bool
	opened   bool
	closed   bool
	log      *slog.Logger
}

// Options tune a table beyond the defaults.
type Options struct {
	// CacheCapacity bounds the number of resident pages. Zero means the
	// store default.
	CacheCapacity int
	// ReadOnly rejects every mutation with cell.ErrReadOnly and makes
	// Close skip write-side effects.
	ReadOnly bool
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// New creates a table over backend with default options.
func New(backend store.Backend) *Table {
	return NewWithOptions(backend, Options{})
}

// NewWithOptions creates a table over backend.
func NewWithOptions(backend store.Backend, opts Options) *Table {
	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = store.DefaultCapacity
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		store:      store.NewWithCapacity(backend, capacity),
		buckets:    bucketset.New(),
		reg:        newRegistry(),
		dependents: make(map[string][]string),
		dirty:      make(map[string]map[int]struct{}),
		readOnly:   opts.ReadOnly,
		log:        log.With(slog.String("component", "table")),
	}
}

// Open loads the persisted bucket index. Call once, before registering
// columns or touching cells.
func (t *Table) Open(ctx context.Context) error {
	if t.opened {
		return fmt.Errorf("open: table already open")
	}
	data, ok, err := t.store.Backend().LoadMeta(ctx, bucketsMeta)
	if err != nil {
		return fmt.Errorf("load bucket index: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, t.buckets); err != nil {
			return fmt.Errorf("load bucket index: %w", err)
		}
	}
	t.opened = true
	t.log.Debug("table opened", slog.Int("buckets", t.buckets.Len()))
	return nil
}

// Close refreshes any pending work, persists the bucket index and column
// state, flushes the store and closes the backend. The backend is closed
// even when the write-side work fails, so a failed Close never leaks the
// durable handle. Safe to call exactly once per open; data not flushed
// here is lost.
func (t *Table) Close() error {
	if t.closed {
		return cell.ErrClosed
	}
	if !t.opened {
		return fmt.Errorf("close: table was never opened")
	}
	t.closed = true

	var err error
	if !t.readOnly {
		err = t.closeWrites(context.Background())
	}
	if cerr := t.store.Backend().Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Table) closeWrites(ctx context.Context) error {
	if len(t.dirty) > 0 {
		if err := t.refresh(ctx); err != nil {
			return fmt.Errorf("refresh on close: %w", err)
		}
	}
	for _, name := range t.reg.names() {
		col, _ := t.reg.get(name)
		if st, ok := col.(stateful); ok {
			if err := st.close(ctx, t); err != nil {
				return fmt.Errorf("close column %q: %w", name, err)
			}
		}
	}
	data, err := json.Marshal(t.buckets)
	if err != nil {
		return fmt.Errorf("encode bucket index: %w", err)
	}
	if err := t.store.Backend().SaveMeta(ctx, bucketsMeta, data); err != nil {
		return fmt.Errorf("save bucket index: %w", err)
	}
	return t.store.Flush(ctx)
}

// Add registers a column. The dependency graph is rebuilt immediately, so a
// requirement cycle is rejected here with *graph.CycleError, before any
// refresh. The new column is marked dirty for every known bucket.
func (t *Table) Add(col Column) error {
	if err := t.guardWrite(); err != nil {
		return err
	}
	name := col.Name()
	if strings.HasPrefix(name, reservedPrefix) {
		return fmt.Errorf("column name %q: prefix %q is reserved", name, reservedPrefix)
	}
	if err := t.reg.add(col); err != nil {
		return err
	}
	order, err := graph.Sort(t.reg.names(), t.reg.requires())
	if err != nil {
		t.reg.remove(name)
		return err
	}
	if st, ok := col.(stateful); ok {
		if err := st.open(context.Background(), t); err != nil {
			t.reg.remove(name)
			return fmt.Errorf("open column %q: %w", name, err)
		}
	}

	// The registration commits only past this point.
	t.order = order
	for _, req := range col.Required() {
		t.dependents[req] = append(t.dependents[req], name)
	}
	for _, b := range t.buckets.Buckets() {
		t.markDirty(name, b)
	}
	return nil
}

// Set writes value for key at addr, records the bucket and key in the
// index, and marks addr's dependents dirty. It never triggers recompute;
// call Refresh explicitly.
func (t *Table) Set(ctx context.Context, addr cell.Addr, key string, value cell.Value) error {
	if err := t.guardWrite(); err != nil {
		return err
	}
	if _, err := t.reg.get(addr.Column); err != nil {
		return err
	}

	newKey := t.buckets.Push(addr.Bucket, key)
	if err := t.store.Set(ctx, addr, key, value); err != nil {
		return err
	}

	if newKey {
		// A previously-unseen row: every column gains a cell here, so all
		// of them need a refresh pass over this bucket, and key-aware
		// columns get to seed it.
		for _, name := range t.reg.names() {
			t.markDirty(name, addr.Bucket)
			col, _ := t.reg.get(name)
			if ki, ok := col.(keyInitializer); ok {
				if err := ki.KeyInit(ctx, t, addr.Bucket, key); err != nil {
					return fmt.Errorf("key init %q at bucket %d: %w", name, addr.Bucket, err)
				}
			}
		}
	}

	for _, dep := range t.dependents[addr.Column] {
		t.markDirty(dep, addr.Bucket)
	}
	return nil
}

// Get returns the value stored for key at addr. Unknown cells read as
// Absent without error; an unregistered column is an error.
func (t *Table) Get(ctx context.Context, addr cell.Addr, key string) (cell.Value, error) {
	if !t.opened || t.closed {
		return cell.None(), t.stateErr()
	}
	if _, err := t.reg.get(addr.Column); err != nil {
		return cell.None(), err
	}
	return t.store.Get(ctx, addr, key)
}

// Buckets returns every bucket observed so far, ascending.
func (t *Table) Buckets() []int { return t.buckets.Buckets() }

// Keys returns the row keys observed in bucket, sorted.
func (t *Table) Keys(bucket int) []string { return t.buckets.Keys(bucket) }

// Refresh drains the dirty set: derived columns recompute in dependency
// order, bucket-ascending, until no new dirty addresses are produced.
// Calling it with nothing dirty is a no-op. On failure the refresh aborts
// with the originating error; cells already written stay written.
func (t *Table) Refresh(ctx context.Context) error {
	if !t.opened || t.closed {
		return t.stateErr()
	}
	if t.readOnly {
		return nil
	}
	return t.refresh(ctx)
}

func (t *Table) refresh(ctx context.Context) error {
	if err := graph.Validate(t.reg.names(), t.reg.requires()); err != nil {
		return err
	}
	if t.order == nil {
		order, err := graph.Sort(t.reg.names(), t.reg.requires())
		if err != nil {
			return err
		}
		t.order = order
	}

	// Writes made while refreshing a column only dirty columns later in
	// the topological order, so each pass strictly drains; the loop is
	// bounded by the depth of the dependency graph.
	for pass := 1; len(t.dirty) > 0; pass++ {
		t.log.Debug("refresh pass", slog.Int("pass", pass), slog.Int("dirty_columns", len(t.dirty)))
		for _, name := range t.order {
			set, ok := t.dirty[name]
			if !ok {
				continue
			}
			delete(t.dirty, name)

			buckets := make([]int, 0, len(set))
			for b := range set {
				buckets = append(buckets, b)
			}
			sort.Ints(buckets)

			col, err := t.reg.get(name)
			if err != nil {
				return err
			}
			if err := col.Refresh(ctx, t, buckets); err != nil {
				return fmt.Errorf("refresh column %q: %w", name, err)
			}
		}
	}
	return nil
}

// writeComputed is the engine's write path. Writes that match the stored
// value are suppressed and propagate nothing.
func (t *Table) writeComputed(ctx context.Context, addr cell.Addr, key string, value cell.Value) error {
	old, err := t.store.Get(ctx, addr, key)
	if err != nil {
		return err
	}
	if old.Equal(value) {
		return nil
	}
	if err := t.store.Set(ctx, addr, key, value); err != nil {
		return err
	}
	for _, dep := range t.dependents[addr.Column] {
		t.markDirty(dep, addr.Bucket)
	}
	return nil
}

// valueAt reads a cell for column logic without the registered-column
// guard; missing values read as Absent.
func (t *Table) valueAt(ctx context.Context, bucket int, column, key string) (cell.Value, error) {
	return t.store.Get(ctx, cell.Addr{Bucket: bucket, Column: column}, key)
}

func (t *Table) markDirty(column string, bucket int) {
	set, ok := t.dirty[column]
	if !ok {
		set = make(map[int]struct{})
		t.dirty[column] = set
	}
	set[bucket] = struct{}{}
}

func (t *Table) guardWrite() error {
	if !t.opened || t.closed {
		return t.stateErr()
	}
	if t.readOnly {
		return cell.ErrReadOnly
	}
	return nil
}

func (t *Table) stateErr() error {
	if t.closed {
		return cell.ErrClosed
	}
	return fmt.Errorf("table is not open")
}
