// Package store implements the paged cell store: a bounded in-memory
// working set of (bucket, column) pages over a pluggable durable Backend.
// Pages load lazily, the least-recently-used page is evicted when the
// budget is exceeded, and dirty pages are always written back before being
// dropped. Flush must be called (directly or via table close) before
// process exit or unsaved values are lost.
package store

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// DefaultCapacity is the default number of resident pages.
const DefaultCapacity = 80

// Store keeps the most-recently-used pages resident and pages the rest to
// the backend. It is single-owner state: no internal locking, per the
// table's single-writer contract.
type Store struct {
	backend  Backend
	capacity int
	pages    map[PageID]*list.Element
	order    *list.List // front = most recently used
	log      *slog.Logger
}

type pageEntry struct {
	id    PageID
	page  Page
	dirty bool
}

// New creates a page store with the default working-set budget.
func New(backend Backend) *Store {
	return NewWithCapacity(backend, DefaultCapacity)
}

// NewWithCapacity creates a page store holding at most capacity pages
// resident.
func NewWithCapacity(backend Backend, capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		backend:  backend,
		capacity: capacity,
		pages:    make(map[PageID]*list.Element),
		order:    list.New(),
		log:      slog.Default().With(slog.String("component", "pagestore")),
	}
}

// Backend exposes the durable side, for metadata access by the table.
func (s *Store) Backend() Backend { return s.backend }

// Get returns the value stored for key at addr, or Absent when no value
// exists. A missing durable record is not an error.
func (s *Store) Get(ctx context.Context, addr cell.Addr, key string) (cell.Value, error) {
	entry, err := s.page(ctx, PageID{Bucket: addr.Bucket, Column: addr.Column})
	if err != nil {
		return cell.None(), err
	}
	return entry.page[key], nil
}

// Set stores value for key at addr, overwriting any previous value and
// marking the page dirty.
func (s *Store) Set(ctx context.Context, addr cell.Addr, key string, value cell.Value) error {
	entry, err := s.page(ctx, PageID{Bucket: addr.Bucket, Column: addr.Column})
	if err != nil {
		return err
	}
	entry.page[key] = value
	entry.dirty = true
	return nil
}

// Flush writes every dirty resident page to the backend. Pages stay
// resident.
func (s *Store) Flush(ctx context.Context) error {
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*pageEntry)
		if !entry.dirty {
			continue
		}
		if err := s.backend.SavePage(ctx, entry.id, entry.page); err != nil {
			return fmt.Errorf("flush page %d/%s: %w", entry.id.Bucket, entry.id.Column, err)
		}
		entry.dirty = false
	}
	return nil
}

// PageCopy returns a copy of the full page for id. Used for page-granular
// state such as windowed-aggregate snapshots.
func (s *Store) PageCopy(ctx context.Context, id PageID) (Page, error) {
	entry, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(Page, len(entry.page))
	for k, v := range entry.page {
		out[k] = v
	}
	return out, nil
}

// ReplacePage swaps in a whole page, discarding any previous content of the
// page, and marks it dirty.
func (s *Store) ReplacePage(ctx context.Context, id PageID, p Page) error {
	stored := make(Page, len(p))
	for k, v := range p {
		stored[k] = v
	}
	if elem, ok := s.pages[id]; ok {
		s.order.MoveToFront(elem)
		entry := elem.Value.(*pageEntry)
		entry.page = stored
		entry.dirty = true
		return nil
	}
	entry := &pageEntry{id: id, page: stored, dirty: true}
	s.pages[id] = s.order.PushFront(entry)
	if s.order.Len() > s.capacity {
		return s.evict(ctx)
	}
	return nil
}

// page returns the resident entry for id, loading it from the backend on a
// miss and evicting the least-recently-used page when over budget.
func (s *Store) page(ctx context.Context, id PageID) (*pageEntry, error) {
	if elem, ok := s.pages[id]; ok {
		s.order.MoveToFront(elem)
		return elem.Value.(*pageEntry), nil
	}

	p, ok, err := s.backend.LoadPage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load page %d/%s: %w", id.Bucket, id.Column, err)
	}
	if !ok {
		p = make(Page)
	}

	entry := &pageEntry{id: id, page: p}
	s.pages[id] = s.order.PushFront(entry)

	if s.order.Len() > s.capacity {
		if err := s.evict(ctx); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// evict drops the least-recently-used page, writing it back first when
// dirty. Unsaved values are never silently discarded.
func (s *Store) evict(ctx context.Context) error {
	oldest := s.order.Back()
	if oldest == nil {
		return nil
	}
	entry := oldest.Value.(*pageEntry)
	if entry.dirty {
		if err := s.backend.SavePage(ctx, entry.id, entry.page); err != nil {
			return fmt.Errorf("evict page %d/%s: %w", entry.id.Bucket, entry.id.Column, err)
		}
	}
	s.log.Debug("evicted page",
		slog.Int("bucket", entry.id.Bucket),
		slog.String("column", entry.id.Column),
		slog.Bool("dirty", entry.dirty))
	delete(s.pages, entry.id)
	s.order.Remove(oldest)
	return nil
}
