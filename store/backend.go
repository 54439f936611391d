package store

import (
	"context"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// PageID names one page of cells: every key stored under the same bucket and
// column. Refresh walks the table bucket-by-bucket and column-by-column, so
// this granularity keeps a single cell access to O(one page) of extra data.
type PageID struct {
	Bucket int
	Column string
}

// Page holds the cell values of one page, keyed by row key.
type Page map[string]cell.Value

// Backend is the durable side of the page store. Implementations are scoped
// to one table namespace at construction and own exclusive access to it for
// the lifetime of one open/close session.
type Backend interface {
	// LoadPage reads a page. ok is false when no durable record exists,
	// which is not an error.
	LoadPage(ctx context.Context, id PageID) (p Page, ok bool, err error)

	// SavePage writes a page, overwriting any previous durable record.
	SavePage(ctx context.Context, id PageID, p Page) error

	// LoadMeta reads a named metadata record (bucket index, snapshot
	// bucket lists). ok is false when the record does not exist.
	LoadMeta(ctx context.Context, name string) (data []byte, ok bool, err error)

	// SaveMeta writes a named metadata record.
	SaveMeta(ctx context.Context, name string, data []byte) error

	// Drop deletes every page and metadata record in the namespace.
	Drop(ctx context.Context) error

	// Close releases the backend. Callers flush through the Store first.
	Close() error
}
