package store

import (
	"context"

	"github.com/cellgrid-lab/cellgrid/cell"
)

// Memory is an in-memory Backend. Useful for testing and development; data
// does not survive the process.
type Memory struct {
	pages map[PageID]Page
	meta  map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		pages: make(map[PageID]Page),
		meta:  make(map[string][]byte),
	}
}

func (m *Memory) LoadPage(ctx context.Context, id PageID) (Page, bool, error) {
	p, ok := m.pages[id]
	if !ok {
		return nil, false, nil
	}
	// Return a copy so resident mutations stay invisible until saved back.
	out := make(Page, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, true, nil
}

func (m *Memory) SavePage(ctx context.Context, id PageID, p Page) error {
	stored := make(Page, len(p))
	for k, v := range p {
		stored[k] = v
	}
	m.pages[id] = stored
	return nil
}

func (m *Memory) LoadMeta(ctx context.Context, name string) ([]byte, bool, error) {
	data, ok := m.meta[name]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *Memory) SaveMeta(ctx context.Context, name string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.meta[name] = stored
	return nil
}

func (m *Memory) Drop(ctx context.Context) error {
	m.pages = make(map[PageID]Page)
	m.meta = make(map[string][]byte)
	return nil
}

func (m *Memory) Close() error { return nil }

// PageValue reads one durable value directly, bypassing any cache. Test
// helper for asserting write-back behavior.
func (m *Memory) PageValue(id PageID, key string) (cell.Value, bool) {
	p, ok := m.pages[id]
	if !ok {
		return cell.None(), false
	}
	v, ok := p[key]
	return v, ok
}
