package storage

import (
	"fmt"
	"sync"

	"github.com/ghbook/polodb/internal/base"
)

// MemoryBackend keeps all pages in a heap slice. It implements the same
// contract as FileBackend so the engine above runs unchanged; Sync is a
// no-op. Contents are lost on Close.
type MemoryBackend struct {
	mu     sync.RWMutex
	pages  []*base.Page
	closed bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) ReadPage(id base.PageID, p *base.Page) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if int(id) >= len(b.pages) {
		return fmt.Errorf("page %d of %d: %w", id, len(b.pages), ErrOutOfRange)
	}
	*p = *b.pages[id]
	return nil
}

func (b *MemoryBackend) WritePage(id base.PageID, p *base.Page) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for int(id) >= len(b.pages) {
		b.pages = append(b.pages, &base.Page{})
	}
	b.pages[id] = p.Clone()
	return nil
}

func (b *MemoryBackend) PageCount() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint32(len(b.pages))
}

func (b *MemoryBackend) Sync() error {
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.pages = nil
	return nil
}
