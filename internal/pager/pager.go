// Package pager mediates all page access between transactions and the
// storage backend. It owns the page cache, verifies checksums on the way in,
// seals them on the way out, and retains pre-commit page images so readers
// that started before a commit keep a consistent snapshot.
package pager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/elastic/go-freelru"

	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/storage"
)

// ErrClosed reports use of a closed pager.
var ErrClosed = errors.New("pager is closed")

// DefaultCacheSize is the default page cache capacity (pages, not bytes).
const DefaultCacheSize = 1024

// version is a retained pre-commit image of a page. seq is the commit that
// replaced it, so the image is what any reader with snapshot < seq must see.
type version struct {
	seq  uint64
	page *base.Page
}

// Pager is safe for concurrent use by one writer and many readers.
type Pager struct {
	backend storage.Backend
	cache   *freelru.SyncedLRU[base.PageID, *base.Page]

	mu       sync.RWMutex
	versions map[base.PageID][]version
	header   base.Header
	closed   bool
}

func hashPageID(id base.PageID) uint32 {
	return uint32(id) * 2654435761
}

// Open wraps backend, loading the header from page 0 or initializing a fresh
// database when the backend is empty.
func Open(backend storage.Backend, cacheSize uint32) (*Pager, error) {
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := freelru.NewSynced[base.PageID, *base.Page](cacheSize, hashPageID)
	if err != nil {
		return nil, err
	}
	p := &Pager{
		backend:  backend,
		cache:    cache,
		versions: make(map[base.PageID][]version),
	}

	if backend.PageCount() == 0 {
		p.header = base.NewHeader()
		pg := &base.Page{}
		p.header.EncodeInto(pg)
		if err := backend.WritePage(0, pg); err != nil {
			return nil, err
		}
		if err := backend.Sync(); err != nil {
			return nil, err
		}
		return p, nil
	}

	pg := &base.Page{}
	if err := backend.ReadPage(0, pg); err != nil {
		return nil, err
	}
	h, err := base.DecodeHeader(pg)
	if err != nil {
		return nil, err
	}
	p.header = h
	return p, nil
}

// Header returns the current decoded header.
func (p *Pager) Header() base.Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.header
}

// PageCount returns the backend page count.
func (p *Pager) PageCount() uint32 {
	return p.backend.PageCount()
}

// ReadPage returns the image of id as of snapshot seq. The returned page is
// shared; callers must not mutate it.
func (p *Pager) ReadPage(id base.PageID, seq uint64) (*base.Page, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	// Retained images are ordered by replacing commit; the first one newer
	// than the snapshot is the image the snapshot saw.
	for _, v := range p.versions[id] {
		if v.seq > seq {
			p.mu.RUnlock()
			return v.page, nil
		}
	}
	p.mu.RUnlock()

	if pg, ok := p.cache.Get(id); ok {
		return pg, nil
	}

	pg := &base.Page{}
	if err := p.backend.ReadPage(id, pg); err != nil {
		return nil, err
	}
	// The header page carries its own checksum inside the header layout.
	if id == 0 {
		if _, err := base.DecodeHeader(pg); err != nil {
			return nil, err
		}
	} else if err := pg.VerifyChecksum(); err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	p.cache.Add(id, pg)
	return pg, nil
}

// WriteCommitted applies one committed page image. commitSeq is the
// committing transaction; minReaderSeq is the oldest live read snapshot
// (equal to commitSeq when no reader is active). When an older reader
// exists the previous image is retained until ReleaseSnapshots drops it.
// The pager seals the page checksum; pg must not be reused by the caller.
func (p *Pager) WriteCommitted(id base.PageID, pg *base.Page, commitSeq, minReaderSeq uint64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if minReaderSeq < commitSeq && uint32(id) < p.backend.PageCount() {
		prev, ok := p.cache.Get(id)
		if !ok {
			prev = &base.Page{}
			if err := p.backend.ReadPage(id, prev); err != nil {
				p.mu.Unlock()
				return err
			}
		}
		p.versions[id] = append(p.versions[id], version{seq: commitSeq, page: prev})
	}
	p.mu.Unlock()

	if id == 0 {
		h, err := base.DecodeHeader(pg)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.header = h
		p.mu.Unlock()
	} else {
		pg.SealChecksum()
	}

	if err := p.backend.WritePage(id, pg); err != nil {
		return err
	}
	p.cache.Add(id, pg)
	return nil
}

// ReleaseSnapshots drops retained images no live reader can still need.
// minReaderSeq is the oldest snapshot still open, or the latest committed
// sequence when no reader is active.
func (p *Pager) ReleaseSnapshots(minReaderSeq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, vs := range p.versions {
		kept := vs[:0]
		for _, v := range vs {
			// An image replaced at v.seq serves readers with snapshot
			// < v.seq only.
			if v.seq > minReaderSeq {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(p.versions, id)
		} else {
			p.versions[id] = kept
		}
	}
}

// Sync flushes the backend.
func (p *Pager) Sync() error {
	return p.backend.Sync()
}

// Close releases the cache and closes the backend.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()
	p.cache.Purge()
	return p.backend.Close()
}
