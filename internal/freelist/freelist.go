// Package freelist tracks reusable pages as an intrusive singly linked list
// threaded through the free pages themselves. The list head lives in the
// database header, so the only state here is a single page id and the list
// costs nothing when empty.
package freelist

import (
	"fmt"

	"github.com/ghbook/polodb/internal/base"
)

// PageIO is the page access a freelist needs. Transactions implement it so
// that allocations and frees stay inside the transaction's dirty set until
// commit.
type PageIO interface {
	// ReadPage loads page id.
	ReadPage(id base.PageID) (*base.Page, error)

	// WritePage stages page id for write.
	WritePage(id base.PageID, p *base.Page) error

	// Extend grows the store by one page and returns its id.
	Extend() (base.PageID, error)
}

// List is a free page chain rooted at Head. The zero value (Head == NilPage)
// is the empty list.
type List struct {
	Head base.PageID
}

// Allocate returns a reusable page id, popping the chain head if the list is
// non-empty and extending the store otherwise. The returned page's previous
// contents are unspecified; callers overwrite it entirely.
func (l *List) Allocate(io PageIO) (base.PageID, error) {
	if l.Head == base.NilPage {
		return io.Extend()
	}
	p, err := io.ReadPage(l.Head)
	if err != nil {
		return base.NilPage, err
	}
	if p.Tag() != base.TagFree {
		return base.NilPage, fmt.Errorf("free chain reached page %d with tag %d: %w",
			l.Head, p.Tag(), base.ErrCorrupted)
	}
	id := l.Head
	l.Head = p.FreeNext()
	return id, nil
}

// Free pushes id onto the chain. The page is rewritten as a Free page whose
// successor is the previous head.
func (l *List) Free(io PageIO, id base.PageID) error {
	if id == base.NilPage {
		return fmt.Errorf("free of nil page: %w", base.ErrCorrupted)
	}
	p := &base.Page{}
	p.SetTag(base.TagFree)
	p.SetFreeNext(l.Head)
	if err := io.WritePage(id, p); err != nil {
		return err
	}
	l.Head = id
	return nil
}

// FreeAll pushes every id in order. Used when a whole subtree is released.
func (l *List) FreeAll(io PageIO, ids []base.PageID) error {
	for _, id := range ids {
		if err := l.Free(io, id); err != nil {
			return err
		}
	}
	return nil
}

// Len walks the chain and returns its length. Diagnostic use only.
func (l *List) Len(io PageIO) (int, error) {
	n := 0
	for id := l.Head; id != base.NilPage; n++ {
		p, err := io.ReadPage(id)
		if err != nil {
			return 0, err
		}
		if p.Tag() != base.TagFree {
			return 0, fmt.Errorf("free chain reached page %d with tag %d: %w",
				id, p.Tag(), base.ErrCorrupted)
		}
		id = p.FreeNext()
	}
	return n, nil
}
