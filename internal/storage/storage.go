// Package storage provides page-granular backends over a single file or an
// in-memory buffer.
package storage

import (
	"errors"
	"fmt"

	"github.com/ghbook/polodb/internal/base"
)

// ErrOutOfRange reports a read past the end of the backing medium. It wraps
// the corruption family: a live reference to a page beyond the end of the
// file means the file is inconsistent.
var ErrOutOfRange = fmt.Errorf("page read past end of store: %w", base.ErrCorrupted)

// ErrClosed reports use of a closed backend.
var ErrClosed = errors.New("storage backend is closed")

// Backend is page-granular I/O over a durable (or in-memory) medium.
// Implementations do not cache and do not checksum; both belong to the
// pager above.
type Backend interface {
	// ReadPage copies page id into p. Reading past the end fails with
	// ErrOutOfRange.
	ReadPage(id base.PageID, p *base.Page) error

	// WritePage stores p at index id, growing the medium as needed.
	WritePage(id base.PageID, p *base.Page) error

	// PageCount is the current number of pages.
	PageCount() uint32

	// Sync durably persists all previous writes. The only blocking
	// suspension point of the engine.
	Sync() error

	Close() error
}
