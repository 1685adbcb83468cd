package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ghbook/polodb/internal/base"
)

// FileBackend stores pages in a single file at fixed offsets
// (id * base.PageSize). Reads and writes use positional I/O and are safe
// for concurrent use.
type FileBackend struct {
	file      *os.File
	pageCount atomic.Uint32

	closeMu sync.Mutex
	closed  bool
}

var _ Backend = (*FileBackend)(nil)

// OpenFile opens or creates the database file at path. A file whose size is
// not a whole number of pages is rejected as corrupted.
func OpenFile(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size()%base.PageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("file size %d is not page aligned: %w", info.Size(), base.ErrCorrupted)
	}

	b := &FileBackend{file: f}
	b.pageCount.Store(uint32(info.Size() / base.PageSize))
	return b, nil
}

func (b *FileBackend) ReadPage(id base.PageID, p *base.Page) error {
	if uint32(id) >= b.pageCount.Load() {
		return fmt.Errorf("page %d of %d: %w", id, b.pageCount.Load(), ErrOutOfRange)
	}
	n, err := b.file.ReadAt(p.Data[:], int64(id)*base.PageSize)
	if err == io.EOF && n == base.PageSize {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("read page %d: %w", id, err)
	}
	return nil
}

func (b *FileBackend) WritePage(id base.PageID, p *base.Page) error {
	if _, err := b.file.WriteAt(p.Data[:], int64(id)*base.PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	// Track growth; WriteAt extends the file transparently.
	for {
		count := b.pageCount.Load()
		if uint32(id) < count {
			return nil
		}
		if b.pageCount.CompareAndSwap(count, uint32(id)+1) {
			return nil
		}
	}
}

func (b *FileBackend) PageCount() uint32 {
	return b.pageCount.Load()
}

func (b *FileBackend) Sync() error {
	return fdatasync(b.file)
}

func (b *FileBackend) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	return b.file.Close()
}

// Path returns the filename backing the store.
func (b *FileBackend) Path() string {
	return b.file.Name()
}
