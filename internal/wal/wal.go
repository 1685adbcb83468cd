// Package wal implements the write-ahead log that makes commits atomic.
//
// The log is an append-only sequence of page records:
//
//	[Seq: 8][PageID: 4][Len: 4][Payload: Len][Checksum: 4]
//
// A commit is a record with PageID 0xFFFFFFFF and an empty payload. Records
// after the last commit marker belong to an unfinished transaction and are
// discarded during replay, as is any torn or checksum-damaged tail.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/ghbook/polodb/internal/base"
)

const (
	// recordHeaderSize covers Seq, PageID, and Len.
	recordHeaderSize = 16

	// commitPageID marks a commit record. It can never collide with a real
	// page: page ids are file offsets and a file of 2^32-1 pages is 16 TiB.
	commitPageID uint32 = 0xFFFFFFFF
)

// ErrClosed reports use of a closed log.
var ErrClosed = errors.New("wal is closed")

// SyncMode controls when the log file is flushed to durable storage.
type SyncMode int

const (
	// SyncEveryCommit flushes before a commit is acknowledged. The default.
	SyncEveryCommit SyncMode = iota

	// SyncOff never flushes explicitly. Crashes may lose recent commits but
	// replay still discards any torn tail, so the store stays consistent.
	SyncOff
)

// WAL is a single-writer append log. The caller serializes appends; Replay
// and Reset run only while no writer is active.
type WAL struct {
	file   *os.File
	path   string
	mode   SyncMode
	size   int64
	closed bool
}

// Open opens or creates the log file at path.
func Open(path string, mode SyncMode) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &WAL{file: f, path: path, mode: mode, size: info.Size()}, nil
}

// AppendPage logs the post-image of one page for the transaction seq.
func (w *WAL) AppendPage(seq uint64, id base.PageID, p *base.Page) error {
	return w.append(seq, uint32(id), p.Data[:])
}

// AppendCommit logs the commit marker for seq and, in SyncEveryCommit mode,
// flushes the log. Once AppendCommit returns the transaction is durable.
func (w *WAL) AppendCommit(seq uint64) error {
	if err := w.append(seq, commitPageID, nil); err != nil {
		return err
	}
	if w.mode == SyncEveryCommit {
		return w.Sync()
	}
	return nil
}

func (w *WAL) append(seq uint64, page uint32, payload []byte) error {
	if w.closed {
		return ErrClosed
	}
	buf := make([]byte, recordHeaderSize+len(payload)+4)
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], page)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)
	sum := uint32(xxhash.Sum64(buf[:recordHeaderSize+len(payload)]))
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+len(payload):], sum)

	if _, err := w.file.WriteAt(buf, w.size); err != nil {
		return fmt.Errorf("append wal record: %w", err)
	}
	w.size += int64(len(buf))
	return nil
}

// Sync flushes the log file.
func (w *WAL) Sync() error {
	if w.closed {
		return ErrClosed
	}
	return w.file.Sync()
}

// Replay streams every committed page record, in log order, to apply. Pages
// of one transaction are delivered before the pages of the next; within a
// transaction the last write of a page wins, which apply gets for free by
// applying in order. Records after the final commit marker, and any torn or
// corrupt tail, are ignored.
//
// Replay returns the highest committed sequence number, or 0 when the log
// holds no commit.
func (w *WAL) Replay(apply func(seq uint64, id base.PageID, p *base.Page) error) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}

	type pending struct {
		id   base.PageID
		page *base.Page
	}

	var (
		offset   int64
		lastSeq  uint64
		batch    []pending
		batchSeq uint64
		header   [recordHeaderSize]byte
		trailer  [4]byte
		pageBuf  base.Page
	)

	for offset < w.size {
		if _, err := io.ReadFull(io.NewSectionReader(w.file, offset, recordHeaderSize), header[:]); err != nil {
			break // torn header
		}
		seq := binary.LittleEndian.Uint64(header[0:8])
		page := binary.LittleEndian.Uint32(header[8:12])
		length := binary.LittleEndian.Uint32(header[12:16])
		if length > base.PageSize {
			break // garbage length, treat as tail damage
		}

		payload := pageBuf.Data[:length]
		end := offset + recordHeaderSize + int64(length) + 4
		if end > w.size {
			break // torn payload
		}
		if length > 0 {
			if _, err := w.file.ReadAt(payload, offset+recordHeaderSize); err != nil {
				break
			}
		}
		if _, err := w.file.ReadAt(trailer[:], offset+recordHeaderSize+int64(length)); err != nil {
			break
		}

		var h xxhash.Digest
		h.Reset()
		_, _ = h.Write(header[:])
		_, _ = h.Write(payload)
		if binary.LittleEndian.Uint32(trailer[:]) != uint32(h.Sum64()) {
			break // corrupt record, discard from here on
		}

		if page == commitPageID {
			// Pending records with another sequence belong to a transaction
			// whose commit never made it; they are not covered by this marker.
			if seq == batchSeq {
				for _, rec := range batch {
					if err := apply(seq, rec.id, rec.page); err != nil {
						return 0, err
					}
				}
			}
			batch = batch[:0]
			lastSeq = seq
		} else {
			if length != base.PageSize {
				break // page records carry exactly one page
			}
			if seq != batchSeq {
				// A new transaction started; anything pending is an orphan.
				batch = batch[:0]
				batchSeq = seq
			}
			p := &base.Page{}
			copy(p.Data[:], payload)
			batch = append(batch, pending{id: base.PageID(page), page: p})
		}
		offset = end
	}

	// Whatever is left in batch never committed.
	return lastSeq, nil
}

// Reset truncates the log after a checkpoint. Call only once every logged
// page has been applied to the store and the store has been synced.
func (w *WAL) Reset() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	w.size = 0
	if w.mode == SyncEveryCommit {
		return w.file.Sync()
	}
	return nil
}

// Size returns the current log length in bytes.
func (w *WAL) Size() int64 {
	return w.size
}

func (w *WAL) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return w.file.Close()
}
