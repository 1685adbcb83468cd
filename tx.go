package polodb

import (
	"fmt"

	"github.com/google/btree"

	"github.com/ghbook/polodb/internal/base"
	bt "github.com/ghbook/polodb/internal/btree"
	"github.com/ghbook/polodb/internal/catalog"
	"github.com/ghbook/polodb/internal/freelist"
)

// Tx is a transaction. Read transactions see the database as of Begin;
// write transactions stage every page they touch in a private overlay that
// reaches disk only on Commit, so Rollback never has anything to undo.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	db       *DB
	writable bool
	done     bool

	startSeq uint64 // snapshot the transaction reads from
	seq      uint64 // commit sequence (writer only; startSeq+1)

	header   base.Header
	freelist freelist.List
	catalog  *catalog.Catalog

	// cols caches collection handles by name. Repeated opens inside one
	// transaction share a handle, so root movements through one are seen by
	// all of them.
	cols map[string]*Collection

	// dirty is the copy-on-write overlay, ordered by page id so commits lay
	// out log records deterministically.
	dirty *btree.BTreeG[dirtyPage]

	// nextNew is the id handed out by the next file extension.
	nextNew base.PageID
}

type dirtyPage struct {
	id   base.PageID
	page *base.Page
}

func lessDirty(a, b dirtyPage) bool { return a.id < b.id }

func newTx(db *DB, writable bool, startSeq, seq uint64, h base.Header) *Tx {
	tx := &Tx{
		db:       db,
		writable: writable,
		startSeq: startSeq,
		seq:      seq,
		header:   h,
		freelist: freelist.List{Head: h.FreelistHead},
		cols:     make(map[string]*Collection),
		dirty:    btree.NewG(8, lessDirty),
		nextNew:  base.PageID(db.pager.PageCount()),
	}
	tx.catalog = catalog.Open(tx, h.CatalogRoot)
	return tx
}

// ReadPage returns the transaction's view of a page: the staged copy when
// the page is dirty, the Begin-time snapshot otherwise.
func (tx *Tx) ReadPage(id base.PageID) (*base.Page, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if d, ok := tx.dirty.Get(dirtyPage{id: id}); ok {
		return d.page, nil
	}
	return tx.db.pager.ReadPage(id, tx.startSeq)
}

// WritePage stages a page image in the transaction's overlay.
func (tx *Tx) WritePage(id base.PageID, p *base.Page) error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	tx.dirty.ReplaceOrInsert(dirtyPage{id: id, page: p})
	return nil
}

// Allocate returns a page id for new data, reusing a freed page when one is
// available.
func (tx *Tx) Allocate() (base.PageID, error) {
	if !tx.writable {
		return base.NilPage, ErrTxNotWritable
	}
	return tx.freelist.Allocate(tx)
}

// Free returns a page to the freelist.
func (tx *Tx) Free(id base.PageID) error {
	if !tx.writable {
		return ErrTxNotWritable
	}
	return tx.freelist.Free(tx, id)
}

// Extend reserves the next page id past the current end of file. The page
// materializes when its staged image is committed.
func (tx *Tx) Extend() (base.PageID, error) {
	id := tx.nextNew
	tx.nextNew++
	return id, nil
}

var (
	_ bt.Store        = (*Tx)(nil)
	_ freelist.PageIO = (*Tx)(nil)
)

// Commit makes every staged change durable and visible. On return the
// transaction is done regardless of the outcome; a failed commit leaves the
// database at its pre-transaction state.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	defer tx.finish()

	if tx.dirty.Len() == 0 && tx.header == tx.db.pager.Header() {
		return nil
	}

	// The header rides along as a regular logged page so recovery restores
	// the roots and the sequence number atomically with the data.
	tx.header.FreelistHead = tx.freelist.Head
	tx.header.CatalogRoot = tx.catalog.Root()
	tx.header.LastSeq = tx.seq
	hp := &base.Page{}
	tx.header.EncodeInto(hp)
	tx.dirty.ReplaceOrInsert(dirtyPage{id: 0, page: hp})

	pages := make([]dirtyPage, 0, tx.dirty.Len())
	tx.dirty.Ascend(func(d dirtyPage) bool {
		if d.id != 0 {
			d.page.SealChecksum()
		}
		pages = append(pages, d)
		return true
	})

	if tx.db.wal != nil {
		if err := tx.logPages(pages); err != nil {
			return fmt.Errorf("commit %d: %w", tx.seq, err)
		}
	}

	// The marker is durable, so the transaction is committed; the overlay
	// now has to reach the store. New read snapshots are barred until it
	// does, and a failure in here leaves the store behind the log, so the
	// handle is disabled and reopening replays the log.
	tx.db.applyMu.Lock()
	err := tx.applyCommit(pages)
	tx.db.applyMu.Unlock()
	if err != nil {
		tx.db.disable(err)
		return fmt.Errorf("commit %d: %w", tx.seq, err)
	}

	tx.db.log.Info("transaction committed", "seq", tx.seq, "pages", len(pages))
	return nil
}

// logPages appends the staged pages and the commit marker. The marker is the
// durability point; when an append fails before it, nothing committed and
// the orphaned records are truncated away so a later replay cannot mistake
// them for part of the next transaction.
func (tx *Tx) logPages(pages []dirtyPage) error {
	for _, d := range pages {
		if err := tx.db.wal.AppendPage(tx.seq, d.id, d.page); err != nil {
			return tx.dropOrphans(err)
		}
	}
	if err := tx.db.wal.AppendCommit(tx.seq); err != nil {
		return tx.dropOrphans(err)
	}
	return nil
}

func (tx *Tx) dropOrphans(cause error) error {
	// The log was checkpointed after the previous commit, so everything in
	// it belongs to this failed one.
	if err := tx.db.wal.Reset(); err != nil {
		tx.db.disable(err)
	}
	return cause
}

// applyCommit moves the committed overlay into the pager, syncs, checkpoints
// the log, and publishes the new sequence. Runs with db.applyMu held so no
// read snapshot can register against a half-applied store.
func (tx *Tx) applyCommit(pages []dirtyPage) error {
	db := tx.db

	// With no open reader nothing needs the pre-commit images.
	db.mu.Lock()
	minReader := tx.seq
	if len(db.readers) > 0 {
		minReader = db.minReaderSeqLocked()
	}
	db.mu.Unlock()

	for _, d := range pages {
		if err := db.pager.WriteCommitted(d.id, d.page, tx.seq, minReader); err != nil {
			return fmt.Errorf("apply page %d: %w", d.id, err)
		}
	}
	if db.opts.syncMode == SyncEveryCommit {
		if err := db.pager.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}

	// Checkpoint: every logged page is in the store, the log can restart.
	if db.wal != nil {
		if err := db.wal.Reset(); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}

	db.mu.Lock()
	db.lastSeq = tx.seq
	db.mu.Unlock()
	return nil
}

// Rollback discards the transaction. Staged pages never reached disk, so
// this only releases the writer slot or the read snapshot. Rollback after
// Commit is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *Tx) finish() {
	tx.done = true
	tx.dirty.Clear(false)
	if tx.writable {
		<-tx.db.writer
	} else {
		tx.db.releaseReader(tx.startSeq)
	}
}
