// Package polodb is an embeddable, schema-less document database. Documents
// are dynamically typed values stored in named collections, addressed by a
// primary key (_id) and optionally by secondary indexes. All access happens
// inside transactions: a single writer at a time, any number of concurrent
// readers, each on a stable snapshot. Durability comes from a write-ahead
// log replayed on open.
package polodb

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/pager"
	"github.com/ghbook/polodb/internal/storage"
	"github.com/ghbook/polodb/internal/wal"
)

// DB is a handle to an open database. Safe for concurrent use.
type DB struct {
	pager *pager.Pager
	wal   *wal.WAL // nil for in-memory databases
	opts  DBOptions
	log   Logger

	// writer is a one-slot semaphore serializing write transactions.
	writer chan struct{}

	// applyMu bars new read snapshots while a commit moves its overlay into
	// the store, so a snapshot never lands between retention and apply.
	applyMu sync.RWMutex

	mu      sync.Mutex
	lastSeq uint64
	readers map[uint64]int // snapshot seq -> open reader count
	closed  bool
	failed  bool // a commit died mid-apply; only reopening recovers
}

// Open opens or creates the database file at path. A write-ahead log lives
// next to it at path+".wal"; committed transactions found there after a
// crash are replayed before Open returns.
func Open(path string, options ...DBOption) (*DB, error) {
	opts := DefaultDBOptions()
	for _, o := range options {
		o(&opts)
	}

	backend, err := storage.OpenFile(path)
	if err != nil {
		return nil, err
	}

	walMode := wal.SyncEveryCommit
	if opts.syncMode == SyncOff {
		walMode = wal.SyncOff
	}
	log, err := wal.Open(path+".wal", walMode)
	if err != nil {
		backend.Close()
		return nil, err
	}

	if err := replayLog(backend, log, opts.logger); err != nil {
		log.Close()
		backend.Close()
		return nil, err
	}

	return open(backend, log, opts)
}

// OpenMemory creates a fresh in-memory database. There is no file and no
// write-ahead log; Close discards everything.
func OpenMemory(options ...DBOption) (*DB, error) {
	opts := DefaultDBOptions()
	for _, o := range options {
		o(&opts)
	}
	return open(storage.NewMemory(), nil, opts)
}

func open(backend storage.Backend, log *wal.WAL, opts DBOptions) (*DB, error) {
	pg, err := pager.Open(backend, opts.cacheSize)
	if err != nil {
		if log != nil {
			log.Close()
		}
		backend.Close()
		return nil, err
	}

	db := &DB{
		pager:   pg,
		wal:     log,
		opts:    opts,
		log:     opts.logger,
		writer:  make(chan struct{}, 1),
		lastSeq: pg.Header().LastSeq,
		readers: make(map[uint64]int),
	}
	db.log.Info("database opened",
		"pages", pg.PageCount(),
		"lastSeq", db.lastSeq,
	)
	return db, nil
}

// replayLog applies committed log records to the store, then truncates the
// log. Uncommitted or torn records are discarded.
func replayLog(backend storage.Backend, log *wal.WAL, l Logger) error {
	if log.Size() == 0 {
		return nil
	}

	pages := 0
	lastSeq, err := log.Replay(func(seq uint64, id base.PageID, p *base.Page) error {
		pages++
		return backend.WritePage(id, p)
	})
	if err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}
	if pages > 0 {
		if err := backend.Sync(); err != nil {
			return err
		}
	}
	if err := log.Reset(); err != nil {
		return err
	}
	l.Info("wal replayed", "pages", pages, "lastSeq", lastSeq)
	return nil
}

// Begin starts a transaction. A writable transaction holds the single
// writer slot until Commit or Rollback; Begin fails with ErrTxTimeout when
// the slot is not free within the configured timeout. Read transactions
// never block and see the database as of the moment Begin returned.
func (db *DB) Begin(writable bool) (*Tx, error) {
	if !writable {
		// Registration waits out any in-flight commit apply, and snapshot
		// registration plus header capture happen under one lock acquisition,
		// so the snapshot is always a whole commit boundary.
		db.applyMu.RLock()
		defer db.applyMu.RUnlock()
		db.mu.Lock()
		if db.closed {
			db.mu.Unlock()
			return nil, ErrDatabaseClosed
		}
		if db.failed {
			db.mu.Unlock()
			return nil, ErrDatabaseFailed
		}
		seq := db.lastSeq
		db.readers[seq]++
		h := db.pager.Header()
		db.mu.Unlock()
		return newTx(db, false, seq, seq, h), nil
	}

	if db.opts.txTimeout > 0 {
		select {
		case db.writer <- struct{}{}:
		case <-time.After(db.opts.txTimeout):
			return nil, ErrTxTimeout
		}
	} else {
		db.writer <- struct{}{}
	}

	db.mu.Lock()
	if db.closed || db.failed {
		failed := db.failed
		db.mu.Unlock()
		<-db.writer
		if failed {
			return nil, ErrDatabaseFailed
		}
		return nil, ErrDatabaseClosed
	}
	start := db.lastSeq
	h := db.pager.Header()
	db.mu.Unlock()
	return newTx(db, true, start, start+1, h), nil
}

// View runs fn inside a read transaction.
func (db *DB) View(fn func(*Tx) error) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Update runs fn inside a write transaction, committing when fn returns nil
// and rolling back otherwise.
func (db *DB) Update(fn func(*Tx) error) error {
	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// releaseReader unregisters a read snapshot and lets the pager drop page
// versions nobody needs anymore.
func (db *DB) releaseReader(seq uint64) {
	db.mu.Lock()
	db.readers[seq]--
	if db.readers[seq] <= 0 {
		delete(db.readers, seq)
	}
	min := db.minReaderSeqLocked()
	db.mu.Unlock()
	db.pager.ReleaseSnapshots(min)
}

// disable marks the handle failed after an error between the durable commit
// marker and the finished apply. The store may be behind the log, so every
// later transaction is refused; reopening replays the log and catches up.
func (db *DB) disable(err error) {
	db.mu.Lock()
	db.failed = true
	db.mu.Unlock()
	db.log.Error("commit apply failed, database handle disabled", "error", err)
}

// minReaderSeqLocked returns the oldest open read snapshot, or the latest
// committed sequence when no reader is active. Callers hold db.mu.
func (db *DB) minReaderSeqLocked() uint64 {
	min := db.lastSeq
	for seq := range db.readers {
		if seq < min {
			min = seq
		}
	}
	return min
}

// Close waits for the active write transaction, then closes the log and the
// store. Open read transactions fail on their next page access.
func (db *DB) Close() error {
	// Drain the writer slot so no commit is mid-flight.
	db.writer <- struct{}{}
	defer func() { <-db.writer }()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	db.closed = true
	db.mu.Unlock()

	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			db.pager.Close()
			return err
		}
	}
	return db.pager.Close()
}
