package polodb

import (
	"errors"

	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/btree"
)

// Storage-level sentinels, re-exported so callers never import internal
// packages. Every unreadable or inconsistent on-disk state matches
// ErrCorrupted with errors.Is.
var (
	ErrCorrupted    = base.ErrCorrupted
	ErrDuplicateKey = btree.ErrDuplicateKey
	ErrKeyTooLarge  = btree.ErrKeyTooLarge
)

var (
	// ErrDatabaseClosed reports use of a closed DB.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrDatabaseFailed reports a handle disabled by an error while applying
	// a committed transaction. The log holds the commit; reopen the database
	// to replay it.
	ErrDatabaseFailed = errors.New("database needs recovery, reopen it")

	// ErrTxDone reports use of a transaction after Commit or Rollback.
	ErrTxDone = errors.New("transaction has already completed")

	// ErrTxNotWritable reports a mutation attempted on a read transaction.
	ErrTxNotWritable = errors.New("transaction is read-only")

	// ErrTxTimeout reports that the writer slot was not acquired in time.
	ErrTxTimeout = errors.New("timed out waiting for write transaction")

	// ErrCollectionNotFound reports access to a collection that does not
	// exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists reports CreateCollection of a taken name.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrIndexNotFound reports access to an index that does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists reports CreateIndex on an already indexed field.
	ErrIndexExists = errors.New("index already exists")

	// ErrDocumentNotFound reports a lookup of an absent document id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocumentID reports an _id value that cannot serve as a
	// primary key.
	ErrInvalidDocumentID = errors.New("invalid document id")
)
