package polodb

import "time"

// SyncMode controls when database writes are fsynced to disk
type SyncMode int

const (
	// SyncEveryCommit fsyncs the log before a commit is acknowledged.
	// - Guarantees zero data loss on power failure
	// - Limited by fsync latency (typically 1-10ms per commit)
	// - Use for: Financial transactions, critical data
	SyncEveryCommit SyncMode = iota

	// SyncOff disables fsync entirely (testing/bulk loads only).
	// - Maximum throughput
	// - Recent commits may be lost on crash, but log replay discards any
	//   torn tail so the database stays consistent
	// - Use for: Testing, bulk imports with external durability
	SyncOff
)

// DBOptions configures database behavior.
type DBOptions struct {
	syncMode  SyncMode
	cacheSize uint32        // Page cache capacity in pages. 0 means the default.
	txTimeout time.Duration // How long Begin waits for the writer slot. 0 waits forever.
	logger    Logger
}

// DefaultDBOptions returns safe default configuration.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		syncMode:  SyncEveryCommit,
		cacheSize: 1024,
		txTimeout: 10 * time.Second,
		logger:    DiscardLogger{},
	}
}

// DBOption configures database options using the functional options pattern.
type DBOption func(*DBOptions)

// WithSyncEveryCommit configures the database to fsync on every commit.
// This provides maximum durability (zero data loss) but lower throughput.
func WithSyncEveryCommit() DBOption {
	return func(opts *DBOptions) {
		opts.syncMode = SyncEveryCommit
	}
}

// WithSyncOff disables fsync entirely.
// This provides maximum throughput but recently committed data may be lost
// on crash. Only use for testing or bulk loads where data can be
// reconstructed.
func WithSyncOff() DBOption {
	return func(opts *DBOptions) {
		opts.syncMode = SyncOff
	}
}

// WithCacheSize sets the page cache capacity in pages.
func WithCacheSize(pages uint32) DBOption {
	return func(opts *DBOptions) {
		opts.cacheSize = pages
	}
}

// WithTxTimeout bounds how long Begin waits for the single writer slot
// before failing with ErrTxTimeout. Zero waits forever.
func WithTxTimeout(d time.Duration) DBOption {
	return func(opts *DBOptions) {
		opts.txTimeout = d
	}
}

// WithLogger routes internal diagnostics to the given logger.
func WithLogger(l Logger) DBOption {
	return func(opts *DBOptions) {
		opts.logger = l
	}
}
