package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghbook/polodb/internal/base"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "test.wal"), SyncEveryCommit)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func testPage(fill byte) *base.Page {
	p := &base.Page{}
	p.SetTag(base.TagCollectionLeaf)
	for i := base.PageHeaderSize; i < base.PageSize; i++ {
		p.Data[i] = fill
	}
	p.SealChecksum()
	return p
}

type replayed struct {
	seq  uint64
	id   base.PageID
	page *base.Page
}

func collectReplay(t *testing.T, w *WAL) ([]replayed, uint64) {
	t.Helper()
	var out []replayed
	last, err := w.Replay(func(seq uint64, id base.PageID, p *base.Page) error {
		out = append(out, replayed{seq, id, p})
		return nil
	})
	require.NoError(t, err)
	return out, last
}

func TestReplayCommittedPages(t *testing.T) {
	w := openTestWAL(t)

	require.NoError(t, w.AppendPage(1, 3, testPage(0xaa)))
	require.NoError(t, w.AppendPage(1, 7, testPage(0xbb)))
	require.NoError(t, w.AppendCommit(1))

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(1), last)
	require.Len(t, got, 2)
	assert.Equal(t, base.PageID(3), got[0].id)
	assert.Equal(t, base.PageID(7), got[1].id)
	assert.Equal(t, testPage(0xaa).Data, got[0].page.Data)
	assert.Equal(t, testPage(0xbb).Data, got[1].page.Data)
}

func TestReplayDiscardsUncommittedTail(t *testing.T) {
	w := openTestWAL(t)

	require.NoError(t, w.AppendPage(1, 3, testPage(0xaa)))
	require.NoError(t, w.AppendCommit(1))
	// Transaction 2 never committed.
	require.NoError(t, w.AppendPage(2, 4, testPage(0xcc)))
	require.NoError(t, w.AppendPage(2, 5, testPage(0xdd)))

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(1), last)
	require.Len(t, got, 1)
	assert.Equal(t, base.PageID(3), got[0].id)
}

func TestReplayDiscardsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.wal")
	w, err := Open(path, SyncEveryCommit)
	require.NoError(t, err)

	require.NoError(t, w.AppendPage(1, 3, testPage(0xaa)))
	require.NoError(t, w.AppendCommit(1))
	require.NoError(t, w.AppendPage(2, 4, testPage(0xbb)))
	require.NoError(t, w.AppendCommit(2))
	require.NoError(t, w.Close())

	// Simulate a crash mid-write of the second transaction.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-100))

	w, err = Open(path, SyncEveryCommit)
	require.NoError(t, err)
	defer w.Close()

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(1), last)
	require.Len(t, got, 1)
}

func TestReplayStopsAtCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.wal")
	w, err := Open(path, SyncEveryCommit)
	require.NoError(t, err)

	require.NoError(t, w.AppendPage(1, 3, testPage(0xaa)))
	require.NoError(t, w.AppendCommit(1))
	firstTx := w.Size()
	require.NoError(t, w.AppendPage(2, 4, testPage(0xbb)))
	require.NoError(t, w.AppendCommit(2))
	require.NoError(t, w.Close())

	// Flip a payload byte inside the second transaction.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[firstTx+recordHeaderSize+50] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	w, err = Open(path, SyncEveryCommit)
	require.NoError(t, err)
	defer w.Close()

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(1), last)
	require.Len(t, got, 1)
	assert.Equal(t, base.PageID(3), got[0].id)
}

func TestReplayMultipleTransactions(t *testing.T) {
	w := openTestWAL(t)

	require.NoError(t, w.AppendPage(1, 3, testPage(0x01)))
	require.NoError(t, w.AppendCommit(1))
	require.NoError(t, w.AppendPage(2, 3, testPage(0x02)))
	require.NoError(t, w.AppendCommit(2))

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(2), last)
	require.Len(t, got, 2)

	// Replay order preserves log order so the later image wins on apply.
	assert.Equal(t, uint64(1), got[0].seq)
	assert.Equal(t, uint64(2), got[1].seq)
	assert.Equal(t, testPage(0x02).Data, got[1].page.Data)
}

func TestResetEmptiesLog(t *testing.T) {
	w := openTestWAL(t)

	require.NoError(t, w.AppendPage(1, 3, testPage(0xaa)))
	require.NoError(t, w.AppendCommit(1))
	require.NoError(t, w.Reset())

	assert.Equal(t, int64(0), w.Size())
	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(0), last)
	assert.Empty(t, got)
}

func TestEmptyLogReplay(t *testing.T) {
	w := openTestWAL(t)
	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(0), last)
	assert.Empty(t, got)
}

func TestClosedWAL(t *testing.T) {
	w := openTestWAL(t)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.AppendPage(1, 3, testPage(0)), ErrClosed)
	assert.ErrorIs(t, w.AppendCommit(1), ErrClosed)
	assert.ErrorIs(t, w.Reset(), ErrClosed)
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestReplayDropsOrphanedRecords(t *testing.T) {
	w := openTestWAL(t)

	// Transaction 1 died before its marker; transaction 2 committed. The
	// marker must not sweep up transaction 1's pages.
	require.NoError(t, w.AppendPage(1, 5, testPage(0xaa)))
	require.NoError(t, w.AppendPage(2, 6, testPage(0xbb)))
	require.NoError(t, w.AppendCommit(2))

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(2), last)
	require.Len(t, got, 1)
	assert.Equal(t, base.PageID(6), got[0].id)
	assert.Equal(t, testPage(0xbb).Data, got[0].page.Data)
}

func TestReplayCommitCoversOnlyItsOwnRecords(t *testing.T) {
	w := openTestWAL(t)

	// A marker whose transaction logged no pages commits nothing, even with
	// another transaction's orphans sitting right before it.
	require.NoError(t, w.AppendPage(1, 5, testPage(0xaa)))
	require.NoError(t, w.AppendCommit(2))

	got, last := collectReplay(t, w)
	assert.Equal(t, uint64(2), last)
	assert.Empty(t, got)
}
