package polodb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghbook/polodb/document"
	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/storage"
	"github.com/ghbook/polodb/internal/wal"
)

func TestCommittedDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("events")
		if err != nil {
			return err
		}
		for i := 0; i < 100; i++ {
			if _, err := col.Insert(document.D("_id", int64(i), "n", int64(i*i))); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.View(func(tx *Tx) error {
		col := mustCollection(t, tx, "events")
		n, err := col.Count()
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), n)

		doc, err := col.FindByID(int64Val(7))
		if err != nil {
			return err
		}
		sq, _ := doc.Get("n")
		assert.Equal(t, document.Int64(49), sq)
		return nil
	}))
}

// An uncommitted log tail, as left by a crash mid-commit, is discarded on
// open without disturbing the committed state.
func TestOpenDiscardsUncommittedLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("events")
		if err != nil {
			return err
		}
		_, err = col.Insert(document.D("_id", int64(1)))
		return err
	}))
	require.NoError(t, db.Close())

	// Fake a crashed transaction: page records in the log with no commit
	// marker behind them.
	w, err := wal.Open(path+".wal", wal.SyncEveryCommit)
	require.NoError(t, err)
	junk := &base.Page{}
	junk.SetTag(base.TagCollectionLeaf)
	junk.Data[100] = 0xde
	junk.SealChecksum()
	require.NoError(t, w.AppendPage(99, 1, junk))
	require.NoError(t, w.AppendPage(99, 2, junk))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.View(func(tx *Tx) error {
		col := mustCollection(t, tx, "events")
		n, err := col.Count()
		assert.Equal(t, int64(1), n)
		return err
	}))

	// The log was truncated during recovery.
	info, err := os.Stat(path + ".wal")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

// A committed transaction whose pages reached the log but not the store is
// replayed on open. The commit is crafted by hand: a bumped header and one
// new free page, exactly what a checkpoint would have applied.
func TestOpenReplaysCommittedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("events")
		if err != nil {
			return err
		}
		_, err = col.Insert(document.D("_id", int64(1)))
		return err
	}))
	require.NoError(t, db.Close())

	backend, err := storage.OpenFile(path)
	require.NoError(t, err)
	hp := &base.Page{}
	require.NoError(t, backend.ReadPage(0, hp))
	h, err := base.DecodeHeader(hp)
	require.NoError(t, err)

	newID := base.PageID(backend.PageCount())
	require.NoError(t, backend.Close())

	h.LastSeq++
	h.FreelistHead = newID
	newHeader := &base.Page{}
	h.EncodeInto(newHeader)
	freePage := &base.Page{}
	freePage.SetTag(base.TagFree)
	freePage.SealChecksum()

	w, err := wal.Open(path+".wal", wal.SyncEveryCommit)
	require.NoError(t, err)
	require.NoError(t, w.AppendPage(h.LastSeq, 0, newHeader))
	require.NoError(t, w.AppendPage(h.LastSeq, newID, freePage))
	require.NoError(t, w.AppendCommit(h.LastSeq))
	require.NoError(t, w.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	// The logged commit is in effect: sequence advanced, file grew, and the
	// freed page heads the freelist.
	assert.Equal(t, h.LastSeq, db.pager.Header().LastSeq)
	assert.Equal(t, h.FreelistHead, db.pager.Header().FreelistHead)
	assert.Equal(t, uint32(newID)+1, db.pager.PageCount())

	// The committed data is still intact.
	require.NoError(t, db.View(func(tx *Tx) error {
		n, err := mustCollection(t, tx, "events").Count()
		assert.Equal(t, int64(1), n)
		return err
	}))
}
