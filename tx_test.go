package polodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghbook/polodb/document"
)

func mustCollection(t *testing.T, tx *Tx, name string) *Collection {
	t.Helper()
	col, err := tx.Collection(name)
	require.NoError(t, err)
	return col
}

func seedUsers(t *testing.T, db *DB, docs ...*document.Document) {
	t.Helper()
	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("users")
		if err != nil {
			return err
		}
		for _, d := range docs {
			if _, err := col.Insert(d); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestCommitMakesChangesVisible(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	_, err = mustCollection(t, tx, "users").Insert(document.D("name", "ada"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, db.View(func(tx *Tx) error {
		n, err := mustCollection(t, tx, "users").Count()
		assert.Equal(t, int64(1), n)
		return err
	}))
}

func TestRollbackDiscardsChanges(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	_, err = mustCollection(t, tx, "users").Insert(document.D("name", "ghost"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	require.NoError(t, db.View(func(tx *Tx) error {
		n, err := mustCollection(t, tx, "users").Count()
		assert.Equal(t, int64(0), n)
		return err
	}))
}

func TestRollbackReclaimsPages(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	before := db.pager.PageCount()

	// Stage a lot of data, then roll back. Nothing reached disk, so the
	// file must not have grown.
	tx, err := db.Begin(true)
	require.NoError(t, err)
	col := mustCollection(t, tx, "users")
	for i := 0; i < 500; i++ {
		_, err := col.Insert(document.D("n", int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Rollback())

	assert.Equal(t, before, db.pager.PageCount())
}

func TestTxDoneAfterCommit(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	_, err = tx.Collection("users")
	assert.ErrorIs(t, err, ErrTxDone)
	assert.NoError(t, tx.Rollback())
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)

	require.NoError(t, db.View(func(tx *Tx) error {
		_, err := tx.CreateCollection("other")
		assert.ErrorIs(t, err, ErrTxNotWritable)

		col := mustCollection(t, tx, "users")
		_, err = col.Insert(document.D("name", "x"))
		assert.ErrorIs(t, err, ErrTxNotWritable)

		err = col.Delete(document.Int64(1))
		assert.ErrorIs(t, err, ErrTxNotWritable)

		assert.ErrorIs(t, tx.DropCollection("users"), ErrTxNotWritable)
		return nil
	}))
}

func TestSnapshotIsolation(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, document.D("_id", int64(1), "name", "ada"))

	// Reader pins its snapshot before the writer commits.
	reader, err := db.Begin(false)
	require.NoError(t, err)
	defer reader.Rollback()

	require.NoError(t, db.Update(func(tx *Tx) error {
		col := mustCollection(t, tx, "users")
		if _, err := col.Insert(document.D("_id", int64(2), "name", "bob")); err != nil {
			return err
		}
		return col.Update(int64Val(1), document.D("name", "ada lovelace"))
	}))

	// The reader still sees the pre-commit state.
	col := mustCollection(t, reader, "users")
	n, err := col.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	doc, err := col.FindByID(int64Val(1))
	require.NoError(t, err)
	name, _ := doc.Get("name")
	assert.Equal(t, document.String("ada"), name)

	// A fresh reader sees the commit.
	require.NoError(t, db.View(func(tx *Tx) error {
		n, err := mustCollection(t, tx, "users").Count()
		assert.Equal(t, int64(2), n)
		return err
	}))
}

func TestSnapshotSurvivesMultipleCommits(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, document.D("_id", int64(1), "v", int64(0)))

	reader, err := db.Begin(false)
	require.NoError(t, err)
	defer reader.Rollback()

	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, db.Update(func(tx *Tx) error {
			return mustCollection(t, tx, "users").
				Update(int64Val(1), document.D("v", int64(i)))
		}))
	}

	doc, err := mustCollection(t, reader, "users").FindByID(int64Val(1))
	require.NoError(t, err)
	v, _ := doc.Get("v")
	assert.Equal(t, document.Int64(0), v)
}

func TestEmptyCommit(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Another writer can start immediately.
	tx, err = db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func int64Val(i int64) document.Value { return document.Int64(i) }

func TestReadSnapshotsStayWholeDuringCommits(t *testing.T) {
	db := openTestDB(t, WithSyncOff())
	seedUsers(t, db, document.D("_id", int64(1), "a", int64(0), "b", int64(0)))

	done := make(chan error, 1)
	go func() {
		for i := int64(1); i <= 200; i++ {
			err := db.Update(func(tx *Tx) error {
				col, err := tx.Collection("users")
				if err != nil {
					return err
				}
				return col.Update(int64Val(1), document.D("a", i, "b", i))
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	// Every commit writes a and b together, so no snapshot may ever see
	// them disagree, no matter where it lands relative to a commit.
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
		require.NoError(t, db.View(func(tx *Tx) error {
			doc, err := mustCollection(t, tx, "users").FindByID(int64Val(1))
			if err != nil {
				return err
			}
			a, _ := doc.Get("a")
			b, _ := doc.Get("b")
			assert.Equal(t, a, b)
			return nil
		}))
	}
}
