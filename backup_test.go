package polodb

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghbook/polodb/document"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db,
		document.D("_id", int64(1), "name", "ada"),
		document.D("_id", int64(2), "name", "bob"),
	)
	require.NoError(t, db.Update(func(tx *Tx) error {
		return mustCollection(t, tx, "users").CreateIndex("name", true)
	}))

	var buf bytes.Buffer
	require.NoError(t, db.Backup(&buf))

	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, Restore(&buf, restored))

	db2, err := Open(restored)
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, db2.View(func(tx *Tx) error {
		col := mustCollection(t, tx, "users")
		n, err := col.Count()
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), n)

		// The index came along.
		assert.Equal(t, []IndexInfo{{Field: "name", Unique: true}}, col.Indexes())
		cur, err := col.Find("name", document.String("bob"), document.String("bob"))
		if err != nil {
			return err
		}
		defer cur.Close()
		require.True(t, cur.Next())
		id, _ := cur.Document().Get("_id")
		assert.Equal(t, document.Int64(2), id)
		return cur.Err()
	}))
}

func TestRestoreRejectsDamagedStream(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, document.D("_id", int64(1)))

	var buf bytes.Buffer
	require.NoError(t, db.Backup(&buf))

	damaged := buf.Bytes()
	damaged[len(damaged)/2] ^= 0xff

	err := Restore(bytes.NewReader(damaged), filepath.Join(t.TempDir(), "bad.db"))
	assert.Error(t, err)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	err := Restore(bytes.NewReader([]byte("not a backup")), filepath.Join(t.TempDir(), "bad.db"))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestBackupOfMemoryDatabase(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("notes")
		if err != nil {
			return err
		}
		_, err = col.Insert(document.D("_id", int64(1), "text", "kept"))
		return err
	}))

	var buf bytes.Buffer
	require.NoError(t, db.Backup(&buf))

	restored := filepath.Join(t.TempDir(), "from-memory.db")
	require.NoError(t, Restore(&buf, restored))

	db2, err := Open(restored)
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, db2.View(func(tx *Tx) error {
		doc, err := mustCollection(t, tx, "notes").FindByID(int64Val(1))
		if err != nil {
			return err
		}
		text, _ := doc.Get("text")
		assert.Equal(t, document.String("kept"), text)
		return nil
	}))
}

func TestBackupOfReopenedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *Tx) error {
		col, err := tx.CreateCollection("users")
		if err != nil {
			return err
		}
		_, err = col.Insert(document.D("_id", int64(1), "name", "ada"))
		return err
	}))
	require.NoError(t, db.Close())

	// A reopened handle has a cold cache, so every page streams straight
	// from the file, the header page included.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	require.NoError(t, db.Backup(&buf))

	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, Restore(&buf, restored))

	db2, err := Open(restored)
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, db2.View(func(tx *Tx) error {
		n, err := mustCollection(t, tx, "users").Count()
		assert.Equal(t, int64(1), n)
		return err
	}))
}
