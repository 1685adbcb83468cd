package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghbook/polodb/internal/base"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	file, err := OpenFile(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	mem := NewMemory()
	t.Cleanup(func() { mem.Close() })

	return map[string]Backend{"file": file, "memory": mem}
}

func TestReadWriteRoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := &base.Page{}
			p.SetTag(base.TagCollectionLeaf)
			p.Data[500] = 0x42
			p.SealChecksum()

			require.NoError(t, b.WritePage(3, p))
			assert.Equal(t, uint32(4), b.PageCount())

			got := &base.Page{}
			require.NoError(t, b.ReadPage(3, got))
			assert.Equal(t, p.Data, got.Data)
			require.NoError(t, got.VerifyChecksum())
		})
	}
}

func TestReadPastEnd(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := &base.Page{}
			err := b.ReadPage(10, p)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.ErrorIs(t, err, base.ErrCorrupted)
		})
	}
}

func TestWriteExtendsGaps(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := &base.Page{}
			p.SetTag(base.TagFree)
			require.NoError(t, b.WritePage(5, p))

			// Intermediate pages are readable zero pages.
			got := &base.Page{}
			require.NoError(t, b.ReadPage(2, got))
			assert.Equal(t, base.Page{}, *got)
		})
	}
}

func TestWriteCopiesPage(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := &base.Page{}
			p.Data[9] = 0x01
			require.NoError(t, b.WritePage(0, p))

			// Mutating the caller's buffer must not leak into the store.
			p.Data[9] = 0x02
			got := &base.Page{}
			require.NoError(t, b.ReadPage(0, got))
			assert.Equal(t, byte(0x01), got.Data[9])
		})
	}
}

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	b, err := OpenFile(path)
	require.NoError(t, err)

	p := &base.Page{}
	p.SetTag(base.TagCatalogLeaf)
	p.SealChecksum()
	require.NoError(t, b.WritePage(1, p))
	require.NoError(t, b.Sync())
	require.NoError(t, b.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint32(2), reopened.PageCount())
	got := &base.Page{}
	require.NoError(t, reopened.ReadPage(1, got))
	assert.Equal(t, p.Data, got.Data)
}

func TestOpenRejectsUnalignedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.db")
	require.NoError(t, os.WriteFile(path, make([]byte, base.PageSize+100), 0o600))

	_, err := OpenFile(path)
	assert.ErrorIs(t, err, base.ErrCorrupted)
}

func TestDoubleClose(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Close())
			assert.ErrorIs(t, b.Close(), ErrClosed)
		})
	}
}
