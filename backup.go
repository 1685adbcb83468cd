package polodb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/storage"
)

// Backup file layout:
//
//	[Magic "PLBK": 4][Version: 2][PageSize: 2][PageCount: 4]
//	[zstd frame: PageCount pages followed by a BLAKE2b-256 digest of them]
//
// The digest rides inside the compressed frame so the stream stays
// self-delimiting.
const (
	backupMagic   = "PLBK"
	backupVersion = 1
)

var errBadBackup = fmt.Errorf("not a valid backup stream: %w", base.ErrCorrupted)

// Backup streams a consistent snapshot of the whole database to w. It holds
// the writer slot for the duration, so writers queue behind it while
// readers proceed.
func (db *DB) Backup(w io.Writer) error {
	db.writer <- struct{}{}
	defer func() { <-db.writer }()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	if db.failed {
		db.mu.Unlock()
		return ErrDatabaseFailed
	}
	seq := db.lastSeq
	db.mu.Unlock()

	count := db.pager.PageCount()

	head := make([]byte, 12)
	copy(head[0:4], backupMagic)
	binary.LittleEndian.PutUint16(head[4:6], backupVersion)
	binary.LittleEndian.PutUint16(head[6:8], base.PageSize)
	binary.LittleEndian.PutUint32(head[8:12], count)
	if _, err := w.Write(head); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	hash, err := blake2b.New256(nil)
	if err != nil {
		return err
	}
	body := io.MultiWriter(enc, hash)

	for id := base.PageID(0); uint32(id) < count; id++ {
		pg, err := db.pager.ReadPage(id, seq)
		if err != nil {
			enc.Close()
			return fmt.Errorf("backup page %d: %w", id, err)
		}
		if _, err := body.Write(pg.Data[:]); err != nil {
			enc.Close()
			return err
		}
	}
	if _, err := enc.Write(hash.Sum(nil)); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	db.log.Info("backup written", "pages", count, "seq", seq)
	return nil
}

// Restore materializes a backup stream into a fresh database file at path.
// The digest is verified before Restore returns; a damaged stream leaves
// the target file behind but reports the corruption.
func Restore(r io.Reader, path string) error {
	head := make([]byte, 12)
	if _, err := io.ReadFull(r, head); err != nil {
		return errBadBackup
	}
	if string(head[0:4]) != backupMagic {
		return errBadBackup
	}
	if binary.LittleEndian.Uint16(head[4:6]) != backupVersion {
		return fmt.Errorf("unsupported backup version: %w", base.ErrCorrupted)
	}
	if binary.LittleEndian.Uint16(head[6:8]) != base.PageSize {
		return base.ErrInvalidPageSize
	}
	count := binary.LittleEndian.Uint32(head[8:12])

	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	backend, err := storage.OpenFile(path)
	if err != nil {
		return err
	}
	defer backend.Close()
	if backend.PageCount() != 0 {
		return fmt.Errorf("restore target %s is not empty", path)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return err
	}

	pg := &base.Page{}
	for id := base.PageID(0); uint32(id) < count; id++ {
		if _, err := io.ReadFull(dec, pg.Data[:]); err != nil {
			return errBadBackup
		}
		hash.Write(pg.Data[:])
		if err := backend.WritePage(id, pg); err != nil {
			return err
		}
	}

	want := make([]byte, blake2b.Size256)
	if _, err := io.ReadFull(dec, want); err != nil {
		return errBadBackup
	}
	if !bytes.Equal(hash.Sum(nil), want) {
		return fmt.Errorf("backup digest mismatch: %w", base.ErrCorrupted)
	}
	return backend.Sync()
}
