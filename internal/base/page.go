// Package base defines the on-disk page type, page tags, and checksums
// shared by every layer of the engine.
package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	PageSize = 4096

	// PageHeaderSize is the common prefix of every data page:
	// [Tag: 1][Flags: 1][NumKeys: 2][Checksum: 4]
	PageHeaderSize = 8
)

// Page tags (byte 0 of every data page).
const (
	TagCatalogInterior    uint8 = 1
	TagCatalogLeaf        uint8 = 2
	TagCollectionInterior uint8 = 3
	TagCollectionLeaf     uint8 = 4
	TagOverflow           uint8 = 5
	TagFree               uint8 = 6
)

// PageID identifies a page by its index in the backing file. Page 0 is the
// header page; 0 therefore doubles as the nil page reference.
type PageID uint32

// NilPage marks an absent page reference (no child, end of chain).
const NilPage PageID = 0

// Page is a raw 4096-byte disk page.
//
// DATA PAGE LAYOUT:
// ┌────────────────────────────────────────────────────────────┐
// │ Tag (1) │ Flags (1) │ NumKeys (2) │ Checksum (4)           │
// ├────────────────────────────────────────────────────────────┤
// │ Payload (tag-specific, 4088 bytes)                         │
// └────────────────────────────────────────────────────────────┘
//
// Overflow pages end with a 4-byte next-page pointer; free pages store the
// next free page id at the start of the payload. The checksum is computed
// over the full page with the checksum field zeroed, and is verified on
// every read from durable storage.
type Page struct {
	Data [PageSize]byte
}

func (p *Page) Tag() uint8       { return p.Data[0] }
func (p *Page) SetTag(tag uint8) { p.Data[0] = tag }

func (p *Page) Flags() uint8      { return p.Data[1] }
func (p *Page) SetFlags(fl uint8) { p.Data[1] = fl }

// NumKeys is the entry count for tree pages and the payload length for
// overflow pages.
func (p *Page) NumKeys() uint16 {
	return binary.LittleEndian.Uint16(p.Data[2:4])
}

func (p *Page) SetNumKeys(n uint16) {
	binary.LittleEndian.PutUint16(p.Data[2:4], n)
}

func (p *Page) Checksum() uint32 {
	return binary.LittleEndian.Uint32(p.Data[4:8])
}

// ComputeChecksum hashes the page with the checksum field zeroed.
func (p *Page) ComputeChecksum() uint32 {
	var h xxhash.Digest
	h.Reset()
	_, _ = h.Write(p.Data[:4])
	_, _ = h.Write([]byte{0, 0, 0, 0})
	_, _ = h.Write(p.Data[8:])
	return uint32(h.Sum64())
}

// SealChecksum stores the current checksum into the page. Call before
// writing the page to durable storage.
func (p *Page) SealChecksum() {
	binary.LittleEndian.PutUint32(p.Data[4:8], p.ComputeChecksum())
}

// VerifyChecksum validates the stored checksum.
func (p *Page) VerifyChecksum() error {
	if p.Checksum() != p.ComputeChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// Clone returns a copy of the page.
func (p *Page) Clone() *Page {
	out := &Page{}
	out.Data = p.Data
	return out
}

// Overflow page payload: [PageHeaderSize .. PageSize-4) is data, the last
// four bytes are the next chain page (NilPage terminates).

// OverflowCapacity is the payload capacity of one overflow page.
const OverflowCapacity = PageSize - PageHeaderSize - 4

func (p *Page) OverflowData() []byte {
	n := int(p.NumKeys())
	if n > OverflowCapacity {
		n = OverflowCapacity
	}
	return p.Data[PageHeaderSize : PageHeaderSize+n]
}

func (p *Page) SetOverflowData(b []byte) {
	copy(p.Data[PageHeaderSize:PageSize-4], b)
	p.SetNumKeys(uint16(len(b)))
}

// OverflowNext reads the trailing next-page pointer.
func (p *Page) OverflowNext() PageID {
	return PageID(binary.LittleEndian.Uint32(p.Data[PageSize-4:]))
}

func (p *Page) SetOverflowNext(next PageID) {
	binary.LittleEndian.PutUint32(p.Data[PageSize-4:], uint32(next))
}

// FreeNext reads the free-chain successor of a Free page.
func (p *Page) FreeNext() PageID {
	return PageID(binary.LittleEndian.Uint32(p.Data[PageHeaderSize:]))
}

func (p *Page) SetFreeNext(next PageID) {
	binary.LittleEndian.PutUint32(p.Data[PageHeaderSize:], uint32(next))
}
