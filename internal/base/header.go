package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// MagicNumber identifies the file format ("Polo", little-endian).
	MagicNumber uint32 = 0x6f6c6f50

	FormatVersion uint16 = 1

	// headerLen is the encoded size of the header fields up to and
	// including the checksum.
	headerLen = 28
)

// Header is the database header stored in page 0.
// Layout: [Magic: 4][Version: 2][PageSize: 2][FreelistHead: 4]
//
//	[CatalogRoot: 4][LastSeq: 8][Checksum: 4]
type Header struct {
	Magic        uint32
	Version      uint16
	PageSize     uint16
	FreelistHead PageID
	CatalogRoot  PageID
	LastSeq      uint64
}

// NewHeader returns a header for a freshly initialized database.
func NewHeader() Header {
	return Header{
		Magic:    MagicNumber,
		Version:  FormatVersion,
		PageSize: PageSize,
	}
}

// EncodeInto serializes the header into page 0, including its checksum.
func (h Header) EncodeInto(p *Page) {
	b := p.Data[:]
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.PageSize)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.FreelistHead))
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.CatalogRoot))
	binary.LittleEndian.PutUint64(b[16:24], h.LastSeq)
	binary.LittleEndian.PutUint32(b[24:28], uint32(xxhash.Sum64(b[:24])))
}

// DecodeHeader parses and validates page 0.
func DecodeHeader(p *Page) (Header, error) {
	b := p.Data[:]
	h := Header{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint16(b[4:6]),
		PageSize:     binary.LittleEndian.Uint16(b[6:8]),
		FreelistHead: PageID(binary.LittleEndian.Uint32(b[8:12])),
		CatalogRoot:  PageID(binary.LittleEndian.Uint32(b[12:16])),
		LastSeq:      binary.LittleEndian.Uint64(b[16:24]),
	}
	if h.Magic != MagicNumber {
		return Header{}, ErrInvalidMagicNumber
	}
	if h.Version != FormatVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.PageSize != PageSize {
		return Header{}, ErrInvalidPageSize
	}
	stored := binary.LittleEndian.Uint32(b[24:28])
	if stored != uint32(xxhash.Sum64(b[:24])) {
		return Header{}, ErrInvalidChecksum
	}
	return h, nil
}
