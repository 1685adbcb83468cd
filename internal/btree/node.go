// Package btree implements the on-disk B+tree used for collections, indexes,
// and the catalog. Keys are order-preserving byte strings; values live inline
// in leaf pages or, past a size threshold, in overflow page chains.
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ghbook/polodb/internal/base"
)

const (
	// MaxKeySize bounds encoded keys so any page fits at least two entries.
	MaxKeySize = 1024

	// maxInlineValue is the largest value stored directly in a leaf. Larger
	// values move to an overflow chain and the leaf keeps an 8-byte
	// reference.
	maxInlineValue = 512

	// overflowRefSize is [TotalLen: 4][FirstPage: 4].
	overflowRefSize = 8

	// leafElemSize is [KeyOffset: 2][KeySize: 2][ValueSize: 2][Flags: 2].
	leafElemSize = 8

	// branchElemSize is [KeyOffset: 2][KeySize: 2][ChildID: 4]. The child is
	// the subtree to the right of the key; the leftmost child is stored
	// separately at the start of the payload.
	branchElemSize = 8

	// fillUnderflow triggers rebalancing when a node shrinks below it.
	fillUnderflow = base.PageSize / 4
)

// Value flags.
const (
	// flagOverflow marks a leaf value that is an overflow chain reference.
	flagOverflow uint8 = 1 << 0
)

// Family selects the page tags a tree carries, so a page from the catalog
// tree can never be mistaken for a collection page after a crash.
type Family int

const (
	FamilyCatalog Family = iota
	FamilyCollection
)

func (f Family) leafTag() uint8 {
	if f == FamilyCatalog {
		return base.TagCatalogLeaf
	}
	return base.TagCollectionLeaf
}

func (f Family) interiorTag() uint8 {
	if f == FamilyCatalog {
		return base.TagCatalogInterior
	}
	return base.TagCollectionInterior
}

// Node is a decoded tree page. Leaf nodes carry Keys, Values, and per-value
// Flags; interior nodes carry Keys and len(Keys)+1 Children.
type Node struct {
	ID       base.PageID
	Leaf     bool
	Keys     [][]byte
	Values   [][]byte
	Flags    []uint8
	Children []base.PageID
}

// size returns the serialized byte size of the node.
func (n *Node) size() int {
	if n.Leaf {
		s := base.PageHeaderSize + len(n.Keys)*leafElemSize
		for i := range n.Keys {
			s += len(n.Keys[i]) + len(n.Values[i])
		}
		return s
	}
	s := base.PageHeaderSize + 4 + len(n.Keys)*branchElemSize
	for i := range n.Keys {
		s += len(n.Keys[i])
	}
	return s
}

// overflows reports whether the node no longer fits a page.
func (n *Node) overflows() bool { return n.size() > base.PageSize }

// underflows reports whether a non-root node is too empty to keep.
func (n *Node) underflows() bool {
	return len(n.Keys) == 0 || n.size() < fillUnderflow
}

// search returns the position of key and whether it is present. For interior
// nodes the position doubles as the child index to descend into when the key
// is absent (or position+1 when present).
func (n *Node) search(key []byte) (int, bool) {
	i := sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(n.Keys[i], key) >= 0
	})
	if i < len(n.Keys) && bytes.Equal(n.Keys[i], key) {
		return i, true
	}
	return i, false
}

// childIndex returns the child to descend into for key.
func (n *Node) childIndex(key []byte) int {
	i, found := n.search(key)
	if found {
		return i + 1
	}
	return i
}

// serialize encodes the node into p using the tags of family.
func (n *Node) serialize(family Family, p *base.Page) error {
	if n.overflows() {
		return fmt.Errorf("node %d: %w", n.ID, base.ErrPageOverflow)
	}
	clear(p.Data[:])
	p.SetNumKeys(uint16(len(n.Keys)))

	if n.Leaf {
		p.SetTag(family.leafTag())
		off := base.PageHeaderSize + len(n.Keys)*leafElemSize
		for i := range n.Keys {
			elem := p.Data[base.PageHeaderSize+i*leafElemSize:]
			binary.LittleEndian.PutUint16(elem[0:2], uint16(off))
			binary.LittleEndian.PutUint16(elem[2:4], uint16(len(n.Keys[i])))
			binary.LittleEndian.PutUint16(elem[4:6], uint16(len(n.Values[i])))
			binary.LittleEndian.PutUint16(elem[6:8], uint16(n.Flags[i]))
			off += copy(p.Data[off:], n.Keys[i])
			off += copy(p.Data[off:], n.Values[i])
		}
		return nil
	}

	p.SetTag(family.interiorTag())
	binary.LittleEndian.PutUint32(p.Data[base.PageHeaderSize:], uint32(n.Children[0]))
	elemBase := base.PageHeaderSize + 4
	off := elemBase + len(n.Keys)*branchElemSize
	for i := range n.Keys {
		elem := p.Data[elemBase+i*branchElemSize:]
		binary.LittleEndian.PutUint16(elem[0:2], uint16(off))
		binary.LittleEndian.PutUint16(elem[2:4], uint16(len(n.Keys[i])))
		binary.LittleEndian.PutUint32(elem[4:8], uint32(n.Children[i+1]))
		off += copy(p.Data[off:], n.Keys[i])
	}
	return nil
}

// deserialize decodes p into a fresh node, validating tags and offsets.
func deserialize(family Family, id base.PageID, p *base.Page) (*Node, error) {
	n := &Node{ID: id}
	switch p.Tag() {
	case family.leafTag():
		n.Leaf = true
	case family.interiorTag():
	default:
		return nil, fmt.Errorf("page %d has tag %d: %w", id, p.Tag(), base.ErrInvalidPageTag)
	}

	count := int(p.NumKeys())
	if n.Leaf {
		if base.PageHeaderSize+count*leafElemSize > base.PageSize {
			return nil, fmt.Errorf("page %d entry count %d: %w", id, count, base.ErrInvalidOffset)
		}
		n.Keys = make([][]byte, count)
		n.Values = make([][]byte, count)
		n.Flags = make([]uint8, count)
		for i := 0; i < count; i++ {
			elem := p.Data[base.PageHeaderSize+i*leafElemSize:]
			off := int(binary.LittleEndian.Uint16(elem[0:2]))
			klen := int(binary.LittleEndian.Uint16(elem[2:4]))
			vlen := int(binary.LittleEndian.Uint16(elem[4:6]))
			if off+klen+vlen > base.PageSize {
				return nil, fmt.Errorf("page %d entry %d: %w", id, i, base.ErrInvalidOffset)
			}
			n.Keys[i] = append([]byte(nil), p.Data[off:off+klen]...)
			n.Values[i] = append([]byte(nil), p.Data[off+klen:off+klen+vlen]...)
			n.Flags[i] = uint8(binary.LittleEndian.Uint16(elem[6:8]))
		}
		return n, nil
	}

	if count == 0 {
		return nil, fmt.Errorf("page %d is an empty interior node: %w", id, base.ErrCorrupted)
	}
	elemBase := base.PageHeaderSize + 4
	if elemBase+count*branchElemSize > base.PageSize {
		return nil, fmt.Errorf("page %d entry count %d: %w", id, count, base.ErrInvalidOffset)
	}
	n.Keys = make([][]byte, count)
	n.Children = make([]base.PageID, count+1)
	n.Children[0] = base.PageID(binary.LittleEndian.Uint32(p.Data[base.PageHeaderSize:]))
	for i := 0; i < count; i++ {
		elem := p.Data[elemBase+i*branchElemSize:]
		off := int(binary.LittleEndian.Uint16(elem[0:2]))
		klen := int(binary.LittleEndian.Uint16(elem[2:4]))
		if off+klen > base.PageSize {
			return nil, fmt.Errorf("page %d entry %d: %w", id, i, base.ErrInvalidOffset)
		}
		n.Keys[i] = append([]byte(nil), p.Data[off:off+klen]...)
		n.Children[i+1] = base.PageID(binary.LittleEndian.Uint32(elem[4:8]))
	}
	return n, nil
}

// splitIndex picks the entry where the node splits: the first index whose
// prefix reaches half the payload, clamped so both halves are non-empty.
func (n *Node) splitIndex() int {
	half := n.size() / 2
	acc := base.PageHeaderSize
	for i := range n.Keys {
		if n.Leaf {
			acc += leafElemSize + len(n.Keys[i]) + len(n.Values[i])
		} else {
			acc += branchElemSize + len(n.Keys[i])
		}
		if acc >= half {
			if i < 1 {
				return 1
			}
			if i >= len(n.Keys)-1 {
				return len(n.Keys) - 1
			}
			return i
		}
	}
	return len(n.Keys) / 2
}
