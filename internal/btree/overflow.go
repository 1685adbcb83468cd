package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/ghbook/polodb/internal/base"
)

// storeValue returns the leaf representation of value. Small values are
// stored as-is; large ones are chunked into an overflow chain and the leaf
// keeps [TotalLen: 4][FirstPage: 4] with flagOverflow set.
func (t *Tree) storeValue(value []byte) ([]byte, uint8, error) {
	if len(value) <= maxInlineValue {
		return append([]byte(nil), value...), 0, nil
	}

	first, err := t.writeOverflow(value)
	if err != nil {
		return nil, 0, err
	}
	ref := make([]byte, overflowRefSize)
	binary.LittleEndian.PutUint32(ref[0:4], uint32(len(value)))
	binary.LittleEndian.PutUint32(ref[4:8], uint32(first))
	return ref, flagOverflow, nil
}

// resolveValue materializes a stored leaf value, following the overflow
// chain when flagged.
func (t *Tree) resolveValue(flags uint8, stored []byte) ([]byte, error) {
	if flags&flagOverflow == 0 {
		return append([]byte(nil), stored...), nil
	}
	if len(stored) != overflowRefSize {
		return nil, fmt.Errorf("overflow reference has %d bytes: %w", len(stored), base.ErrCorrupted)
	}
	total := int(binary.LittleEndian.Uint32(stored[0:4]))
	first := base.PageID(binary.LittleEndian.Uint32(stored[4:8]))

	out := make([]byte, 0, total)
	id := first
	for id != base.NilPage {
		p, err := t.store.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if p.Tag() != base.TagOverflow {
			return nil, fmt.Errorf("overflow chain reached page %d with tag %d: %w",
				id, p.Tag(), base.ErrInvalidPageTag)
		}
		out = append(out, p.OverflowData()...)
		if len(out) > total {
			return nil, fmt.Errorf("overflow chain longer than %d bytes: %w", total, base.ErrCorrupted)
		}
		id = p.OverflowNext()
	}
	if len(out) != total {
		return nil, fmt.Errorf("overflow chain holds %d of %d bytes: %w", len(out), total, base.ErrCorrupted)
	}
	return out, nil
}

// writeOverflow chunks value into a fresh chain and returns the first page.
func (t *Tree) writeOverflow(value []byte) (base.PageID, error) {
	chunks := (len(value) + base.OverflowCapacity - 1) / base.OverflowCapacity
	ids := make([]base.PageID, chunks)
	for i := range ids {
		id, err := t.store.Allocate()
		if err != nil {
			return base.NilPage, err
		}
		ids[i] = id
	}
	for i := 0; i < chunks; i++ {
		lo := i * base.OverflowCapacity
		hi := min(lo+base.OverflowCapacity, len(value))
		p := &base.Page{}
		p.SetTag(base.TagOverflow)
		p.SetOverflowData(value[lo:hi])
		if i+1 < chunks {
			p.SetOverflowNext(ids[i+1])
		}
		if err := t.store.WritePage(ids[i], p); err != nil {
			return base.NilPage, err
		}
	}
	return ids[0], nil
}

// freeOverflow releases the chain referenced by a flagged leaf value.
func (t *Tree) freeOverflow(ref []byte) error {
	if len(ref) != overflowRefSize {
		return fmt.Errorf("overflow reference has %d bytes: %w", len(ref), base.ErrCorrupted)
	}
	id := base.PageID(binary.LittleEndian.Uint32(ref[4:8]))
	for id != base.NilPage {
		p, err := t.store.ReadPage(id)
		if err != nil {
			return err
		}
		if p.Tag() != base.TagOverflow {
			return fmt.Errorf("overflow chain reached page %d with tag %d: %w",
				id, p.Tag(), base.ErrInvalidPageTag)
		}
		next := p.OverflowNext()
		if err := t.store.Free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
