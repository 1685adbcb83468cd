package polodb

import (
	"bytes"
	"fmt"

	"github.com/ghbook/polodb/document"
	bt "github.com/ghbook/polodb/internal/btree"
)

// Find returns a cursor over the documents whose field value lies in
// [lower, upper], both bounds inclusive. A nil bound is open-ended. The
// scan uses the index on field when one exists (or the primary tree for
// "_id") and falls back to a filtered full scan otherwise. Results come in
// field-value order on an indexed scan and in _id order on a full scan.
func (c *Collection) Find(field string, lower, upper document.Value) (*Cursor, error) {
	if c.tx.done {
		return nil, ErrTxDone
	}

	cur := &Cursor{col: c, field: field, lower: lower, upper: upper}
	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	cur.primary = primary

	switch {
	case field == "_id":
		cur.inner = primary.Cursor()
		cur.mode = scanPrimary
	default:
		idx, found := c.meta.IndexOn(field)
		if !found {
			cur.inner = primary.Cursor()
			cur.mode = scanFilter
			break
		}
		cur.inner = bt.New(c.tx, bt.FamilyCollection, idx.Root).Cursor()
		cur.mode = scanIndex
		cur.uniqueIndex = idx.Unique
	}

	if lower != nil {
		lo, err := document.EncodeKey(lower)
		if err != nil {
			return nil, err
		}
		if cur.mode != scanFilter {
			cur.lo = lo
		}
	}
	if upper != nil {
		hi, err := document.EncodeKey(upper)
		if err != nil {
			return nil, err
		}
		if cur.mode == scanIndex && !cur.uniqueIndex {
			// Composite keys are value followed by primary key; the
			// sentinel byte is above every continuation, making the bound
			// inclusive for all of them.
			hi = append(hi, 0xff)
		}
		if cur.mode != scanFilter {
			cur.hi = hi
		}
	}
	return cur, nil
}

type scanMode int

const (
	scanPrimary scanMode = iota // keys are _id, values are documents
	scanIndex                   // keys are field values, values are _id refs
	scanFilter                  // full scan with a predicate
)

// Cursor streams the results of Find. Call Next until it returns false,
// then check Err. The cursor is bound to its transaction.
type Cursor struct {
	col     *Collection
	primary *bt.Tree
	inner   *bt.Cursor
	mode    scanMode

	uniqueIndex  bool
	field        string
	lower, upper document.Value
	lo, hi       []byte

	started bool
	doc     *document.Document
	err     error
}

// Next advances to the next matching document.
func (c *Cursor) Next() bool {
	if c.err != nil || c.inner == nil {
		return false
	}
	if c.col.tx.done {
		c.err = ErrTxDone
		return false
	}

	for {
		var ok bool
		if !c.started {
			c.started = true
			if c.lo != nil {
				ok = c.inner.Seek(c.lo)
			} else {
				ok = c.inner.First()
			}
		} else {
			ok = c.inner.Next()
		}
		if !ok {
			c.err = c.inner.Err()
			c.doc = nil
			return false
		}
		if c.hi != nil && bytes.Compare(c.inner.Key(), c.hi) > 0 {
			c.doc = nil
			return false
		}

		doc, match, err := c.materialize()
		if err != nil {
			c.err = err
			return false
		}
		if !match {
			continue
		}
		c.doc = doc
		return true
	}
}

// materialize loads the document at the cursor position and applies the
// filter predicate when scanning without an index.
func (c *Cursor) materialize() (*document.Document, bool, error) {
	switch c.mode {
	case scanPrimary:
		raw, err := c.inner.Value()
		if err != nil {
			return nil, false, err
		}
		doc, err := decodeDocument(raw)
		return doc, true, err

	case scanIndex:
		pk, err := c.inner.Value()
		if err != nil {
			return nil, false, err
		}
		raw, found, err := c.primary.Get(pk)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("%w: index entry with no document", ErrCorrupted)
		}
		doc, err := decodeDocument(raw)
		return doc, true, err

	default: // scanFilter
		raw, err := c.inner.Value()
		if err != nil {
			return nil, false, err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, false, err
		}
		v, ok := doc.Lookup(c.field)
		if !ok {
			return nil, false, nil
		}
		if c.lower != nil && document.CompareValues(v, c.lower) < 0 {
			return nil, false, nil
		}
		if c.upper != nil && document.CompareValues(v, c.upper) > 0 {
			return nil, false, nil
		}
		return doc, true, nil
	}
}

// Document returns the document at the current position. Valid after a Next
// that returned true.
func (c *Cursor) Document() *document.Document { return c.doc }

// Err returns the first error the cursor hit, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor. The cursor cannot be used afterwards.
func (c *Cursor) Close() {
	c.doc = nil
	c.inner = nil
}
