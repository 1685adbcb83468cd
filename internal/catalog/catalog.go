// Package catalog persists collection metadata in a dedicated B+tree keyed
// by collection name. Each entry is an encoded document naming the
// collection's data tree root and its secondary indexes.
package catalog

import (
	"errors"
	"fmt"

	"github.com/ghbook/polodb/document"
	"github.com/ghbook/polodb/internal/base"
	"github.com/ghbook/polodb/internal/btree"
)

// ErrMalformedEntry reports a catalog record that does not decode into
// collection metadata.
var ErrMalformedEntry = fmt.Errorf("malformed catalog entry: %w", base.ErrCorrupted)

// Index describes one secondary index of a collection.
type Index struct {
	Field  string
	Unique bool
	Root   base.PageID
}

// Collection is the catalog entry for one collection.
type Collection struct {
	Name    string
	Root    base.PageID
	Indexes []Index
}

// IndexOn returns the index over field, if any.
func (c *Collection) IndexOn(field string) (*Index, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Field == field {
			return &c.Indexes[i], true
		}
	}
	return nil, false
}

// Catalog is a view over the catalog tree. Mutations move the tree root;
// callers persist Root() into the header afterwards.
type Catalog struct {
	tree *btree.Tree
}

// Open returns a catalog over the tree rooted at root. A NilPage root is an
// empty catalog, as found in a freshly initialized header; the tree
// materializes on the first Put or Insert and callers persist the moved
// Root() afterwards.
func Open(store btree.Store, root base.PageID) *Catalog {
	return &Catalog{tree: btree.New(store, btree.FamilyCatalog, root)}
}

// Create allocates an empty catalog tree.
func Create(store btree.Store) (*Catalog, error) {
	tree, err := btree.Create(store, btree.FamilyCatalog)
	if err != nil {
		return nil, err
	}
	return &Catalog{tree: tree}, nil
}

// Root returns the current catalog tree root.
func (c *Catalog) Root() base.PageID { return c.tree.Root() }

// Get loads the entry for name.
func (c *Catalog) Get(name string) (*Collection, bool, error) {
	raw, found, err := c.tree.Get([]byte(name))
	if err != nil || !found {
		return nil, false, err
	}
	col, err := decodeCollection(name, raw)
	if err != nil {
		return nil, false, err
	}
	return col, true, nil
}

// Put stores or replaces the entry for col.Name.
func (c *Catalog) Put(col *Collection) error {
	return c.tree.Put([]byte(col.Name), encodeCollection(col))
}

// Insert stores the entry, failing if the name is taken.
func (c *Catalog) Insert(col *Collection) error {
	return c.tree.Insert([]byte(col.Name), encodeCollection(col))
}

// Delete removes the entry for name.
func (c *Catalog) Delete(name string) (bool, error) {
	return c.tree.Delete([]byte(name))
}

// List returns every collection entry in name order.
func (c *Catalog) List() ([]*Collection, error) {
	var out []*Collection
	cur := c.tree.Cursor()
	for ok := cur.First(); ok; ok = cur.Next() {
		raw, err := cur.Value()
		if err != nil {
			return nil, err
		}
		col, err := decodeCollection(string(cur.Key()), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeCollection(col *Collection) []byte {
	indexes := make(document.Array, len(col.Indexes))
	for i, idx := range col.Indexes {
		indexes[i] = document.D(
			"field", idx.Field,
			"unique", idx.Unique,
			"root", document.Int64(idx.Root),
		)
	}
	d := document.D(
		"root", document.Int64(col.Root),
		"indexes", indexes,
	)
	raw, err := document.Encode(d)
	if err != nil {
		// Catalog entries contain no nesting beyond the index array.
		panic(fmt.Sprintf("catalog: encode entry: %v", err))
	}
	return raw
}

func decodeCollection(name string, raw []byte) (*Collection, error) {
	v, err := document.Decode(raw)
	if err != nil {
		return nil, errors.Join(ErrMalformedEntry, err)
	}
	d, ok := v.(*document.Document)
	if !ok {
		return nil, ErrMalformedEntry
	}
	root, ok := d.Get("root")
	rootInt, isInt := root.(document.Int64)
	if !ok || !isInt {
		return nil, ErrMalformedEntry
	}
	col := &Collection{Name: name, Root: base.PageID(rootInt)}

	rawIndexes, ok := d.Get("indexes")
	if !ok {
		return col, nil
	}
	arr, ok := rawIndexes.(document.Array)
	if !ok {
		return nil, ErrMalformedEntry
	}
	for _, e := range arr {
		id, ok := e.(*document.Document)
		if !ok {
			return nil, ErrMalformedEntry
		}
		field, _ := id.Get("field")
		unique, _ := id.Get("unique")
		iroot, _ := id.Get("root")
		fieldStr, okF := field.(document.String)
		uniqueBool, okU := unique.(document.Bool)
		irootInt, okR := iroot.(document.Int64)
		if !okF || !okU || !okR {
			return nil, ErrMalformedEntry
		}
		col.Indexes = append(col.Indexes, Index{
			Field:  string(fieldStr),
			Unique: bool(uniqueBool),
			Root:   base.PageID(irootInt),
		})
	}
	return col, nil
}
