package polodb

import (
	"bytes"
	"fmt"

	"github.com/ghbook/polodb/document"
	bt "github.com/ghbook/polodb/internal/btree"
	"github.com/ghbook/polodb/internal/catalog"
)

// Collection is a named set of documents inside one transaction. Handles
// are only valid for the transaction that produced them.
type Collection struct {
	tx   *Tx
	meta *catalog.Collection
}

// CreateCollection creates an empty collection.
func (tx *Tx) CreateCollection(name string) (*Collection, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	if name == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	if _, found, err := tx.catalog.Get(name); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	tree, err := bt.Create(tx, bt.FamilyCollection)
	if err != nil {
		return nil, err
	}
	meta := &catalog.Collection{Name: name, Root: tree.Root()}
	if err := tx.catalog.Insert(meta); err != nil {
		return nil, err
	}
	c := &Collection{tx: tx, meta: meta}
	tx.cols[name] = c
	return c, nil
}

// Collection opens an existing collection. Repeated calls with the same name
// return the same handle, so every handle sees the transaction's mutations.
func (tx *Tx) Collection(name string) (*Collection, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if c, ok := tx.cols[name]; ok {
		return c, nil
	}
	meta, found, err := tx.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	c := &Collection{tx: tx, meta: meta}
	tx.cols[name] = c
	return c, nil
}

// DropCollection deletes a collection, its documents, and its indexes,
// returning every page they occupied to the freelist.
func (tx *Tx) DropCollection(name string) error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	meta, found, err := tx.catalog.Get(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	if err := bt.New(tx, bt.FamilyCollection, meta.Root).FreeAll(); err != nil {
		return err
	}
	for _, idx := range meta.Indexes {
		if err := bt.New(tx, bt.FamilyCollection, idx.Root).FreeAll(); err != nil {
			return err
		}
	}
	delete(tx.cols, name)
	_, err = tx.catalog.Delete(name)
	return err
}

// Collections lists collection names in sorted order.
func (tx *Tx) Collections() ([]string, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	cols, err := tx.catalog.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.meta.Name }

// Indexes returns the indexed fields and their uniqueness.
func (c *Collection) Indexes() []IndexInfo {
	out := make([]IndexInfo, len(c.meta.Indexes))
	for i, idx := range c.meta.Indexes {
		out[i] = IndexInfo{Field: idx.Field, Unique: idx.Unique}
	}
	return out
}

// IndexInfo describes one secondary index.
type IndexInfo struct {
	Field  string
	Unique bool
}

// validateID rejects values that cannot serve as a primary key.
func validateID(id document.Value) error {
	switch id.Kind() {
	case document.KindNull, document.KindMinKey, document.KindMaxKey,
		document.KindArray, document.KindDocument:
		return fmt.Errorf("%w: kind %s", ErrInvalidDocumentID, id.Kind())
	}
	return nil
}

// Insert stores a document and returns its _id. When the document has no
// _id field a fresh ObjectID is generated and stored as the first field.
// Inserting a taken _id, or violating a unique index, fails with
// ErrDuplicateKey and leaves nothing behind.
func (c *Collection) Insert(doc *document.Document) (document.Value, error) {
	if c.tx.done {
		return nil, ErrTxDone
	}
	if !c.tx.writable {
		return nil, ErrTxNotWritable
	}

	id, hasID := doc.Get("_id")
	if hasID {
		if err := validateID(id); err != nil {
			return nil, err
		}
	} else {
		id = document.NewObjectID()
		withID := document.NewDocument().Set("_id", id)
		for _, f := range doc.Fields() {
			withID.Set(f.Name, f.Value)
		}
		doc = withID
	}

	pk, err := document.EncodeKey(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}
	raw, err := document.Encode(doc)
	if err != nil {
		return nil, err
	}

	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)

	// Check every constraint before touching any tree, so a violation never
	// leaves a half-indexed document.
	if _, found, err := primary.Get(pk); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: _id %v", ErrDuplicateKey, id)
	}
	entries, err := c.indexEntries(doc, pk)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.index.Unique {
			continue
		}
		itree := bt.New(c.tx, bt.FamilyCollection, e.index.Root)
		if _, found, err := itree.Get(e.key); err != nil {
			return nil, err
		} else if found {
			return nil, fmt.Errorf("%w: unique index %q", ErrDuplicateKey, e.index.Field)
		}
	}

	if err := primary.Insert(pk, raw); err != nil {
		return nil, err
	}
	c.meta.Root = primary.Root()
	for _, e := range entries {
		itree := bt.New(c.tx, bt.FamilyCollection, e.index.Root)
		if err := itree.Insert(e.key, pk); err != nil {
			return nil, err
		}
		e.index.Root = itree.Root()
	}
	return id, c.saveMeta()
}

// FindByID returns the document stored under id.
func (c *Collection) FindByID(id document.Value) (*document.Document, error) {
	if c.tx.done {
		return nil, ErrTxDone
	}
	pk, err := document.EncodeKey(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}
	return c.loadByPK(pk)
}

func (c *Collection) loadByPK(pk []byte) (*document.Document, error) {
	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	raw, found, err := primary.Get(pk)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDocumentNotFound
	}
	return decodeDocument(raw)
}

// Update replaces the document stored under id. The replacement keeps id as
// its _id; a replacement carrying a different _id is rejected.
func (c *Collection) Update(id document.Value, doc *document.Document) error {
	if c.tx.done {
		return ErrTxDone
	}
	if !c.tx.writable {
		return ErrTxNotWritable
	}
	pk, err := document.EncodeKey(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}

	oldDoc, err := c.loadByPK(pk)
	if err != nil {
		return err
	}

	if got, ok := doc.Get("_id"); ok {
		if document.CompareValues(got, id) != 0 {
			return fmt.Errorf("%w: _id is immutable", ErrInvalidDocumentID)
		}
	} else {
		withID := document.NewDocument().Set("_id", id)
		for _, f := range doc.Fields() {
			withID.Set(f.Name, f.Value)
		}
		doc = withID
	}
	raw, err := document.Encode(doc)
	if err != nil {
		return err
	}

	oldEntries, err := c.indexEntries(oldDoc, pk)
	if err != nil {
		return err
	}
	newEntries, err := c.indexEntries(doc, pk)
	if err != nil {
		return err
	}

	// Unique pre-check against entries owned by other documents.
	for _, e := range newEntries {
		if !e.index.Unique {
			continue
		}
		itree := bt.New(c.tx, bt.FamilyCollection, e.index.Root)
		ref, found, err := itree.Get(e.key)
		if err != nil {
			return err
		}
		if found && !bytes.Equal(ref, pk) {
			return fmt.Errorf("%w: unique index %q", ErrDuplicateKey, e.index.Field)
		}
	}

	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	if err := primary.Put(pk, raw); err != nil {
		return err
	}
	c.meta.Root = primary.Root()

	if err := c.applyIndexDiff(oldEntries, newEntries, pk); err != nil {
		return err
	}
	return c.saveMeta()
}

// Delete removes the document stored under id and all its index entries.
func (c *Collection) Delete(id document.Value) error {
	if c.tx.done {
		return ErrTxDone
	}
	if !c.tx.writable {
		return ErrTxNotWritable
	}
	pk, err := document.EncodeKey(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}
	oldDoc, err := c.loadByPK(pk)
	if err != nil {
		return err
	}

	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	if _, err := primary.Delete(pk); err != nil {
		return err
	}
	c.meta.Root = primary.Root()

	oldEntries, err := c.indexEntries(oldDoc, pk)
	if err != nil {
		return err
	}
	if err := c.applyIndexDiff(oldEntries, nil, pk); err != nil {
		return err
	}
	return c.saveMeta()
}

// Count returns the number of documents.
func (c *Collection) Count() (int64, error) {
	if c.tx.done {
		return 0, ErrTxDone
	}
	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	cur := primary.Cursor()
	var n int64
	for ok := cur.First(); ok; ok = cur.Next() {
		n++
	}
	return n, cur.Err()
}

// ForEach calls fn for every document in _id order. Returning an error from
// fn stops the scan and propagates the error.
func (c *Collection) ForEach(fn func(*document.Document) error) error {
	if c.tx.done {
		return ErrTxDone
	}
	primary := bt.New(c.tx, bt.FamilyCollection, c.meta.Root)
	cur := primary.Cursor()
	for ok := cur.First(); ok; ok = cur.Next() {
		raw, err := cur.Value()
		if err != nil {
			return err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cur.Err()
}

// CreateIndex builds a secondary index over field, backfilled from the
// existing documents. Documents without the field are not indexed. A unique
// index over a field with duplicate values fails with ErrDuplicateKey; the
// failed build leaves no trace.
func (c *Collection) CreateIndex(field string, unique bool) error {
	if c.tx.done {
		return ErrTxDone
	}
	if !c.tx.writable {
		return ErrTxNotWritable
	}
	if field == "" || field == "_id" {
		return fmt.Errorf("field %q cannot carry a secondary index", field)
	}
	if _, found := c.meta.IndexOn(field); found {
		return fmt.Errorf("%w: %s", ErrIndexExists, field)
	}

	itree, err := bt.Create(c.tx, bt.FamilyCollection)
	if err != nil {
		return err
	}
	idx := catalog.Index{Field: field, Unique: unique, Root: itree.Root()}

	err = c.ForEach(func(doc *document.Document) error {
		v, ok := doc.Lookup(field)
		if !ok {
			return nil
		}
		id, _ := doc.Get("_id")
		pk, err := document.EncodeKey(id)
		if err != nil {
			return err
		}
		key, err := indexKey(&idx, v, pk)
		if err != nil {
			return err
		}
		return itree.Insert(key, pk)
	})
	if err != nil {
		// Abandon the half-built tree; its pages go back to the freelist
		// and the catalog never learns it existed.
		if ferr := itree.FreeAll(); ferr != nil {
			return ferr
		}
		return fmt.Errorf("index %q: %w", field, err)
	}

	idx.Root = itree.Root()
	c.meta.Indexes = append(c.meta.Indexes, idx)
	return c.saveMeta()
}

// DropIndex removes the index over field and frees its pages.
func (c *Collection) DropIndex(field string) error {
	if c.tx.done {
		return ErrTxDone
	}
	if !c.tx.writable {
		return ErrTxNotWritable
	}
	for i := range c.meta.Indexes {
		if c.meta.Indexes[i].Field != field {
			continue
		}
		if err := bt.New(c.tx, bt.FamilyCollection, c.meta.Indexes[i].Root).FreeAll(); err != nil {
			return err
		}
		c.meta.Indexes = append(c.meta.Indexes[:i], c.meta.Indexes[i+1:]...)
		return c.saveMeta()
	}
	return fmt.Errorf("%w: %s", ErrIndexNotFound, field)
}

// indexEntry pairs an index with the tree key a document contributes to it.
type indexEntry struct {
	index *catalog.Index
	key   []byte
}

// indexEntries computes the index keys doc contributes. Documents missing
// an indexed field contribute nothing to that index.
func (c *Collection) indexEntries(doc *document.Document, pk []byte) ([]indexEntry, error) {
	var out []indexEntry
	for i := range c.meta.Indexes {
		idx := &c.meta.Indexes[i]
		v, ok := doc.Lookup(idx.Field)
		if !ok {
			continue
		}
		key, err := indexKey(idx, v, pk)
		if err != nil {
			return nil, err
		}
		out = append(out, indexEntry{index: idx, key: key})
	}
	return out, nil
}

// indexKey builds the tree key for one index entry. Unique indexes key on
// the value alone; non-unique indexes append the primary key so equal
// values coexist and scans stay ordered by (value, _id).
func indexKey(idx *catalog.Index, v document.Value, pk []byte) ([]byte, error) {
	key, err := document.EncodeKey(v)
	if err != nil {
		return nil, err
	}
	if !idx.Unique {
		key = append(key, pk...)
	}
	return key, nil
}

// applyIndexDiff removes stale entries and inserts fresh ones, skipping
// entries present on both sides.
func (c *Collection) applyIndexDiff(old, new []indexEntry, pk []byte) error {
	unchanged := func(e indexEntry, in []indexEntry) bool {
		for _, o := range in {
			if o.index == e.index && bytes.Equal(o.key, e.key) {
				return true
			}
		}
		return false
	}
	for _, e := range old {
		if unchanged(e, new) {
			continue
		}
		itree := bt.New(c.tx, bt.FamilyCollection, e.index.Root)
		if _, err := itree.Delete(e.key); err != nil {
			return err
		}
		e.index.Root = itree.Root()
	}
	for _, e := range new {
		if unchanged(e, old) {
			continue
		}
		itree := bt.New(c.tx, bt.FamilyCollection, e.index.Root)
		if err := itree.Put(e.key, pk); err != nil {
			return err
		}
		e.index.Root = itree.Root()
	}
	return nil
}

// saveMeta persists the collection entry after tree roots moved.
func (c *Collection) saveMeta() error {
	return c.tx.catalog.Put(c.meta)
}

func decodeDocument(raw []byte) (*document.Document, error) {
	v, err := document.Decode(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(*document.Document)
	if !ok {
		return nil, fmt.Errorf("%w: stored value is %s, not a document", ErrCorrupted, v.Kind())
	}
	return doc, nil
}
