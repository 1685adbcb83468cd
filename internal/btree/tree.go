package btree

import (
	"errors"
	"fmt"

	"github.com/ghbook/polodb/internal/base"
)

// ErrDuplicateKey reports an Insert of a key that already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrKeyTooLarge reports a key above MaxKeySize.
var ErrKeyTooLarge = fmt.Errorf("key exceeds %d bytes: %w", MaxKeySize, base.ErrPageOverflow)

// Store is the page access a tree runs on. Transactions implement it with
// their dirty-page overlay so tree mutations stay private until commit.
type Store interface {
	// ReadPage loads page id.
	ReadPage(id base.PageID) (*base.Page, error)

	// WritePage stages page id for write.
	WritePage(id base.PageID, p *base.Page) error

	// Allocate returns a fresh page id (freelist pop or file growth).
	Allocate() (base.PageID, error)

	// Free releases a page back to the freelist.
	Free(id base.PageID) error
}

// Tree is a B+tree rooted at a page. Mutations may move the root; callers
// persist Root() into the catalog (or the header, for the catalog tree
// itself) after every mutating call.
type Tree struct {
	store  Store
	family Family
	root   base.PageID
}

// New opens a tree rooted at root. A NilPage root is an empty tree that has
// never been written; its root page materializes on the first Put or Insert.
func New(store Store, family Family, root base.PageID) *Tree {
	return &Tree{store: store, family: family, root: root}
}

// Create allocates an empty leaf root and returns a tree over it.
func Create(store Store, family Family) (*Tree, error) {
	id, err := store.Allocate()
	if err != nil {
		return nil, err
	}
	t := &Tree{store: store, family: family, root: id}
	if err := t.save(&Node{ID: id, Leaf: true}); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the current root page id.
func (t *Tree) Root() base.PageID { return t.root }

func (t *Tree) load(id base.PageID) (*Node, error) {
	p, err := t.store.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return deserialize(t.family, id, p)
}

func (t *Tree) save(n *Node) error {
	p := &base.Page{}
	if err := n.serialize(t.family, p); err != nil {
		return err
	}
	return t.store.WritePage(n.ID, p)
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	if t.root == base.NilPage {
		return nil, false, nil
	}
	id := t.root
	for {
		n, err := t.load(id)
		if err != nil {
			return nil, false, err
		}
		if !n.Leaf {
			id = n.Children[n.childIndex(key)]
			continue
		}
		i, found := n.search(key)
		if !found {
			return nil, false, nil
		}
		v, err := t.resolveValue(n.Flags[i], n.Values[i])
		return v, found, err
	}
}

// Insert stores key/value, failing with ErrDuplicateKey if key exists.
func (t *Tree) Insert(key, value []byte) error {
	return t.put(key, value, false)
}

// Put stores key/value, replacing any existing value.
func (t *Tree) Put(key, value []byte) error {
	return t.put(key, value, true)
}

func (t *Tree) put(key, value []byte, upsert bool) error {
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if t.root == base.NilPage {
		id, err := t.store.Allocate()
		if err != nil {
			return err
		}
		if err := t.save(&Node{ID: id, Leaf: true}); err != nil {
			return err
		}
		t.root = id
	}
	stored, flags, err := t.storeValue(value)
	if err != nil {
		return err
	}
	split, err := t.insert(t.root, key, stored, flags, upsert)
	if err != nil {
		if flags&flagOverflow != 0 {
			_ = t.freeOverflow(stored)
		}
		return err
	}
	if split != nil {
		return t.growRoot(split)
	}
	return nil
}

// splitResult carries the separator and new right sibling of a split node up
// to its parent.
type splitResult struct {
	key   []byte
	right base.PageID
}

func (t *Tree) insert(id base.PageID, key, stored []byte, flags uint8, upsert bool) (*splitResult, error) {
	n, err := t.load(id)
	if err != nil {
		return nil, err
	}

	if n.Leaf {
		i, found := n.search(key)
		if found {
			if !upsert {
				return nil, fmt.Errorf("%w: %x", ErrDuplicateKey, key)
			}
			if n.Flags[i]&flagOverflow != 0 {
				if err := t.freeOverflow(n.Values[i]); err != nil {
					return nil, err
				}
			}
			n.Values[i] = stored
			n.Flags[i] = flags
		} else {
			n.Keys = insertAt(n.Keys, i, append([]byte(nil), key...))
			n.Values = insertAt(n.Values, i, stored)
			n.Flags = insertAt(n.Flags, i, flags)
		}
		return t.saveWithSplit(n)
	}

	ci := n.childIndex(key)
	split, err := t.insert(n.Children[ci], key, stored, flags, upsert)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, nil
	}
	n.Keys = insertAt(n.Keys, ci, split.key)
	n.Children = insertAt(n.Children, ci+1, split.right)
	return t.saveWithSplit(n)
}

// saveWithSplit persists n, splitting first when it no longer fits a page.
func (t *Tree) saveWithSplit(n *Node) (*splitResult, error) {
	if !n.overflows() {
		return nil, t.save(n)
	}

	s := n.splitIndex()
	rightID, err := t.store.Allocate()
	if err != nil {
		return nil, err
	}
	right := &Node{ID: rightID, Leaf: n.Leaf}

	var sep []byte
	if n.Leaf {
		right.Keys = append(right.Keys, n.Keys[s:]...)
		right.Values = append(right.Values, n.Values[s:]...)
		right.Flags = append(right.Flags, n.Flags[s:]...)
		n.Keys = n.Keys[:s]
		n.Values = n.Values[:s]
		n.Flags = n.Flags[:s]
		sep = append([]byte(nil), right.Keys[0]...)
	} else {
		sep = n.Keys[s]
		right.Keys = append(right.Keys, n.Keys[s+1:]...)
		right.Children = append(right.Children, n.Children[s+1:]...)
		n.Keys = n.Keys[:s]
		n.Children = n.Children[:s+1]
	}

	if err := t.save(n); err != nil {
		return nil, err
	}
	if err := t.save(right); err != nil {
		return nil, err
	}
	return &splitResult{key: sep, right: rightID}, nil
}

// growRoot installs a new root above the old one after a root split.
func (t *Tree) growRoot(split *splitResult) error {
	id, err := t.store.Allocate()
	if err != nil {
		return err
	}
	root := &Node{
		ID:       id,
		Keys:     [][]byte{split.key},
		Children: []base.PageID{t.root, split.right},
	}
	if err := t.save(root); err != nil {
		return err
	}
	t.root = id
	return nil
}

// Delete removes key, reporting whether it was present.
func (t *Tree) Delete(key []byte) (bool, error) {
	if t.root == base.NilPage {
		return false, nil
	}
	root, err := t.load(t.root)
	if err != nil {
		return false, err
	}
	found, err := t.delete(root, key)
	if err != nil || !found {
		return found, err
	}

	// Collapse a root that has drained to a single child.
	for !root.Leaf && len(root.Keys) == 0 {
		child := root.Children[0]
		if err := t.store.Free(root.ID); err != nil {
			return false, err
		}
		t.root = child
		root, err = t.load(child)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Tree) delete(n *Node, key []byte) (bool, error) {
	if n.Leaf {
		i, found := n.search(key)
		if !found {
			return false, nil
		}
		if n.Flags[i]&flagOverflow != 0 {
			if err := t.freeOverflow(n.Values[i]); err != nil {
				return false, err
			}
		}
		n.Keys = removeAt(n.Keys, i)
		n.Values = removeAt(n.Values, i)
		n.Flags = removeAt(n.Flags, i)
		return true, t.save(n)
	}

	ci := n.childIndex(key)
	child, err := t.load(n.Children[ci])
	if err != nil {
		return false, err
	}
	found, err := t.delete(child, key)
	if err != nil || !found {
		return found, err
	}
	if child.underflows() {
		if err := t.rebalance(n, ci); err != nil {
			return false, err
		}
	}
	return true, nil
}

// rebalance restores the fill invariant of child (n.Children[ci]) by merging
// with or borrowing from an adjacent sibling, then persists every touched
// node.
func (t *Tree) rebalance(n *Node, ci int) error {
	// Work on the left-of-pair so merges always fold right into left.
	li := ci - 1
	if ci == 0 {
		li = 0
	}
	left, err := t.load(n.Children[li])
	if err != nil {
		return err
	}
	right, err := t.load(n.Children[li+1])
	if err != nil {
		return err
	}
	sep := n.Keys[li]

	merged := left.size() + right.size() - base.PageHeaderSize
	if !left.Leaf {
		merged += branchElemSize + len(sep) - 4
	}
	if merged <= base.PageSize {
		if left.Leaf {
			left.Keys = append(left.Keys, right.Keys...)
			left.Values = append(left.Values, right.Values...)
			left.Flags = append(left.Flags, right.Flags...)
		} else {
			left.Keys = append(left.Keys, sep)
			left.Keys = append(left.Keys, right.Keys...)
			left.Children = append(left.Children, right.Children...)
		}
		n.Keys = removeAt(n.Keys, li)
		n.Children = removeAt(n.Children, li+1)
		if err := t.store.Free(right.ID); err != nil {
			return err
		}
		if err := t.save(left); err != nil {
			return err
		}
		return t.save(n)
	}

	// Too big to merge: shift entries toward the poorer side until it is
	// above the underflow threshold.
	if left.size() < right.size() {
		for left.underflows() && len(right.Keys) > 1 {
			if left.Leaf {
				left.Keys = append(left.Keys, right.Keys[0])
				left.Values = append(left.Values, right.Values[0])
				left.Flags = append(left.Flags, right.Flags[0])
				right.Keys = removeAt(right.Keys, 0)
				right.Values = removeAt(right.Values, 0)
				right.Flags = removeAt(right.Flags, 0)
				n.Keys[li] = append([]byte(nil), right.Keys[0]...)
			} else {
				left.Keys = append(left.Keys, n.Keys[li])
				left.Children = append(left.Children, right.Children[0])
				n.Keys[li] = right.Keys[0]
				right.Keys = removeAt(right.Keys, 0)
				right.Children = removeAt(right.Children, 0)
			}
		}
	} else {
		for right.underflows() && len(left.Keys) > 1 {
			last := len(left.Keys) - 1
			if left.Leaf {
				right.Keys = insertAt(right.Keys, 0, left.Keys[last])
				right.Values = insertAt(right.Values, 0, left.Values[last])
				right.Flags = insertAt(right.Flags, 0, left.Flags[last])
				left.Keys = left.Keys[:last]
				left.Values = left.Values[:last]
				left.Flags = left.Flags[:last]
				n.Keys[li] = append([]byte(nil), right.Keys[0]...)
			} else {
				right.Keys = insertAt(right.Keys, 0, n.Keys[li])
				right.Children = insertAt(right.Children, 0, left.Children[len(left.Children)-1])
				n.Keys[li] = left.Keys[last]
				left.Keys = left.Keys[:last]
				left.Children = left.Children[:len(left.Children)-1]
			}
		}
	}

	if err := t.save(left); err != nil {
		return err
	}
	if err := t.save(right); err != nil {
		return err
	}
	return t.save(n)
}

// FreeAll releases every page of the tree, overflow chains included. The
// tree must not be used afterwards.
func (t *Tree) FreeAll() error {
	if t.root == base.NilPage {
		return nil
	}
	return t.freeSubtree(t.root)
}

func (t *Tree) freeSubtree(id base.PageID) error {
	n, err := t.load(id)
	if err != nil {
		return err
	}
	if n.Leaf {
		for i := range n.Keys {
			if n.Flags[i]&flagOverflow != 0 {
				if err := t.freeOverflow(n.Values[i]); err != nil {
					return err
				}
			}
		}
	} else {
		for _, child := range n.Children {
			if err := t.freeSubtree(child); err != nil {
				return err
			}
		}
	}
	return t.store.Free(id)
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	copy(s[i:], s[i+1:])
	return s[:len(s)-1]
}
