package btree

import "github.com/ghbook/polodb/internal/base"

// Cursor iterates a tree in key order. A cursor observes whatever the
// backing Store observes; within a transaction that is the transaction's
// own view. Mutating the tree invalidates open cursors.
type Cursor struct {
	tree  *Tree
	stack []frame
	err   error
}

// frame is one level of the descent path. idx is the current entry in a
// leaf, or the current child slot in an interior node.
type frame struct {
	node *Node
	idx  int
}

// Cursor returns an unpositioned cursor; call First, Last, or Seek.
func (t *Tree) Cursor() *Cursor {
	return &Cursor{tree: t}
}

// First positions at the smallest key. Returns false on an empty tree.
func (c *Cursor) First() bool {
	return c.descend(c.tree.root, func(n *Node) int { return 0 })
}

// Last positions at the largest key. Returns false on an empty tree.
func (c *Cursor) Last() bool {
	ok := c.descend(c.tree.root, func(n *Node) int {
		if n.Leaf {
			return len(n.Keys) - 1
		}
		return len(n.Children) - 1
	})
	return ok
}

// Seek positions at the first key >= key. Returns false when no such key
// exists.
func (c *Cursor) Seek(key []byte) bool {
	ok := c.descend(c.tree.root, func(n *Node) int {
		if n.Leaf {
			i, _ := n.search(key)
			return i
		}
		return n.childIndex(key)
	})
	if !ok {
		return false
	}
	// The leaf position may be one past the end; roll into the successor.
	top := &c.stack[len(c.stack)-1]
	if top.idx >= len(top.node.Keys) {
		return c.Next()
	}
	return true
}

// descend builds the path stack from the root, choosing the slot at each
// level with pick, and reports whether it landed on a valid leaf entry.
func (c *Cursor) descend(id base.PageID, pick func(*Node) int) bool {
	c.stack = c.stack[:0]
	c.err = nil
	if id == base.NilPage {
		return false
	}
	for {
		n, err := c.tree.load(id)
		if err != nil {
			c.err = err
			return false
		}
		i := pick(n)
		c.stack = append(c.stack, frame{node: n, idx: i})
		if n.Leaf {
			return i >= 0 && i < len(n.Keys)
		}
		id = n.Children[i]
	}
}

// Next advances to the next key. Returns false past the end.
func (c *Cursor) Next() bool {
	if c.err != nil || len(c.stack) == 0 {
		return false
	}
	top := &c.stack[len(c.stack)-1]
	top.idx++
	if top.idx < len(top.node.Keys) {
		return true
	}

	// Walk up to the first ancestor with a right sibling, then down its
	// leftmost edge.
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		up := &c.stack[len(c.stack)-1]
		up.idx++
		if up.idx < len(up.node.Children) {
			return c.descendFrom(up.node.Children[up.idx], false)
		}
	}
	c.stack = c.stack[:0]
	return false
}

// Prev steps to the previous key. Returns false before the start.
func (c *Cursor) Prev() bool {
	if c.err != nil || len(c.stack) == 0 {
		return false
	}
	top := &c.stack[len(c.stack)-1]
	if top.idx > 0 {
		top.idx--
		return true
	}

	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		up := &c.stack[len(c.stack)-1]
		if up.idx > 0 {
			up.idx--
			return c.descendFrom(up.node.Children[up.idx], true)
		}
	}
	c.stack = c.stack[:0]
	return false
}

// descendFrom extends the stack down from id along the leftmost (or, with
// last set, rightmost) edge.
func (c *Cursor) descendFrom(id base.PageID, last bool) bool {
	for {
		n, err := c.tree.load(id)
		if err != nil {
			c.err = err
			return false
		}
		i := 0
		if n.Leaf {
			if last {
				i = len(n.Keys) - 1
			}
			c.stack = append(c.stack, frame{node: n, idx: i})
			return len(n.Keys) > 0
		}
		if last {
			i = len(n.Children) - 1
		}
		c.stack = append(c.stack, frame{node: n, idx: i})
		id = n.Children[i]
	}
}

// Valid reports whether the cursor is on an entry.
func (c *Cursor) Valid() bool {
	if c.err != nil || len(c.stack) == 0 {
		return false
	}
	top := c.stack[len(c.stack)-1]
	return top.node.Leaf && top.idx >= 0 && top.idx < len(top.node.Keys)
}

// Key returns the current key. Valid only while the cursor is positioned.
func (c *Cursor) Key() []byte {
	top := c.stack[len(c.stack)-1]
	return top.node.Keys[top.idx]
}

// Value returns the current value, resolving overflow chains.
func (c *Cursor) Value() ([]byte, error) {
	top := c.stack[len(c.stack)-1]
	return c.tree.resolveValue(top.node.Flags[top.idx], top.node.Values[top.idx])
}

// Err returns the first page access error the cursor hit, if any.
func (c *Cursor) Err() error { return c.err }
