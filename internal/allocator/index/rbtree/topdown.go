package rbtree

import (
	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
)

// TopDownIndex is the second removal style spec §4.3b asks for, built
// as a left-leaning red-black tree (Sedgewick): every red link leans
// left, insert rebalances each level as the recursion returns
// (llrbBalance), and delete pushes red links downward as it descends
// (flipColors, moveRedLeft, moveRedRight); neither ascends an explicit
// stack to fix violations afterward. By the time
// a descent reaches the node being removed, that node is already red
// (or the tree is already restructured so removing it needs no
// further repair), so the whole operation never needs a parent
// pointer or an ancestor array — only the current node and its
// immediate children are ever examined, and the call stack (one frame
// per tree level) stands in for the "grandparent, parent, current"
// state spec §4.3b asks this style to keep instead of a stack.
//
// This is a materially different algorithm from Index (bottomup.go),
// not a relabeling of it: insertion here rebalances on the way back up
// the recursion through llrbBalance rather than climbing an ancestor
// stack afterward, and deletion threads moveRedLeft/moveRedRight through the
// search itself so the descent that locates the target also leaves it
// safe to unlink. See DESIGN.md for the derivation and why this
// technique (rather than a hand-derived general-tree top-down
// algorithm) was chosen.
type TopDownIndex struct {
	t tree
}

// NewTopDown creates an empty top-down red-black index over arena.
func NewTopDown(arena block.Arena) *TopDownIndex {
	return &TopDownIndex{t: newTree(arena)}
}

func (ix *TopDownIndex) Insert(off, sz uint64) { ix.t.llrbInsert(off, sz) }

func (ix *TopDownIndex) Count() int { return ix.t.Count() }

func (ix *TopDownIndex) Walk(visit func(off, sz uint64)) { ix.t.Walk(visit) }

// RemoveBestFit finds the tightest-fitting free block via the shared
// read-only descent (findBestFit, rbtree.go) and removes it: a
// duplicate head is promoted in place with no tree surgery at all;
// otherwise the actual removal is the single fused push-red-down
// descent in llrbDeleteKey.
func (ix *TopDownIndex) RemoveBestFit(req uint64) uint64 {
	node, found := ix.t.findBestFit(req)
	if !found {
		return index.NotFound
	}
	sz := sizeOf(ix.t.arena, node)
	if dupHead(ix.t.arena, node) != nilOffset {
		ix.t.promoteDuplicateInPlace(node)
		ix.t.count--
		return node
	}
	ix.t.llrbRemoveKey(sz)
	ix.t.count--
	return node
}

// RemoveByAddress removes the specific free block at off.
func (ix *TopDownIndex) RemoveByAddress(off, sz uint64) {
	node, found := ix.t.findBestFit(sz)
	if !found || sizeOf(ix.t.arena, node) != sz {
		return
	}
	if off != node {
		ix.t.unlinkDuplicate(off, node)
		ix.t.count--
		return
	}
	if dupHead(ix.t.arena, node) != nilOffset {
		ix.t.promoteDuplicateInPlace(node)
		ix.t.count--
		return
	}
	ix.t.llrbRemoveKey(sz)
	ix.t.count--
}

// Root, Children, DuplicateCount, and NodeColor expose tree structure
// for validate and printer use; see Inspectable below.
func (ix *TopDownIndex) Root() (uint64, bool)                            { return ix.t.Root() }
func (ix *TopDownIndex) Children(off uint64) (uint64, uint64, bool, bool) { return ix.t.Children(off) }
func (ix *TopDownIndex) DuplicateCount(off uint64) int                  { return ix.t.DuplicateCount(off) }
func (ix *TopDownIndex) NodeColor(off uint64) block.Color               { return ix.t.NodeColor(off) }
func (ix *TopDownIndex) DuplicatesWellFormed(off uint64) bool           { return ix.t.DuplicatesWellFormed(off) }

// Inspectable is satisfied by both removal-style indexes and exposes
// just enough tree structure for validate/print to check red-black
// invariants and draw the tree without depending on either's internals.
type Inspectable interface {
	Root() (off uint64, ok bool)
	Children(off uint64) (l, r uint64, lok, rok bool)
	DuplicateCount(off uint64) int
	NodeColor(off uint64) block.Color
	DuplicatesWellFormed(off uint64) bool
}

var (
	_ index.Index = (*TopDownIndex)(nil)
	_ Inspectable = (*Index)(nil)
	_ Inspectable = (*TopDownIndex)(nil)
)

// isRed reports whether the link into off is red; nilOffset (no link)
// counts as black, matching colorOf's own sentinel handling.
func isRed(a block.Arena, off uint64) bool { return colorOf(a, off) == block.Red }

func flipColor(a block.Arena, off uint64) {
	if colorOf(a, off) == block.Red {
		setColor(a, off, block.Black)
	} else {
		setColor(a, off, block.Red)
	}
}

// flipColors toggles h and both of its children, the 2-3-4 node
// split/merge operation that moves a black unit between a node and its
// children (or the reverse) in one step.
func (t *tree) flipColors(h uint64) {
	a := t.arena
	flipColor(a, h)
	flipColor(a, left(a, h))
	flipColor(a, right(a, h))
}

// llrbRotate rotates h in direction d and, unlike the bare structural
// rotate in rbtree.go, also carries the color of a left-leaning
// rotation: the new subtree root inherits h's old color and h itself
// becomes red, the link between them.
func (t *tree) llrbRotate(h uint64, d dir) uint64 {
	a := t.arena
	x := t.rotate(h, d)
	setColor(a, x, colorOf(a, h))
	setColor(a, h, block.Red)
	return x
}

// llrbBalance restores the left-leaning invariant at h after an
// insert or delete may have left a red right link, two red lefts in a
// row, or two red children — the three shapes a 2-3-4 node can fall
// into that a single rotation or color flip corrects.
func (t *tree) llrbBalance(h uint64) uint64 {
	a := t.arena
	if isRed(a, right(a, h)) && !isRed(a, left(a, h)) {
		h = t.llrbRotate(h, dirLeft)
	}
	if isRed(a, left(a, h)) && isRed(a, left(a, left(a, h))) {
		h = t.llrbRotate(h, dirRight)
	}
	if isRed(a, left(a, h)) && isRed(a, right(a, h)) {
		t.flipColors(h)
	}
	return h
}

// llrbMoveRedLeft borrows a black unit from h's right side so the
// descent can safely continue into h's left child, which is about to
// be visited and is currently black.
func (t *tree) llrbMoveRedLeft(h uint64) uint64 {
	a := t.arena
	t.flipColors(h)
	if isRed(a, left(a, right(a, h))) {
		setRight(a, h, t.llrbRotate(right(a, h), dirRight))
		h = t.llrbRotate(h, dirLeft)
		t.flipColors(h)
	}
	return h
}

// llrbMoveRedRight is moveRedLeft's mirror, preparing to descend right.
func (t *tree) llrbMoveRedRight(h uint64) uint64 {
	a := t.arena
	t.flipColors(h)
	if isRed(a, left(a, left(a, h))) {
		h = t.llrbRotate(h, dirRight)
		t.flipColors(h)
	}
	return h
}

// llrbInsertRec descends to sz's position, appending to a duplicate
// list on an exact match exactly like the CLRS-style insert, then
// rebalances each level on the way back up via llrbBalance rather than
// an ancestor-stack insertFixup.
func (t *tree) llrbInsertRec(h, off, sz uint64) uint64 {
	a := t.arena
	if h == nilOffset {
		setLeft(a, off, nilOffset)
		setRight(a, off, nilOffset)
		setDupHead(a, off, nilOffset)
		setColor(a, off, block.Red)
		return off
	}

	hSz := sizeOf(a, h)
	switch {
	case sz == hSz:
		t.pushDuplicate(h, off)
		return h
	case sz < hSz:
		setLeft(a, h, t.llrbInsertRec(left(a, h), off, sz))
	default:
		setRight(a, h, t.llrbInsertRec(right(a, h), off, sz))
	}
	return t.llrbBalance(h)
}

func (t *tree) llrbInsert(off, sz uint64) {
	t.root = t.llrbInsertRec(t.root, off, sz)
	setColor(t.arena, t.root, block.Black)
	t.count++
}

// llrbDeleteMin removes the minimum-keyed node of the subtree rooted
// at h, pushing red down ahead of the descent exactly as llrbDeleteKey
// does, and returns the new subtree root plus the offset physically
// unlinked.
func (t *tree) llrbDeleteMin(h uint64) (newRoot, removed uint64) {
	a := t.arena
	if h == nilOffset {
		return nilOffset, index.NotFound
	}
	if left(a, h) == nilOffset {
		return nilOffset, h
	}
	if !isRed(a, left(a, h)) && !isRed(a, left(a, left(a, h))) {
		h = t.llrbMoveRedLeft(h)
	}
	var lo uint64
	lo, removed = t.llrbDeleteMin(left(a, h))
	setLeft(a, h, lo)
	return t.llrbBalance(h), removed
}

// llrbDeleteKey removes the tree node keyed by sz from the subtree
// rooted at h. h must carry no duplicates at the point its key is
// reached — RemoveBestFit/RemoveByAddress promote a duplicate head in
// place instead of ever calling this for a node that still has one.
//
// Like bottomup.go's deleteNode, this never copies a key into place:
// each offset is a physical memory block, so when the target node has
// two children its structural slot is taken over by its in-order
// successor (spliced out via llrbDeleteMin) while the target's own
// offset is the value returned as removed.
func (t *tree) llrbDeleteKey(h, sz uint64) (newRoot, removed uint64) {
	a := t.arena
	if h == nilOffset {
		return nilOffset, index.NotFound
	}

	if sz < sizeOf(a, h) {
		if left(a, h) == nilOffset {
			return h, index.NotFound
		}
		if !isRed(a, left(a, h)) && !isRed(a, left(a, left(a, h))) {
			h = t.llrbMoveRedLeft(h)
		}
		var lo uint64
		lo, removed = t.llrbDeleteKey(left(a, h), sz)
		setLeft(a, h, lo)
		return t.llrbBalance(h), removed
	}

	if isRed(a, left(a, h)) {
		h = t.llrbRotate(h, dirRight)
	}
	if sz == sizeOf(a, h) && right(a, h) == nilOffset {
		return nilOffset, h
	}
	if right(a, h) != nilOffset && !isRed(a, right(a, h)) && !isRed(a, left(a, right(a, h))) {
		h = t.llrbMoveRedRight(h)
	}
	if sz == sizeOf(a, h) {
		ro, succ := t.llrbDeleteMin(right(a, h))
		setLeft(a, succ, left(a, h))
		setRight(a, succ, ro)
		setColor(a, succ, colorOf(a, h))
		return t.llrbBalance(succ), h
	}
	ro, rem := t.llrbDeleteKey(right(a, h), sz)
	setRight(a, h, ro)
	return t.llrbBalance(h), rem
}

// llrbRemoveKey is the index-level wrapper around llrbDeleteKey: it
// updates the tree root and restores the "root is always black"
// invariant llrbDeleteKey's recursion leaves to the caller.
func (t *tree) llrbRemoveKey(sz uint64) {
	t.root, _ = t.llrbDeleteKey(t.root, sz)
	if t.root != nilOffset {
		setColor(t.arena, t.root, block.Black)
	}
}

// unlinkDuplicate removes off, a non-head member of node's duplicate
// list, by splicing it out of the list. Pure list surgery; the tree
// shape above node is untouched.
func (t *tree) unlinkDuplicate(off, node uint64) {
	a := t.arena
	prev := dupPrev(a, off)
	next := dupNext(a, off)
	if prev == nilOffset {
		setDupHead(a, node, next)
	} else {
		setDupNext(a, prev, next)
	}
	if next != nilOffset {
		setDupPrev(a, next, prev)
	}
}

// promoteDuplicateInPlace replaces node, a duplicate-list head, with
// its first duplicate: the promoted block inherits node's children and
// color, and the one link pointing at node (root, or some ancestor's
// child slot) is retargeted to it. Finding that one link costs a fresh
// size-keyed descent from the root, since this index keeps no parent
// pointers to shortcut it — node's own header is untouched until the
// retarget, so the descent's comparisons remain valid throughout.
func (t *tree) promoteDuplicateInPlace(node uint64) {
	a := t.arena
	promoted := dupHead(a, node)
	remaining := dupNext(a, promoted)
	if remaining != nilOffset {
		setDupPrev(a, remaining, nilOffset)
	}
	setDupHead(a, promoted, remaining)
	setLeft(a, promoted, left(a, node))
	setRight(a, promoted, right(a, node))
	setColor(a, promoted, colorOf(a, node))

	if t.root == node {
		t.root = promoted
		return
	}

	sz := sizeOf(a, node)
	cur := t.root
	for cur != nilOffset {
		curSz := sizeOf(a, cur)
		var d dir
		switch {
		case sz < curSz:
			d = dirLeft
		default:
			d = dirRight
		}
		nxt := child(a, cur, d)
		if nxt == node {
			setChild(a, cur, d, promoted)
			return
		}
		cur = nxt
	}
}
