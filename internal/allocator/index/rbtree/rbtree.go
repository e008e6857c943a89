// Package rbtree implements the red-black free-block index from spec
// §4.3b: a BST keyed on block size, with a per-size doubly-linked
// duplicate list so equal-size blocks never create a second tree node.
//
// As with segfit, every link a node exposes (left, right, the head of
// its duplicate list, and a duplicate member's prev/next) is a byte
// offset into the arena, not a pointer, following the §9 design note
// on arena-index addressing.
//
// Two removal styles share only this file's node layout, duplicate-list
// machinery (pushDuplicate, dupHead/dupPrev/dupNext), and the plain
// structural rotate primitive (spec §4.3b): Index (bottomup.go) is
// the CLRS style — insert and delete both walk down collecting an
// explicit ancestor stack (`[]uint64`), then fix violations ascending
// it. TopDownIndex (topdown.go) is the Walker/Sedgewick style — a
// left-leaning red-black tree whose insert rebalances each level on the
// way back up the recursion (llrbBalance) and whose delete pushes red
// links down ahead of the descent (flipColors, moveRedLeft,
// moveRedRight), so removing the node once reached needs no separate
// upward fixup and no stack at all, ancestry held only in the current
// recursion frame.
// See DESIGN.md for why these are two independently derived algorithms
// rather than one engine wearing two names.
package rbtree

import (
	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
)

// nilOffset stands in for the tree's nil/leaf sentinel. A physical
// sentinel block also exists at the top of the segment for the
// boundary-walk contract (spec §3); this package keeps its own
// in-memory nil marker distinct from any real offset so that child,
// duplicate, and parent links cannot be confused with a zero-valued but
// otherwise legitimate offset.
const nilOffset = ^uint64(0)

// noneParent is the value every duplicate-list member, first member
// included, carries in its third word. It is distinct from nilOffset,
// which a tree node with no duplicates carries in that same word.
const noneParent = nilOffset - 1

type dir int

const (
	dirLeft dir = iota
	dirRight
)

func opposite(d dir) dir {
	if d == dirLeft {
		return dirRight
	}
	return dirLeft
}

// Node payload layout: three words after the header.
//   word 0: left child (tree node) / duplicate-list prev (dup member)
//   word 1: right child (tree node) / duplicate-list next (dup member)
//   word 2: head of duplicate list (tree node) /
//           noneParent, always, for every duplicate-list member
//
// Spec §3 describes the head of a duplicate list as also storing its
// owning node's tree-parent, letting a by-address removal of a
// duplicate skip a size-keyed descent. This port always removes
// through a fresh size-keyed descent (findNodeStack for bottom-up,
// findBestFit for top-down) regardless of whether the target turns out
// to be a tree node or a duplicate, so that back-pointer would
// duplicate information already recomputed on every removal rather
// than saving work — the third word of every duplicate-list member,
// head included, is simply noneParent. See DESIGN.md for the tradeoff.

func left(a block.Arena, off uint64) uint64  { return a.ReadWord(block.Payload(off)) }
func setLeft(a block.Arena, off, v uint64)   { a.WriteWord(block.Payload(off), v) }
func right(a block.Arena, off uint64) uint64 { return a.ReadWord(block.Payload(off) + block.WordSize) }
func setRight(a block.Arena, off, v uint64)  { a.WriteWord(block.Payload(off)+block.WordSize, v) }
func third(a block.Arena, off uint64) uint64 {
	return a.ReadWord(block.Payload(off) + 2*block.WordSize)
}
func setThird(a block.Arena, off, v uint64) {
	a.WriteWord(block.Payload(off)+2*block.WordSize, v)
}

func dupHead(a block.Arena, off uint64) uint64    { return third(a, off) }
func setDupHead(a block.Arena, off, v uint64)     { setThird(a, off, v) }
func dupParent(a block.Arena, off uint64) uint64  { return third(a, off) }
func setDupParent(a block.Arena, off, v uint64)   { setThird(a, off, v) }
func dupPrev(a block.Arena, off uint64) uint64    { return left(a, off) }
func setDupPrev(a block.Arena, off, v uint64)     { setLeft(a, off, v) }
func dupNext(a block.Arena, off uint64) uint64    { return right(a, off) }
func setDupNext(a block.Arena, off, v uint64)     { setRight(a, off, v) }

func child(a block.Arena, off uint64, d dir) uint64 {
	if d == dirLeft {
		return left(a, off)
	}
	return right(a, off)
}

func setChild(a block.Arena, off uint64, d dir, v uint64) {
	if d == dirLeft {
		setLeft(a, off, v)
	} else {
		setRight(a, off, v)
	}
}

func colorOf(a block.Arena, off uint64) block.Color {
	if off == nilOffset {
		return block.Black
	}
	return a.HeaderAt(off).Color()
}

func setColor(a block.Arena, off uint64, c block.Color) {
	a.SetHeaderAt(off, a.HeaderAt(off).WithColor(c))
}

func sizeOf(a block.Arena, off uint64) uint64 { return a.HeaderAt(off).Size() }

// tree is the storage and structural machinery shared by Index and
// TopDownIndex. Neither removal style stores anything extra: both operate
// purely on this root pointer plus the per-node links above.
type tree struct {
	arena block.Arena
	root  uint64
	count int
}

func newTree(arena block.Arena) tree {
	return tree{arena: arena, root: nilOffset}
}

// rotate performs a single rotation at x in direction d (dirLeft means
// the classic "rotate left") and returns the new local subtree root.
// It is direction-unified per spec §4.3b / §9: the mirror case is
// reached by passing dirRight instead of duplicating the function.
func (t *tree) rotate(x uint64, d dir) uint64 {
	a := t.arena
	y := child(a, x, opposite(d))
	setChild(a, x, opposite(d), child(a, y, d))
	setChild(a, y, d, x)
	return y
}

// rotateAt rotates the subtree rooted at stack[idx] in direction d,
// relinks the parent (stack[idx-1], or the tree root if idx==0) to the
// new local root, and rewrites stack[idx] in place so the rest of a
// fixup walking this stack sees a consistent view of ancestry (spec
// §4.3b: "Rotations must update the stack so the fixup's view of
// ancestry is correct.").
func (t *tree) rotateAt(stack []uint64, idx int, d dir) uint64 {
	a := t.arena
	x := stack[idx]
	y := t.rotate(x, d)

	if idx == 0 {
		t.root = y
	} else {
		p := stack[idx-1]
		if left(a, p) == x {
			setLeft(a, p, y)
		} else {
			setRight(a, p, y)
		}
	}
	stack[idx] = y
	return y
}

// pushDuplicate appends off onto owner's duplicate list. owner is the
// tree node whose size matches off's size.
func (t *tree) pushDuplicate(owner, off uint64) {
	a := t.arena
	head := dupHead(a, owner)

	setDupPrev(a, off, nilOffset)
	setDupNext(a, off, head)
	setDupParent(a, off, noneParent)

	if head != nilOffset {
		setDupPrev(a, head, off)
	}
	setDupHead(a, owner, off)
}

// insert adds a free block of size sz at off to the tree, appending to
// a duplicate list on an exact size match instead of creating a second
// node (spec §4.3b "Key"). This is the CLRS-style insert used only by
// the bottom-up index; the top-down index has its own left-leaning
// insert in topdown.go.
func (t *tree) insert(off, sz uint64) {
	a := t.arena
	setLeft(a, off, nilOffset)
	setRight(a, off, nilOffset)
	setDupHead(a, off, nilOffset)
	t.count++

	if t.root == nilOffset {
		setColor(a, off, block.Black)
		t.root = off
		return
	}

	stack := make([]uint64, 0, 64)
	cur := t.root
	for {
		curSz := sizeOf(a, cur)
		if sz == curSz {
			t.pushDuplicate(cur, off)
			return
		}
		stack = append(stack, cur)
		d := dirLeft
		if sz > curSz {
			d = dirRight
		}
		nxt := child(a, cur, d)
		if nxt == nilOffset {
			setChild(a, cur, d, off)
			break
		}
		cur = nxt
	}

	setColor(a, off, block.Red)
	stack = append(stack, off)
	t.insertFixup(stack)
}

// insertFixup restores red-black invariants after inserting the red
// node at the top of stack, ascending the stack (CLRS-style, using the
// stack in place of parent pointers).
func (t *tree) insertFixup(stack []uint64) {
	a := t.arena
	i := len(stack) - 1

	for i >= 2 {
		pIdx, gIdx := i-1, i-2
		if colorOf(a, stack[pIdx]) != block.Red {
			break
		}

		pIsLeftChild := left(a, stack[gIdx]) == stack[pIdx]
		var uncle uint64
		if pIsLeftChild {
			uncle = right(a, stack[gIdx])
		} else {
			uncle = left(a, stack[gIdx])
		}

		if uncle != nilOffset && colorOf(a, uncle) == block.Red {
			setColor(a, stack[pIdx], block.Black)
			setColor(a, uncle, block.Black)
			setColor(a, stack[gIdx], block.Red)
			i = gIdx
			continue
		}

		z := stack[i]
		innerDir, outerDir := dirLeft, dirRight
		if !pIsLeftChild {
			innerDir, outerDir = dirRight, dirLeft
		}

		if child(a, stack[pIdx], opposite(innerDir)) == z {
			t.rotateAt(stack, pIdx, innerDir)
		}

		oldG := stack[gIdx]
		t.rotateAt(stack, gIdx, outerDir)
		setColor(a, stack[gIdx], block.Black)
		setColor(a, oldG, block.Red)
		break
	}

	setColor(a, t.root, block.Black)
}

// findBestFit descends the tree tracking the tightest upper bound seen
// so far, exactly as spec §4.3b describes: on stepping left (because
// the current key is too big), remember it as a candidate; on an exact
// match, stop immediately.
func (t *tree) findBestFit(req uint64) (off uint64, found bool) {
	best := index.NotFound
	cur := t.root
	for cur != nilOffset {
		sz := sizeOf(t.arena, cur)
		switch {
		case sz == req:
			return cur, true
		case sz > req:
			best = cur
			cur = left(t.arena, cur)
		default:
			cur = right(t.arena, cur)
		}
	}
	if best == index.NotFound {
		return index.NotFound, false
	}
	return best, true
}

// Count returns the number of free blocks indexed, O(1).
func (t *tree) Count() int { return t.count }

// Walk visits every indexed free block: each tree node and every member
// of its duplicate list.
func (t *tree) Walk(visit func(off, sz uint64)) {
	var rec func(off uint64)
	rec = func(off uint64) {
		if off == nilOffset {
			return
		}
		rec(left(t.arena, off))
		sz := sizeOf(t.arena, off)
		visit(off, sz)
		for d := dupHead(t.arena, off); d != nilOffset; d = dupNext(t.arena, d) {
			visit(d, sz)
		}
		rec(right(t.arena, off))
	}
	rec(t.root)
}

// Root exposes the current tree root offset, or ok=false if the tree
// is empty. Used by validate for BST-order and black-height checks.
func (t *tree) Root() (off uint64, ok bool) {
	if t.root == nilOffset {
		return 0, false
	}
	return t.root, true
}

// Children exposes a node's raw left/right links for validation and
// printing; both may be nilOffset-equivalent, reported via ok.
func (t *tree) Children(off uint64) (l, r uint64, lok, rok bool) {
	a := t.arena
	l, r = left(a, off), right(a, off)
	return l, r, l != nilOffset, r != nilOffset
}

// DuplicateCount returns the number of blocks on off's duplicate list.
func (t *tree) DuplicateCount(off uint64) int {
	n := 0
	for d := dupHead(t.arena, off); d != nilOffset; d = dupNext(t.arena, d) {
		n++
	}
	return n
}

// NodeColor exposes a node's color for validation/printing.
func (t *tree) NodeColor(off uint64) block.Color { return colorOf(t.arena, off) }

// DuplicatesWellFormed reports whether every member of off's duplicate
// list carries noneParent in its third word, the invariant this port
// substitutes for spec §3's "head stores its owner's tree-parent"
// optimization (see the package doc and DESIGN.md).
func (t *tree) DuplicatesWellFormed(off uint64) bool {
	for d := dupHead(t.arena, off); d != nilOffset; d = dupNext(t.arena, d) {
		if dupParent(t.arena, d) != noneParent {
			return false
		}
	}
	return true
}
