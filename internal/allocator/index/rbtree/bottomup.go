package rbtree

import (
	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
)

// Index is the bottom-up (Cormen-style) red-black free-block index: a
// remove walks down building an explicit ancestor stack, then any
// rebalancing walks that stack back up, exactly as CLRS's RB-DELETE
// and RB-DELETE-FIXUP do with parent pointers.
type Index struct {
	t tree
}

// New creates an empty bottom-up red-black index over arena. Unlike
// segfit, no table needs to be reserved at the bottom of the segment:
// the tree's root lives in this Go value, not in the arena (spec §9).
func New(arena block.Arena) *Index {
	return &Index{t: newTree(arena)}
}

func (ix *Index) Insert(off, sz uint64) { ix.t.insert(off, sz) }

func (ix *Index) Count() int { return ix.t.Count() }

func (ix *Index) Walk(visit func(off, sz uint64)) { ix.t.Walk(visit) }

// RemoveBestFit finds the tightest-fitting free block and removes it.
func (ix *Index) RemoveBestFit(req uint64) uint64 {
	off, found := ix.t.findBestFit(req)
	if !found {
		return index.NotFound
	}
	sz := sizeOf(ix.t.arena, off)
	ix.t.removeByAddress(off, sz)
	return off
}

// RemoveByAddress removes the specific free block at off.
func (ix *Index) RemoveByAddress(off, sz uint64) { ix.t.removeByAddress(off, sz) }

// Root, Children, DuplicateCount, and NodeColor expose tree structure
// for validate and printer use; see Inspectable in rbtree.go.
func (ix *Index) Root() (uint64, bool)                        { return ix.t.Root() }
func (ix *Index) Children(off uint64) (uint64, uint64, bool, bool) { return ix.t.Children(off) }
func (ix *Index) DuplicateCount(off uint64) int               { return ix.t.DuplicateCount(off) }
func (ix *Index) NodeColor(off uint64) block.Color            { return ix.t.NodeColor(off) }
func (ix *Index) DuplicatesWellFormed(off uint64) bool        { return ix.t.DuplicatesWellFormed(off) }

// removeByAddress locates the tree node matching sz, then either
// unlinks off directly from a duplicate list, promotes a duplicate
// into the tree-node slot, or performs a full bottom-up tree deletion,
// per spec §4.3b's removal rules.
func (t *tree) removeByAddress(off, sz uint64) {
	stack, found := t.findNodeStack(sz)
	if !found {
		return
	}
	t.removeAtStack(stack, off)
}

// removeAtStack removes off given the path to its owning tree node
// (the last element of stack): unlinking it directly if it's a
// non-head duplicate, promoting a duplicate into the node's slot if
// one exists, or performing a full tree deletion otherwise.
func (t *tree) removeAtStack(stack []uint64, off uint64) {
	a := t.arena
	node := stack[len(stack)-1]

	if off != node {
		// off is a non-head duplicate: unlink it from node's list.
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
		t.count--
		return
	}

	if dupHead(a, node) != nilOffset {
		t.promoteDuplicate(stack)
		t.count--
		return
	}

	t.deleteNode(stack)
	t.count--
}

// findNodeStack descends from the root looking for a tree node of the
// given size, recording the path taken.
func (t *tree) findNodeStack(sz uint64) (stack []uint64, found bool) {
	cur := t.root
	for cur != nilOffset {
		stack = append(stack, cur)
		curSz := sizeOf(t.arena, cur)
		switch {
		case sz == curSz:
			return stack, true
		case sz < curSz:
			cur = left(t.arena, cur)
		default:
			cur = right(t.arena, cur)
		}
	}
	return nil, false
}

// promoteDuplicate replaces the tree node at the top of stack with its
// first duplicate, which inherits the node's children, color, and
// parent link; the tree's shape is unchanged, only which physical
// block occupies this slot (spec §4.3b).
func (t *tree) promoteDuplicate(stack []uint64) {
	a := t.arena
	idx := len(stack) - 1
	old := stack[idx]
	promoted := dupHead(a, old)

	remaining := dupNext(a, promoted)
	if remaining != nilOffset {
		setDupPrev(a, remaining, nilOffset)
	}
	setDupHead(a, promoted, remaining)

	setLeft(a, promoted, left(a, old))
	setRight(a, promoted, right(a, old))
	setColor(a, promoted, colorOf(a, old))

	if idx == 0 {
		t.root = promoted
	} else {
		p := stack[idx-1]
		if left(a, p) == old {
			setLeft(a, p, promoted)
		} else {
			setRight(a, p, promoted)
		}
	}
	stack[idx] = promoted
}

// deleteNode physically removes the tree node z at the top of stack,
// which has no duplicates (any duplicate was already promoted by the
// caller). This mirrors CLRS RB-DELETE: a node with two children is
// replaced in-place by the minimum of its right subtree, which is then
// unlinked from its original spot as a (at most) one-child node.
func (t *tree) deleteNode(stack []uint64) {
	a := t.arena
	idx := len(stack) - 1
	z := stack[idx]

	if left(a, z) == nilOffset || right(a, z) == nilOffset {
		t.deleteOneChild(stack)
		return
	}

	// Two children: descend to the minimum of the right subtree,
	// extending the stack along the way.
	ext := append(append([]uint64{}, stack...), right(a, z))
	for left(a, ext[len(ext)-1]) != nilOffset {
		ext = append(ext, left(a, ext[len(ext)-1]))
	}
	yIdx := len(ext) - 1
	y := ext[yIdx]
	yColor := colorOf(a, y)
	yRight := right(a, y)
	yIsDirectChild := yIdx == idx+1

	// Splice y out of its original spot first.
	if !yIsDirectChild {
		parentOfY := ext[yIdx-1]
		setLeft(a, parentOfY, yRight)
		setRight(a, y, right(a, z))
	}
	setLeft(a, y, left(a, z))
	if yIsDirectChild {
		setRight(a, y, yRight)
	}
	setColor(a, y, colorOf(a, z))

	if idx == 0 {
		t.root = y
	} else {
		p := stack[idx-1]
		if left(a, p) == z {
			setLeft(a, p, y)
		} else {
			setRight(a, p, y)
		}
	}

	if yColor != block.Black {
		return
	}

	if yIsDirectChild {
		// x's parent is y itself, now sitting at idx.
		fixStack := append(append([]uint64{}, stack[:idx]...), y)
		xIsLeftChild := false // x = yRight is always y's right child here
		t.deleteFixup(fixStack, yRight, xIsLeftChild)
	} else {
		fixStack := append(append(append([]uint64{}, stack[:idx]...), y), ext[idx+1:yIdx]...)
		xIsLeftChild := true // x = yRight always replaces a leftmost descent
		t.deleteFixup(fixStack, yRight, xIsLeftChild)
	}
}

// deleteOneChild handles the case where z (top of stack) has at most
// one child: z is spliced out and that child takes its place.
func (t *tree) deleteOneChild(stack []uint64) {
	a := t.arena
	idx := len(stack) - 1
	z := stack[idx]

	var x uint64
	if left(a, z) != nilOffset {
		x = left(a, z)
	} else {
		x = right(a, z)
	}

	// x replaces z in z's old slot, so x's side (for fixup purposes)
	// is whichever side z itself was on.
	zWasLeftChild := idx > 0 && left(a, stack[idx-1]) == z

	if idx == 0 {
		t.root = x
	} else {
		p := stack[idx-1]
		if zWasLeftChild {
			setLeft(a, p, x)
		} else {
			setRight(a, p, x)
		}
	}

	if colorOf(a, z) != block.Black {
		return
	}
	t.deleteFixup(stack[:idx], x, zWasLeftChild)
}

// deleteFixup restores red-black invariants after removing a black
// node. x (possibly nilOffset) is the node with an extra black unit to
// push up or resolve; xIsLeftChild tells which side of stack's last
// element x occupies, needed because x may be the nil sentinel and so
// cannot always be matched against a child slot directly.
func (t *tree) deleteFixup(stack []uint64, x uint64, xIsLeftChild bool) {
	a := t.arena

	for len(stack) > 0 && x != t.root && colorOf(a, x) == block.Black {
		pIdx := len(stack) - 1
		p := stack[pIdx]

		d := dirRight
		if !xIsLeftChild {
			d = dirLeft
		}
		w := child(a, p, d)

		if colorOf(a, w) == block.Red {
			setColor(a, w, block.Black)
			setColor(a, p, block.Red)

			grandIdx := pIdx - 1
			newRoot := t.rotate(p, opposite(d))
			if grandIdx < 0 {
				t.root = newRoot
			} else {
				gp := stack[grandIdx]
				if left(a, gp) == p {
					setLeft(a, gp, newRoot)
				} else {
					setRight(a, gp, newRoot)
				}
			}

			// w (== newRoot) takes p's old structural slot; p moves
			// one level deeper, as p's own child in direction d.
			stack = append(append(append([]uint64{}, stack[:pIdx]...), newRoot, p), stack[pIdx+1:]...)
			pIdx = len(stack) - 1
			w = child(a, p, d)
		}

		wInner := child(a, w, opposite(d))
		wOuter := child(a, w, d)
		if colorOf(a, wInner) == block.Black && colorOf(a, wOuter) == block.Black {
			setColor(a, w, block.Red)
			x = p
			stack = stack[:pIdx]
			if len(stack) > 0 {
				xIsLeftChild = left(a, stack[len(stack)-1]) == x
			}
			continue
		}

		if colorOf(a, wOuter) == block.Black {
			newW := t.rotate(w, d)
			setChild(a, p, d, newW)
			w = newW
			wOuter = child(a, w, d)
		}

		setColor(a, w, colorOf(a, p))
		setColor(a, p, block.Black)
		setColor(a, wOuter, block.Black)
		t.rotateAt(stack, pIdx, opposite(d))
		x = t.root
		break
	}

	if x != nilOffset {
		setColor(a, x, block.Black)
	}
}

var _ index.Index = (*Index)(nil)
