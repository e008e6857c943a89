// Package validate implements the validator from spec §4.5: it walks
// the segment and the free-block index, cross-checking totals and the
// structural invariants each index variant promises, and reports the
// first violation it finds rather than attempting any repair (spec §7
// "Production code never auto-repairs").
package validate

import (
	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
	"github.com/alloclab/heapkit/internal/allocator/index/rbtree"
	"github.com/alloclab/heapkit/internal/allocator/index/segfit"
	"github.com/alloclab/heapkit/internal/allocator/segment"
	heaperrors "github.com/alloclab/heapkit/internal/errors"
)

// Heap implements validate_heap from spec §4.5: it depends only on the
// segment and index contracts (components B and C), never on the
// allocation service itself, so the allocation service can call back
// into this package (ValidateHeap) without an import cycle. isSegFit
// selects which variant-specific check (§4.5 item 4) applies.
//
// Heap runs every check in order, stopping at the first failure. A nil
// result means the heap is internally consistent.
func Heap(seg *segment.Segment, idx index.Index, freeCount int, isSegFit bool) error {
	if err := checkInit(seg); err != nil {
		return err
	}

	allocBytes, freeBytes, walkFreeCount, err := checkBalance(seg, freeCount)
	if err != nil {
		return err
	}

	if err := checkIndexBalance(idx, freeBytes, walkFreeCount); err != nil {
		return err
	}

	if err := checkVariant(seg, idx, isSegFit); err != nil {
		return err
	}

	_ = allocBytes
	return nil
}

// OK reports whether Heap found no violation.
func OK(seg *segment.Segment, idx index.Index, freeCount int, isSegFit bool) bool {
	return Heap(seg, idx, freeCount, isSegFit) == nil
}

// Debug runs Heap and panics on the first violation found, playing the
// role spec §4.5 item 5 gives a debug build's trap so a debugger lands
// on the offending site. Production code should call Heap or OK
// instead and decide for itself how to surface a failure.
func Debug(seg *segment.Segment, idx index.Index, freeCount int, isSegFit bool) {
	if err := Heap(seg, idx, freeCount, isSegFit); err != nil {
		panic(err)
	}
}

// checkInit verifies spec §4.5 item 1: the segment's bounds account
// for every byte, and the boundary sentinel has the fixed header the
// rest of the allocator relies on to stop a walk.
func checkInit(seg *segment.Segment) error {
	total := uint64(len(seg.Arena.Bytes))
	if seg.ClientEnd+segment.BoundarySentinelSize != total {
		return heaperrors.IndexCorrupt("client_end + sentinel width does not account for the full segment")
	}
	if seg.ClientStart != seg.ReservedBytes {
		return heaperrors.IndexCorrupt("client area does not start immediately after the reserved table")
	}

	sentinel := seg.Arena.HeaderAt(seg.ClientEnd)
	if sentinel.Size() != 0 || !sentinel.IsAlloc() {
		return heaperrors.CorruptHeader(seg.ClientEnd, uint64(sentinel))
	}
	return nil
}

// checkBalance verifies spec §4.5 item 2: a full segment walk
// accounts for every byte, no two adjacent blocks are both free (spec
// invariant 4, universal across variants), and the free-block count
// it finds matches the allocator's O(1) counter.
func checkBalance(seg *segment.Segment, reportedFreeCount int) (allocBytes, freeBytes uint64, freeCount int, err error) {
	prevFree := false
	werr := seg.Walk(func(off uint64, h block.Header) bool {
		if h.Size()%block.WordSize != 0 || h.Size() == 0 {
			err = heaperrors.CorruptHeader(off, uint64(h))
			return false
		}
		if !h.IsAlloc() {
			if prevFree {
				err = heaperrors.IndexCorrupt("two adjacent free blocks were not coalesced")
				return false
			}
			prevFree = true
			freeCount++
			freeBytes += h.Size()
		} else {
			prevFree = false
			allocBytes += h.Size()
		}
		return true
	})
	if werr != nil {
		return 0, 0, 0, werr
	}
	if err != nil {
		return 0, 0, 0, err
	}

	total := uint64(len(seg.Arena.Bytes))
	if allocBytes+freeBytes+seg.ReservedBytes+segment.BoundarySentinelSize != total {
		return 0, 0, 0, heaperrors.IndexCorrupt("allocated + free + reserved + sentinel bytes do not sum to the segment size")
	}
	if freeCount != reportedFreeCount {
		return 0, 0, 0, heaperrors.IndexCorrupt("segment-walk free count disagrees with the allocator's free counter")
	}
	return allocBytes, freeBytes, freeCount, nil
}

// checkIndexBalance verifies spec §4.5 item 3: walking the index
// yields the same free-byte total and block count as the segment walk.
func checkIndexBalance(idx index.Index, wantBytes uint64, wantCount int) error {
	var gotBytes uint64
	gotCount := 0
	idx.Walk(func(off, sz uint64) {
		gotBytes += sz
		gotCount++
	})
	if gotCount != idx.Count() {
		return heaperrors.IndexCorrupt("index walk count disagrees with the index's own O(1) counter")
	}
	if gotCount != wantCount {
		return heaperrors.IndexCorrupt("index walk free count disagrees with the segment walk")
	}
	if gotBytes != wantBytes {
		return heaperrors.IndexCorrupt("index walk free bytes disagree with the segment walk")
	}
	return nil
}

// checkVariant verifies spec §4.5 item 4: the invariants specific to
// whichever index variant idx is.
func checkVariant(seg *segment.Segment, idx index.Index, isSegFit bool) error {
	if isSegFit {
		return checkSegFit(idx)
	}
	return checkTree(seg, idx)
}

func checkSegFit(idx index.Index) error {
	var outer error
	idx.Walk(func(off, sz uint64) {
		if outer != nil {
			return
		}
		_, lo, hi := segfit.ClassOf(sz)
		if sz < lo || (hi != 0 && sz >= hi) {
			outer = heaperrors.IndexCorrupt("free block does not belong to the class its size implies")
		}
	})
	return outer
}

// checkTree verifies spec invariant 6 and §4.5's tree-specific checks:
// BST order on size, no red-red parent/child edge, equal black height
// on every root-to-nil path. The black height is computed once, in the
// same walk that checks BST order and color; no second, independent
// computation cross-checks it.
func checkTree(seg *segment.Segment, idx index.Index) error {
	insp, ok := idx.(rbtree.Inspectable)
	if !ok {
		return nil
	}

	root, hasRoot := insp.Root()
	if !hasRoot {
		return nil
	}
	if insp.NodeColor(root) != block.Black {
		return heaperrors.IndexCorrupt("red-black root is not black")
	}

	if err := checkTreeNode(seg, insp, root, 0, 0, false, false); err != nil {
		return err
	}
	return checkDuplicateParents(insp, root)
}

// checkTreeNode recurses the tree rooted at off, verifying BST order
// against the (lo, hi) bound inherited from its ancestors and the
// no-red-red invariant. checkTreeSubtree returns each subtree's black
// height so every node confirms its two subtrees agree; checkTreeNode
// keeps only the error.
func checkTreeNode(seg *segment.Segment, insp rbtree.Inspectable, off uint64, lo, hi uint64, hasLo, hasHi bool) error {
	_, err := checkTreeSubtree(seg, insp, off, lo, hi, hasLo, hasHi)
	return err
}

func checkTreeSubtree(seg *segment.Segment, insp rbtree.Inspectable, off uint64, lo, hi uint64, hasLo, hasHi bool) (int, error) {
	sz := sizeOf(seg, off)
	if hasLo && sz <= lo {
		return 0, heaperrors.IndexCorrupt("red-black BST order violated")
	}
	if hasHi && sz >= hi {
		return 0, heaperrors.IndexCorrupt("red-black BST order violated")
	}

	color := insp.NodeColor(off)
	l, r, lok, rok := insp.Children(off)

	if color != block.Black {
		if lok && insp.NodeColor(l) != block.Black {
			return 0, heaperrors.IndexCorrupt("red node has a red left child")
		}
		if rok && insp.NodeColor(r) != block.Black {
			return 0, heaperrors.IndexCorrupt("red node has a red right child")
		}
	}

	leftHeight := 1
	if lok {
		h, err := checkTreeSubtree(seg, insp, l, lo, sz, hasLo, true)
		if err != nil {
			return 0, err
		}
		leftHeight = h
	}
	rightHeight := 1
	if rok {
		h, err := checkTreeSubtree(seg, insp, r, sz, hi, true, hasHi)
		if err != nil {
			return 0, err
		}
		rightHeight = h
	}
	if leftHeight != rightHeight {
		return 0, heaperrors.IndexCorrupt("unequal black height across a red-black subtree")
	}
	if color == block.Black {
		return leftHeight + 1, nil
	}
	return leftHeight, nil
}

func sizeOf(seg *segment.Segment, off uint64) uint64 {
	return seg.Arena.HeaderAt(off).Size()
}

// checkDuplicateParents verifies every duplicate-list member's third
// word is noneParent, the substitute this port uses in place of spec
// §3's "head stores owner's tree-parent" optimization (see
// rbtree.Index's package doc and DESIGN.md).
func checkDuplicateParents(insp rbtree.Inspectable, off uint64) error {
	if !insp.DuplicatesWellFormed(off) {
		return heaperrors.IndexCorrupt("duplicate-list member does not carry the expected sentinel parent")
	}
	l, r, lok, rok := insp.Children(off)
	if lok {
		if err := checkDuplicateParents(insp, l); err != nil {
			return err
		}
	}
	if rok {
		if err := checkDuplicateParents(insp, r); err != nil {
			return err
		}
	}
	return nil
}
