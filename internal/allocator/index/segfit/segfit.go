// Package segfit implements the segregated-fits free-block index from
// spec §4.3a: 15 size-class buckets, each a doubly-linked, LIFO-ordered
// free list threaded through the payload bytes of its own blocks.
package segfit

import (
	"math/bits"

	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
)

// NumClasses is the fixed bucket count spec §4.3a mandates.
const NumClasses = 15

// classSizes are the lower bound of each class: four exact small sizes,
// then power-of-two range starts, ending in a catch-all for >= 65536.
var classSizes = [NumClasses]uint64{
	32, 40, 48, 56,
	64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536,
}

// tableEntryWidth is the per-class row width at rest: an 8-byte class
// size followed by an 8-byte head offset (spec §6's "[u16 size, ptr
// head]" row, widened to whole words so every field stays naturally
// aligned in the byte-offset arena).
const tableEntryWidth = 16

// TableBytes is the number of reserved bytes segfit needs at the bottom
// of a segment for its class table.
const TableBytes = NumClasses * tableEntryWidth

// listNil marks an empty list head or a list terminator. It is never a
// valid block offset because it is the largest uint64, past the end of
// any arena.
const listNil = ^uint64(0)

// ClassIndex maps a block size to its bucket index, matching spec
// §4.3a's de-Bruijn/log2 scheme. It returns ok=false for a size <= 56
// that is not one of the four exact small classes — spec §9 flags this
// as reachable only from a corrupted stored size, and leaves the
// response up to the port; this one reports failure instead of
// aborting.
func ClassIndex(size uint64) (idx int, ok bool) {
	switch {
	case size < 32:
		return 0, false
	case size <= 56:
		switch size {
		case 32:
			return 0, true
		case 40:
			return 1, true
		case 48:
			return 2, true
		case 56:
			return 3, true
		default:
			return 0, false
		}
	default:
		lg := bits.Len64(size) - 1 // floor(log2(size))
		i := lg - 2
		if i < 4 {
			i = 4
		}
		if i > NumClasses-1 {
			i = NumClasses - 1
		}
		return i, true
	}
}

// Index is the segregated-fits free-block index. It does not own the
// reserved table bytes' lifetime; New expects the caller to have set
// aside TableBytes at the start of the arena.
type Index struct {
	arena block.Arena
	table uint64 // offset of the class table, always 0 in practice
	count int
}

// New creates an Index over arena, writing a fresh, empty class table
// at tableOffset.
func New(arena block.Arena, tableOffset uint64) *Index {
	ix := &Index{arena: arena, table: tableOffset}
	for i := 0; i < NumClasses; i++ {
		row := tableOffset + uint64(i)*tableEntryWidth
		arena.WriteWord(row, classSizes[i])
		arena.WriteWord(row+8, listNil)
	}
	return ix
}

func (ix *Index) headSlot(class int) uint64 { return ix.table + uint64(class)*tableEntryWidth + 8 }

func (ix *Index) head(class int) uint64 { return ix.arena.ReadWord(ix.headSlot(class)) }

func (ix *Index) setHead(class int, off uint64) { ix.arena.WriteWord(ix.headSlot(class), off) }

// prevSlot/nextSlot are offsets of the prev/next links inside a free
// block's payload, which starts at block.Payload(off).
func prevSlot(off uint64) uint64 { return block.Payload(off) }
func nextSlot(off uint64) uint64 { return block.Payload(off) + block.WordSize }

func (ix *Index) prevOf(off uint64) uint64 { return ix.arena.ReadWord(prevSlot(off)) }
func (ix *Index) nextOf(off uint64) uint64 { return ix.arena.ReadWord(nextSlot(off)) }
func (ix *Index) setPrev(off, v uint64)    { ix.arena.WriteWord(prevSlot(off), v) }
func (ix *Index) setNext(off, v uint64)    { ix.arena.WriteWord(nextSlot(off), v) }

// Insert adds the free block at off (size sz) to the head of its
// class's list — LIFO, not sorted (spec §4.3a insertion policy).
func (ix *Index) Insert(off, sz uint64) {
	class, ok := ClassIndex(sz)
	if !ok {
		// A corrupted size reached the index; fall back to the
		// catch-all class rather than losing the block outright.
		class = NumClasses - 1
	}

	oldHead := ix.head(class)
	ix.setPrev(off, listNil)
	ix.setNext(off, oldHead)
	if oldHead != listNil {
		ix.setPrev(oldHead, off)
	}
	ix.setHead(class, off)
	ix.count++
}

// RemoveBestFit scans classes from the one that could contain req
// upward, returning the first block in the first non-empty usable list
// that actually fits (spec §4.3a best-fit search).
func (ix *Index) RemoveBestFit(req uint64) uint64 {
	startClass, ok := ClassIndex(req)
	if !ok {
		startClass = 0
	}

	for class := startClass; class < NumClasses; class++ {
		for off := ix.head(class); off != listNil; off = ix.nextOf(off) {
			sz := ix.arena.HeaderAt(off).Size()
			if sz >= req {
				ix.unlink(off, class)
				return off
			}
		}
	}
	return index.NotFound
}

// RemoveByAddress removes the specific free block at off (size sz) from
// its class's list.
func (ix *Index) RemoveByAddress(off, sz uint64) {
	class, ok := ClassIndex(sz)
	if !ok {
		class = NumClasses - 1
	}
	ix.unlink(off, class)
}

func (ix *Index) unlink(off uint64, class int) {
	prev := ix.prevOf(off)
	next := ix.nextOf(off)

	if prev == listNil {
		ix.setHead(class, next)
	} else {
		ix.setNext(prev, next)
	}
	if next != listNil {
		ix.setPrev(next, prev)
	}
	ix.count--
}

// Count returns the number of free blocks indexed, O(1).
func (ix *Index) Count() int { return ix.count }

// Walk visits every indexed free block, class by class, head to tail.
func (ix *Index) Walk(visit func(off, sz uint64)) {
	for class := 0; class < NumClasses; class++ {
		for off := ix.head(class); off != listNil; off = ix.nextOf(off) {
			visit(off, ix.arena.HeaderAt(off).Size())
		}
	}
}

// ClassOf returns the class index that a block of the given size should
// currently live in, and the inclusive/exclusive [lo, hi) bound of that
// class, for validator use (spec invariant 5 / §4.5 variant-specific
// check). hi is 0 for the open-ended catch-all class.
func ClassOf(size uint64) (class int, lo, hi uint64) {
	class, ok := ClassIndex(size)
	if !ok {
		class = NumClasses - 1
	}
	lo = classSizes[class]
	if class+1 < NumClasses {
		hi = classSizes[class+1]
	}
	return class, lo, hi
}

var _ index.Index = (*Index)(nil)
