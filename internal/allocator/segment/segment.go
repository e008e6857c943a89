// Package segment implements the single contiguous region a heapkit
// allocator manages (spec §3 "Segment"), the forward block-by-block walk
// over it (spec §4.2), and the OS-backed shim that can hand one out as a
// real mapping instead of a plain Go slice.
package segment

import (
	"github.com/alloclab/heapkit/internal/allocator/block"
	heaperrors "github.com/alloclab/heapkit/internal/errors"
)

// BoundarySentinelSize is the width reserved for the right boundary
// sentinel: a single header word with ALLOC=1, SIZE=0 (spec §3).
const BoundarySentinelSize = block.WordSize

// Segment owns one contiguous byte region and the bounds within it that
// are available to client blocks. ReservedBytes is whatever table an
// index variant keeps at the bottom of the region (the segfit class
// table; zero for the tree variant).
type Segment struct {
	Arena         block.Arena
	ClientStart   uint64 // offset of the first client block header
	ClientEnd     uint64 // offset one past the last client byte, i.e. the sentinel's offset
	ReservedBytes uint64
}

// New carves a Segment out of buf, reserving reservedBytes at the
// bottom for an index's fixed table and BoundarySentinelSize at the top
// for the right boundary sentinel. It writes the sentinel and returns a
// Segment whose entire client area is one free block, or an error if
// buf is too small to hold the minimum usable block.
func New(buf []byte, reservedBytes, minBlockSize uint64) (*Segment, error) {
	total := uint64(len(buf))
	if total < reservedBytes+BoundarySentinelSize+minBlockSize {
		return nil, heaperrors.SegmentTooSmall(uintptr(total), uintptr(reservedBytes+BoundarySentinelSize+minBlockSize))
	}

	s := &Segment{
		Arena:         block.Arena{Bytes: buf},
		ClientStart:   reservedBytes,
		ClientEnd:     total - BoundarySentinelSize,
		ReservedBytes: reservedBytes,
	}
	s.Reset()

	return s, nil
}

// Reset rewrites the sentinel and makes the entire client area one free
// block again, as if the segment had just been initialized (spec §6
// init is idempotent).
func (s *Segment) Reset() {
	// The sentinel starts with LEFT_ALLOC set; InitFree below clears it,
	// since the block to its left is then the one free client block.
	s.Arena.SetHeaderAt(s.ClientEnd, block.MakeAlloc(0, true))
	s.Arena.InitFree(s.ClientStart, s.ClientEnd-s.ClientStart, block.Black)
}

// ClientBytes is the number of bytes available to client blocks.
func (s *Segment) ClientBytes() uint64 { return s.ClientEnd - s.ClientStart }

// IsSentinel reports whether off is the right boundary sentinel.
func (s *Segment) IsSentinel(off uint64) bool { return off == s.ClientEnd }

// Walk calls visit once per block from ClientStart up to (not including)
// the sentinel, in address order. visit returning false stops the walk
// early. Walk returns a BadJump error if a header reports size zero or
// would step past ClientEnd before reaching the sentinel offset exactly.
func (s *Segment) Walk(visit func(off uint64, h block.Header) bool) error {
	off := s.ClientStart
	for off != s.ClientEnd {
		h := s.Arena.HeaderAt(off)
		sz := h.Size()
		if sz == 0 || off+sz > s.ClientEnd {
			return heaperrors.BadJump(off, off+sz)
		}
		if !visit(off, h) {
			return nil
		}
		off += sz
	}
	return nil
}

// CountFree returns the number of free blocks found by a segment walk
// and the total free bytes among them (spec invariant 7 / §4.5 Balance).
func (s *Segment) CountFree() (count int, freeBytes uint64, err error) {
	err = s.Walk(func(off uint64, h block.Header) bool {
		if !h.IsAlloc() {
			count++
			freeBytes += h.Size()
		}
		return true
	})
	return
}
