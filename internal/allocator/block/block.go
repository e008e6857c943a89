// Package block implements the boundary-tag block layout shared by every
// free-block index variant: a bit-packed header word, an optional footer
// on free blocks, and the pointer arithmetic needed to step between a
// block and its left/right neighbors.
//
// Blocks live inside a flat []byte arena and are identified by their byte
// offset from the start of that arena, not by unsafe.Pointer — the
// "pointers" a free block exposes to its index (segregated-fits
// prev/next, red-black left/right/dup) are themselves offsets. This
// keeps the representation safe to inspect, copy, and relocate during
// tests without touching package unsafe.
package block

import "encoding/binary"

// WordSize is the width of a header or footer word, and the allocator's
// natural alignment.
const WordSize = 8

// Color distinguishes red-black tree nodes. Segregated-fits blocks never
// set this bit and always read as Black.
type Color uint8

const (
	Black Color = 0
	Red   Color = 1
)

const (
	allocBit     = uint64(1) << 0
	leftAllocBit = uint64(1) << 1
	colorBit     = uint64(1) << 2
	sizeMask     = ^uint64(0x7)
)

// Header is the bit-packed header word described in spec §3: the high
// bits hold the block size (always a multiple of 8), bit 2 holds the
// red/black color (tree variant only), bit 1 records whether the left
// neighbor is allocated, and bit 0 records whether this block is
// allocated.
type Header uint64

// Size returns the total size of the block in bytes, header included.
func (h Header) Size() uint64 { return uint64(h) & sizeMask }

// IsAlloc reports whether the block is currently allocated.
func (h Header) IsAlloc() bool { return uint64(h)&allocBit != 0 }

// IsLeftFree reports whether the block's left neighbor is free. It is
// only meaningful when the block is not the first in the segment.
func (h Header) IsLeftFree() bool { return uint64(h)&leftAllocBit == 0 }

// Color returns the red-black color bit. Meaningless for segfit blocks.
func (h Header) Color() Color {
	if uint64(h)&colorBit != 0 {
		return Red
	}
	return Black
}

// Valid reports whether h's size is a multiple of 8. Size masks off
// the three flag bits, so this holds for every header word; no other
// bit pattern and no zero size is rejected.
func (h Header) Valid() bool {
	sz := h.Size()
	if sz%WordSize != 0 {
		return false
	}
	return true
}

// MakeFree builds the header word for a free block of size sz, given the
// allocation state of its left neighbor and (for tree variants) its color.
func MakeFree(sz uint64, leftAlloc bool, c Color) Header {
	h := sz & sizeMask
	if leftAlloc {
		h |= leftAllocBit
	}
	if c == Red {
		h |= colorBit
	}
	return Header(h)
}

// MakeAlloc builds the header word for an allocated block of size sz,
// given the allocation state of its left neighbor.
func MakeAlloc(sz uint64, leftAlloc bool) Header {
	h := (sz & sizeMask) | allocBit
	if leftAlloc {
		h |= leftAllocBit
	}
	return Header(h)
}

// WithLeftAlloc returns h with its LEFT_ALLOC bit set to v, size and the
// remaining flags unchanged.
func (h Header) WithLeftAlloc(v bool) Header {
	u := uint64(h) &^ leftAllocBit
	if v {
		u |= leftAllocBit
	}
	return Header(u)
}

// WithColor returns h with its COLOR bit set to c.
func (h Header) WithColor(c Color) Header {
	u := uint64(h) &^ colorBit
	if c == Red {
		u |= colorBit
	}
	return Header(u)
}

// Arena is a flat byte slice addressed by offset. It is the storage that
// backs one segment's worth of blocks; segment.Segment wraps one with
// the client bounds and sentinel bookkeeping that turn it into a heap.
type Arena struct {
	Bytes []byte
}

// ReadWord reads the 8-byte little-endian word at off.
func (a Arena) ReadWord(off uint64) uint64 {
	return binary.LittleEndian.Uint64(a.Bytes[off : off+WordSize])
}

// WriteWord writes v as an 8-byte little-endian word at off.
func (a Arena) WriteWord(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(a.Bytes[off:off+WordSize], v)
}

// HeaderAt reads the header word at off.
func (a Arena) HeaderAt(off uint64) Header { return Header(a.ReadWord(off)) }

// SetHeaderAt writes h as the header word at off.
func (a Arena) SetHeaderAt(off uint64, h Header) { a.WriteWord(off, uint64(h)) }

// FooterOffset returns the offset of the footer word of a block of size
// sz starting at off: the last word of the block.
func FooterOffset(off, sz uint64) uint64 { return off + sz - WordSize }

// Right returns the offset of the block immediately to the right of the
// block at off, given its header.
func Right(off uint64, h Header) uint64 { return off + h.Size() }

// LeftSize reads the size of the left neighbor from the footer word that
// sits immediately before off. Only valid when the block at off has
// IsLeftFree() true.
func (a Arena) LeftSize(off uint64) uint64 {
	return Header(a.ReadWord(off - WordSize)).Size()
}

// Left returns the offset of the free left neighbor of the block at off.
// Only valid when the block at off has IsLeftFree() true.
func (a Arena) Left(off uint64) uint64 {
	return off - a.LeftSize(off)
}

// Payload returns the offset of the first payload byte of the block
// whose header starts at off: one word past the header.
func Payload(off uint64) uint64 { return off + WordSize }

// HeaderFromPayload is the inverse of Payload.
func HeaderFromPayload(payloadOff uint64) uint64 { return payloadOff - WordSize }

// InitFree writes the header and footer for a free block of size sz at
// off (spec §4.1 init_free), and clears LEFT_ALLOC on its right
// neighbor so the neighbor's header correctly reports a free left side.
func (a Arena) InitFree(off, sz uint64, c Color) {
	leftAlloc := !a.HeaderAt(off).IsLeftFree()
	h := MakeFree(sz, leftAlloc, c)
	a.SetHeaderAt(off, h)
	a.WriteWord(FooterOffset(off, sz), uint64(h))

	right := off + sz
	a.SetHeaderAt(right, a.HeaderAt(right).WithLeftAlloc(false))
}

// InitAlloc writes the header for an allocated block of size sz at off
// (spec §4.1 init_alloc). No footer is written: those bytes belong to
// the caller's payload. The right neighbor's LEFT_ALLOC bit is set.
func (a Arena) InitAlloc(off, sz uint64) {
	leftAlloc := !a.HeaderAt(off).IsLeftFree()
	h := MakeAlloc(sz, leftAlloc)
	a.SetHeaderAt(off, h)

	right := off + sz
	a.SetHeaderAt(right, a.HeaderAt(right).WithLeftAlloc(true))
}

// RoundUp8 rounds n up to the next multiple of 8.
func RoundUp8(n uint64) uint64 { return (n + 7) &^ 7 }
