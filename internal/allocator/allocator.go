// Package allocator implements the allocation service from spec §4.4:
// it translates malloc/free/realloc calls into split, coalesce, and
// free-block-index operations over a segment, and exposes the
// validator/printer entry points client code drives directly (spec
// §6's library table).
//
// An Allocator owns no package-level state (spec §9 "Global mutable
// state"): every public method hangs off a value returned by New, so
// more than one heap can exist in a process at once.
package allocator

import (
	"io"

	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
	"github.com/alloclab/heapkit/internal/allocator/index/rbtree"
	"github.com/alloclab/heapkit/internal/allocator/index/segfit"
	"github.com/alloclab/heapkit/internal/allocator/segment"
	"github.com/alloclab/heapkit/internal/allocator/validate"
)

// Null stands in for a failed allocation or the absence of a payload
// pointer, playing the role spec §6 gives a null pointer. It is never
// a valid payload offset because it is the largest uint64, past the end
// of any segment.
const Null = ^uint64(0)

// MaxRequestSize is the largest request malloc/realloc will service
// (spec §6).
const MaxRequestSize = 1 << 30

// Style selects which free-block index variant an Allocator uses.
// All three satisfy the exact same contract (spec §4.3); they differ
// only in per-block overhead and the shape of their internal links.
type Style int

const (
	SegFit Style = iota
	RBTreeBottomUp
	RBTreeTopDown
)

// overhead is the header-plus-index-pointer allowance spec §4.4 step 2
// folds into every request's rounded-up size.
func (s Style) overhead() uint64 {
	if s == SegFit {
		return 16
	}
	return 24
}

// minBlockSize is the smallest block the variant ever produces, large
// enough to hold a footer and the variant's free-list links even when
// the block later becomes free (spec §4.4 step 4, §3 MIN_BLOCK_SIZE).
func (s Style) minBlockSize() uint64 {
	if s == SegFit {
		return 32
	}
	return 40
}

func (s Style) tableBytes() uint64 {
	if s == SegFit {
		return segfit.TableBytes
	}
	return 0
}

// Config holds the construction-time choices for an Allocator. Use
// Options to set fields instead of constructing one directly.
type Config struct {
	style             Style
	autoValidate      bool
	debugTrap         bool
}

// Option configures a Config passed to New.
type Option func(*Config)

// WithStyle selects the free-block index variant. The default is SegFit.
func WithStyle(s Style) Option {
	return func(c *Config) { c.style = s }
}

// EnableAutoValidate runs ValidateHeap after every mutating call
// (Malloc, Free, Realloc) when on is true. It is off by default; the
// script harness does not set it and instead calls ValidateHeap itself
// after each op unless it runs in -q mode (spec §6).
func EnableAutoValidate(on bool) Option {
	return func(c *Config) { c.autoValidate = on }
}

// EnableDebugTrap makes an auto-validate failure panic instead of
// silently leaving the violation for the next explicit ValidateHeap
// call, playing the role spec §7 gives a debug build's trap so a
// debugger lands on the first offending site.
func EnableDebugTrap(on bool) Option {
	return func(c *Config) { c.debugTrap = on }
}

// Allocator is one heap over one caller-supplied byte segment.
type Allocator struct {
	seg          *segment.Segment
	idx          index.Index
	style        Style
	freeCount    int
	autoValidate bool
	debugTrap    bool
}

// New carves an Allocator's segment out of buf and indexes the entire
// client area as one free block (spec §6 init). buf must be at least
// big enough to hold the variant's reserved table, boundary sentinel,
// and one minimum-size block.
func New(buf []byte, opts ...Option) (*Allocator, error) {
	cfg := Config{style: SegFit}
	for _, opt := range opts {
		opt(&cfg)
	}

	seg, err := segment.New(buf, cfg.style.tableBytes(), cfg.style.minBlockSize())
	if err != nil {
		return nil, err
	}

	al := &Allocator{seg: seg, style: cfg.style, autoValidate: cfg.autoValidate, debugTrap: cfg.debugTrap}
	switch cfg.style {
	case SegFit:
		al.idx = segfit.New(seg.Arena, 0)
	case RBTreeBottomUp:
		al.idx = rbtree.New(seg.Arena)
	case RBTreeTopDown:
		al.idx = rbtree.NewTopDown(seg.Arena)
	}

	al.idx.Insert(seg.ClientStart, seg.ClientBytes())
	al.freeCount = 1
	return al, nil
}

// NewMmap is New, but the backing segment comes from a real anonymous
// mapping via segment.MmapProvider rather than a Go-heap byte slice, so
// the pages the allocator hands out are visible to the OS as a distinct
// mapping (e.g. in /proc/<pid>/maps) instead of living inside the Go
// runtime's own heap. The returned release func must be called exactly
// once, after the Allocator is no longer in use, to munmap the segment;
// it is nil whenever the returned error is non-nil.
func NewMmap(sizeBytes int, opts ...Option) (al *Allocator, release func() error, err error) {
	var provider segment.MmapProvider
	buf, err := provider.Acquire(sizeBytes)
	if err != nil {
		return nil, nil, err
	}

	al, err = New(buf, opts...)
	if err != nil {
		_ = provider.Release(buf)
		return nil, nil, err
	}

	release = func() error { return provider.Release(buf) }
	return al, release, nil
}

// checkAfterMutation runs the configured auto-validate behavior after
// a mutating call, if enabled.
func (al *Allocator) checkAfterMutation() {
	if !al.autoValidate {
		return
	}
	if al.debugTrap {
		al.ValidateDebug()
		return
	}
	_ = al.ValidateHeap()
}

// Malloc services a request for n payload bytes (spec §4.4 malloc),
// returning Null if n is zero, exceeds MaxRequestSize, or no free
// block fits.
func (al *Allocator) Malloc(n uint64) uint64 {
	if n == 0 || n > MaxRequestSize {
		return Null
	}
	defer al.checkAfterMutation()

	need := block.RoundUp8(n + al.style.overhead())
	if need < al.style.minBlockSize() {
		need = al.style.minBlockSize()
	}
	found := al.idx.RemoveBestFit(need)
	if found == index.NotFound {
		return Null
	}
	al.freeCount--

	foundSize := al.seg.Arena.HeaderAt(found).Size()
	min := al.style.minBlockSize()
	if foundSize >= need+min {
		remainder := found + need
		remainderSize := foundSize - need
		al.seg.Arena.InitAlloc(found, need)
		al.seg.Arena.InitFree(remainder, remainderSize, block.Black)
		al.idx.Insert(remainder, remainderSize)
		al.freeCount++
	} else {
		al.seg.Arena.InitAlloc(found, foundSize)
	}

	return block.Payload(found)
}

// Free releases the block at payload pointer p, coalescing with any
// free neighbors before re-indexing it (spec §4.4 free). A Null p is a
// no-op.
func (al *Allocator) Free(p uint64) {
	if p == Null {
		return
	}
	defer al.checkAfterMutation()
	h := block.HeaderFromPayload(p)
	off, sz := al.coalesce(h)
	al.seg.Arena.InitFree(off, sz, block.Black)
	al.idx.Insert(off, sz)
	al.freeCount++
}

// Realloc resizes the block at payload pointer old to hold n bytes,
// following spec §4.4's realloc decision tree exactly, including the
// documented §9 open question: a failed grow still leaves the
// coalesce it performed in place.
func (al *Allocator) Realloc(old, n uint64) uint64 {
	if n == 0 {
		al.Free(old)
		return Null
	}
	if old == Null {
		return al.Malloc(n)
	}
	if n > MaxRequestSize {
		return Null
	}
	defer al.checkAfterMutation()

	h := block.HeaderFromPayload(old)
	oldPayloadSize := al.seg.Arena.HeaderAt(h).Size() - block.WordSize
	movedLeft := h

	coalescedOff, coalescedSize := al.coalesce(h)
	if coalescedOff != h {
		movedLeft = coalescedOff
	}

	need := block.RoundUp8(n + al.style.overhead())
	min := al.style.minBlockSize()
	if need < min {
		need = min
	}

	if coalescedSize >= need {
		if movedLeft != h {
			copyLen := oldPayloadSize
			if n < copyLen {
				copyLen = n
			}
			src := block.Payload(h)
			dst := block.Payload(movedLeft)
			copy(al.seg.Arena.Bytes[dst:dst+copyLen], al.seg.Arena.Bytes[src:src+copyLen])
		}

		if coalescedSize >= need+min {
			remainder := movedLeft + need
			remainderSize := coalescedSize - need
			al.seg.Arena.InitAlloc(movedLeft, need)
			al.seg.Arena.InitFree(remainder, remainderSize, block.Black)
			al.idx.Insert(remainder, remainderSize)
			al.freeCount++
		} else {
			al.seg.Arena.InitAlloc(movedLeft, coalescedSize)
		}
		return block.Payload(movedLeft)
	}

	// Not large enough even after coalescing: fall back to a fresh
	// allocation and copy the old payload across before the coalesced
	// leftover's bytes are touched by InitFree (spec §4.4: malloc the
	// new block, memcpy, only then re-insert the leftover).
	fresh := al.Malloc(n)
	if fresh == Null {
		al.seg.Arena.InitFree(movedLeft, coalescedSize, block.Black)
		al.idx.Insert(movedLeft, coalescedSize)
		al.freeCount++
		return Null
	}

	copyLen := oldPayloadSize
	if n < copyLen {
		copyLen = n
	}
	src := block.Payload(movedLeft)
	copy(al.seg.Arena.Bytes[fresh:fresh+copyLen], al.seg.Arena.Bytes[src:src+copyLen])

	al.seg.Arena.InitFree(movedLeft, coalescedSize, block.Black)
	al.idx.Insert(movedLeft, coalescedSize)
	al.freeCount++
	return fresh
}

// coalesce merges the block at h with its free right and/or left
// neighbor, removing each from the index by address, and returns the
// resulting block's (possibly shifted left) offset and total size
// (spec §4.4 Coalesce). It writes no header; the caller decides
// whether the merged range becomes free or allocated.
func (al *Allocator) coalesce(h uint64) (off, size uint64) {
	a := al.seg.Arena
	off = h
	size = a.HeaderAt(h).Size()

	right := block.Right(off, a.HeaderAt(off))
	if !al.seg.IsSentinel(right) {
		rh := a.HeaderAt(right)
		if !rh.IsAlloc() {
			al.idx.RemoveByAddress(right, rh.Size())
			al.freeCount--
			size += rh.Size()
		}
	}

	if off != al.seg.ClientStart && a.HeaderAt(off).IsLeftFree() {
		leftOff := a.Left(off)
		leftSize := a.HeaderAt(leftOff).Size()
		al.idx.RemoveByAddress(leftOff, leftSize)
		al.freeCount--
		size += leftSize
		off = leftOff
	}

	return off, size
}

// FreeTotal returns the number of free blocks, O(1) (spec §6).
func (al *Allocator) FreeTotal() int { return al.freeCount }

// Segment exposes the underlying segment for validate and print.
func (al *Allocator) Segment() *segment.Segment { return al.seg }

// Index exposes the underlying free-block index for validate and print.
func (al *Allocator) Index() index.Index { return al.idx }

// Style reports which index variant this Allocator was built with.
func (al *Allocator) Style() Style { return al.style }

// ValidateHeap runs the component E checks (spec §4.5) against this
// allocator's current segment and index state.
func (al *Allocator) ValidateHeap() error {
	return validate.Heap(al.seg, al.idx, al.freeCount, al.style == SegFit)
}

// ValidateDebug runs ValidateHeap and panics on the first violation,
// the debug-build trap spec §7 describes.
func (al *Allocator) ValidateDebug() {
	validate.Debug(al.seg, al.idx, al.freeCount, al.style == SegFit)
}

// PrintFreeNodes writes a PLAIN or VERBOSE dump of this allocator's
// blocks to w (spec §4.5 printer, §6 print_free_nodes).
func (al *Allocator) PrintFreeNodes(w io.Writer, v validate.Verbosity) error {
	return validate.Print(w, al.seg, al.idx, v)
}
