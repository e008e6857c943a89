package script

import (
	"fmt"

	"github.com/alloclab/heapkit/internal/allocator"
	heaperrors "github.com/alloclab/heapkit/internal/errors"
)

// live tracks one outstanding id's allocation, per spec §6's
// "per-id (pointer, size) table".
type live struct {
	ptr  uint64
	size uint64
}

// Harness drives a sequence of Ops against an Allocator, filling every
// payload with id&0xFF and checking integrity plus heap validity after
// each step, per spec §6's test-harness interface.
type Harness struct {
	al    *allocator.Allocator
	quiet bool

	table map[int]live

	liveBytes     uint64
	peakLiveBytes uint64
	topmost       uint64
}

// NewHarness wraps al. quiet mirrors the CLI's -q flag: it suppresses
// the per-op payload and validate_heap checks.
func NewHarness(al *allocator.Allocator, quiet bool) *Harness {
	return &Harness{al: al, quiet: quiet, table: make(map[int]live)}
}

// Run executes every op in order, stopping at the first check failure
// (payload corruption, a failed validate_heap, or an allocator call
// that unexpectedly returned null). It returns nil if the whole script
// completed cleanly.
func (h *Harness) Run(ops []Op) error {
	for _, op := range ops {
		if err := h.step(op); err != nil {
			return err
		}
		if !h.quiet {
			if err := h.checkAllLive(); err != nil {
				return err
			}
			if err := h.al.ValidateHeap(); err != nil {
				return fmt.Errorf("%s: validate_heap failed: %w", op.Pos, err)
			}
		}
	}
	return nil
}

func (h *Harness) step(op Op) error {
	switch op.Kind {
	case Alloc:
		return h.doAlloc(op)
	case Realloc:
		return h.doRealloc(op)
	case Free:
		return h.doFree(op)
	default:
		return heaperrors.ScriptSyntax(op.Pos.Line, "unreachable operation kind")
	}
}

func (h *Harness) doAlloc(op Op) error {
	p := h.al.Malloc(op.Size)
	if p == allocator.Null {
		return fmt.Errorf("%s: malloc(%d) for id %d returned null", op.Pos, op.Size, op.ID)
	}
	h.fill(p, op.Size, op.ID)
	h.record(op.ID, p, op.Size)
	return nil
}

func (h *Harness) doRealloc(op Op) error {
	prev, had := h.table[op.ID]
	oldPtr := allocator.Null
	if had {
		oldPtr = prev.ptr
	}

	newPtr := h.al.Realloc(oldPtr, op.Size)
	if op.Size == 0 {
		delete(h.table, op.ID)
		if had {
			h.liveBytes -= prev.size
		}
		return nil
	}
	if newPtr == allocator.Null {
		return fmt.Errorf("%s: realloc(%d) for id %d returned null", op.Pos, op.Size, op.ID)
	}
	h.fill(newPtr, op.Size, op.ID)
	if had {
		h.liveBytes -= prev.size
	}
	h.record(op.ID, newPtr, op.Size)
	return nil
}

func (h *Harness) doFree(op Op) error {
	rec, ok := h.table[op.ID]
	if !ok {
		return fmt.Errorf("%s: free of unknown id %d", op.Pos, op.ID)
	}
	h.al.Free(rec.ptr)
	delete(h.table, op.ID)
	h.liveBytes -= rec.size
	return nil
}

func (h *Harness) record(id int, ptr, size uint64) {
	h.table[id] = live{ptr: ptr, size: size}
	h.liveBytes += size
	if h.liveBytes > h.peakLiveBytes {
		h.peakLiveBytes = h.liveBytes
	}
	if top := ptr + size; top > h.topmost {
		h.topmost = top
	}
}

func (h *Harness) fill(ptr, size uint64, id int) {
	pattern := byte(id & 0xFF)
	buf := h.al.Segment().Arena.Bytes[ptr : ptr+size]
	for i := range buf {
		buf[i] = pattern
	}
}

// checkAllLive verifies every currently-live payload still carries its
// id's fill pattern untouched.
func (h *Harness) checkAllLive() error {
	for id, rec := range h.table {
		pattern := byte(id & 0xFF)
		buf := h.al.Segment().Arena.Bytes[rec.ptr : rec.ptr+rec.size]
		for i, b := range buf {
			if b != pattern {
				return fmt.Errorf("payload corruption: id %d byte %d is 0x%02x, want 0x%02x", id, i, b, pattern)
			}
		}
	}
	return nil
}

// Utilization reports peak_live_payload / topmost_address_used, the
// metric spec §6 asks the harness to report. It is 0 if the script
// never allocated anything.
func (h *Harness) Utilization() float64 {
	if h.topmost == 0 {
		return 0
	}
	return float64(h.peakLiveBytes) / float64(h.topmost)
}
