package segfit

import (
	"testing"

	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
)

func TestClassIndexBoundaries(t *testing.T) {
	cases := []struct {
		size uint64
		want int
	}{
		{32, 0}, {40, 1}, {48, 2}, {56, 3},
		{64, 4}, {100, 4}, {127, 4},
		{128, 5}, {256, 6}, {65536, 14}, {1 << 20, 14},
	}
	for _, c := range cases {
		got, ok := ClassIndex(c.size)
		if !ok {
			t.Errorf("ClassIndex(%d) not ok", c.size)
			continue
		}
		if got != c.want {
			t.Errorf("ClassIndex(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestClassIndexRejectsOddSmallSizes(t *testing.T) {
	if _, ok := ClassIndex(36); ok {
		t.Fatal("ClassIndex(36) should not be ok (not an exact small class)")
	}
}

func newArena(n int) block.Arena { return block.Arena{Bytes: make([]byte, n)} }

func TestInsertRemoveBestFit(t *testing.T) {
	arena := newArena(4096)
	ix := New(arena, 0)

	off := uint64(TableBytes)
	arena.SetHeaderAt(off, block.MakeFree(64, true, block.Black))
	ix.Insert(off, 64)

	if ix.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", ix.Count())
	}

	got := ix.RemoveBestFit(40)
	if got != off {
		t.Fatalf("RemoveBestFit = %d, want %d", got, off)
	}
	if ix.Count() != 0 {
		t.Fatalf("Count() after remove = %d, want 0", ix.Count())
	}
}

func TestBestFitPicksSmallestSufficientAcrossClasses(t *testing.T) {
	arena := newArena(8192)
	ix := New(arena, 0)

	small := uint64(TableBytes)
	arena.SetHeaderAt(small, block.MakeFree(64, true, block.Black))
	ix.Insert(small, 64)

	big := small + 64
	arena.SetHeaderAt(big, block.MakeFree(256, true, block.Black))
	ix.Insert(big, 256)

	got := ix.RemoveBestFit(100)
	if got != big {
		t.Fatalf("RemoveBestFit(100) = %d, want %d (the 256-byte block)", got, big)
	}
}

func TestRemoveBestFitEmptyReturnsNotFound(t *testing.T) {
	ix := New(newArena(512), 0)
	if got := ix.RemoveBestFit(64); got != index.NotFound {
		t.Fatalf("RemoveBestFit on empty index = %d, want NotFound", got)
	}
}

func TestRemoveByAddressMiddleOfList(t *testing.T) {
	arena := newArena(4096)
	ix := New(arena, 0)

	a := uint64(TableBytes)
	b := a + 64
	c := b + 64
	for _, off := range []uint64{a, b, c} {
		arena.SetHeaderAt(off, block.MakeFree(64, true, block.Black))
		ix.Insert(off, 64)
	}
	// LIFO order means head is c, then b, then a.
	ix.RemoveByAddress(b, 64)
	if ix.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", ix.Count())
	}

	var seen []uint64
	ix.Walk(func(off, sz uint64) { seen = append(seen, off) })
	for _, off := range seen {
		if off == b {
			t.Fatalf("removed block %d still present in walk", b)
		}
	}
}

func TestWalkVisitsAllIndexedBlocks(t *testing.T) {
	arena := newArena(4096)
	ix := New(arena, 0)

	offsets := []uint64{uint64(TableBytes), uint64(TableBytes) + 64, uint64(TableBytes) + 128}
	sizes := []uint64{64, 128, 4096 - uint64(TableBytes) - 192}
	for i, off := range offsets {
		arena.SetHeaderAt(off, block.MakeFree(sizes[i], true, block.Black))
		ix.Insert(off, sizes[i])
	}

	seen := map[uint64]bool{}
	ix.Walk(func(off, sz uint64) { seen[off] = true })
	for _, off := range offsets {
		if !seen[off] {
			t.Errorf("Walk missed block at %d", off)
		}
	}
}
