package segment

import (
	"testing"

	"github.com/alloclab/heapkit/internal/allocator/block"
)

func TestNewRejectsUndersizedBuffer(t *testing.T) {
	_, err := New(make([]byte, 8), 0, 32)
	if err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestNewSingleFreeBlock(t *testing.T) {
	buf := make([]byte, 1024)
	s, err := New(buf, 0, 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	count, freeBytes, err := s.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if freeBytes != s.ClientBytes() {
		t.Fatalf("freeBytes = %d, want %d", freeBytes, s.ClientBytes())
	}
}

func TestWalkDetectsBadJump(t *testing.T) {
	buf := make([]byte, 128)
	s, err := New(buf, 0, 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Corrupt the only block's header to claim size 0.
	s.Arena.SetHeaderAt(s.ClientStart, 0)

	if err := s.Walk(func(uint64, block.Header) bool { return true }); err == nil {
		t.Fatal("expected a bad-jump error")
	}
}

func TestReservedBytesShiftClientStart(t *testing.T) {
	buf := make([]byte, 256)
	s, err := New(buf, 32, 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ClientStart != 32 {
		t.Fatalf("ClientStart = %d, want 32", s.ClientStart)
	}
}
