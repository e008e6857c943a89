package script

import (
	"strings"
	"testing"

	"github.com/alloclab/heapkit/internal/allocator"
	"github.com/alloclab/heapkit/internal/testrunner/assert"
)

func TestParseBasicScript(t *testing.T) {
	src := strings.NewReader("# comment\na 0 100\n\nr 0 200\nf 0\n")
	ops, err := Parse("t.script", src)
	assert.NoError(t, err)
	if assert.Equal(t, len(ops), 3) {
		assert.Equal(t, ops[0].Kind, Alloc)
		assert.Equal(t, ops[0].ID, 0)
		assert.Equal(t, ops[0].Size, uint64(100))
		assert.Equal(t, ops[1].Kind, Realloc)
		assert.Equal(t, ops[2].Kind, Free)
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse("t.script", strings.NewReader("a 0\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownOp(t *testing.T) {
	_, err := Parse("t.script", strings.NewReader("x 0 1\n"))
	assert.Error(t, err)
}

func newHeap(t *testing.T) *allocator.Allocator {
	t.Helper()
	al, err := allocator.New(make([]byte, 1<<16))
	assert.NoError(t, err)
	return al
}

func TestHarnessRunsAllocReallocFree(t *testing.T) {
	al := newHeap(t)
	h := NewHarness(al, false)

	ops, err := Parse("t.script", strings.NewReader("a 0 64\na 1 64\nr 0 200\nf 1\nf 0\n"))
	assert.NoError(t, err)
	assert.NoError(t, h.Run(ops))
	assert.Equal(t, al.FreeTotal(), 1)
}

func TestHarnessDetectsUnknownFree(t *testing.T) {
	al := newHeap(t)
	h := NewHarness(al, false)

	ops, err := Parse("t.script", strings.NewReader("f 7\n"))
	assert.NoError(t, err)
	assert.Error(t, h.Run(ops))
}

func TestHarnessUtilizationReflectsPeakLive(t *testing.T) {
	al := newHeap(t)
	h := NewHarness(al, true)

	ops, err := Parse("t.script", strings.NewReader("a 0 100\na 1 100\nf 0\nf 1\n"))
	assert.NoError(t, err)
	assert.NoError(t, h.Run(ops))
	if h.Utilization() <= 0 {
		t.Fatalf("Utilization() = %v, want > 0", h.Utilization())
	}
}
