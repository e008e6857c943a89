package validate

import (
	"fmt"
	"io"

	"github.com/alloclab/heapkit/internal/allocator/block"
	"github.com/alloclab/heapkit/internal/allocator/index"
	"github.com/alloclab/heapkit/internal/allocator/index/rbtree"
	"github.com/alloclab/heapkit/internal/allocator/segment"
)

// Verbosity selects how much detail Print writes for each block (spec
// §4.5 item 6's plain/verbose modes).
type Verbosity int

const (
	// Plain prints each block's state (alloc/free) and size, in segment
	// order.
	Plain Verbosity = iota
	// Verbose additionally prints addresses and, for a tree index, draws
	// the tree with each node's color and duplicate count. Subtree black
	// heights are not printed.
	Verbose
)

// Print walks the segment (for Plain) or the index tree (for Verbose on
// a tree-backed index) and writes a directory-style listing of every
// block to w.
func Print(w io.Writer, seg *segment.Segment, idx index.Index, v Verbosity) error {
	if insp, ok := idx.(rbtree.Inspectable); ok && v == Verbose {
		return printTree(w, seg, insp)
	}
	return printLinear(w, seg, v)
}

// printLinear lists blocks in address order, the only option for segfit
// and the plain-mode default for every variant.
func printLinear(w io.Writer, seg *segment.Segment, v Verbosity) error {
	i := 0
	return seg.Walk(func(off uint64, h block.Header) bool {
		i++
		tag := "alloc"
		if !h.IsAlloc() {
			tag = "free"
		}
		if v == Verbose {
			fmt.Fprintf(w, "[%4d] 0x%08x  %-5s  %8d bytes\n", i, off, tag, h.Size())
		} else {
			fmt.Fprintf(w, "%-5s %8d\n", tag, h.Size())
		}
		return true
	})
}

// printTree draws the free-block tree the way a directory listing
// draws nesting, annotating each node with its address, size, color and
// duplicate count. printNode computes each subtree's black height but
// does not print it.
func printTree(w io.Writer, seg *segment.Segment, insp rbtree.Inspectable) error {
	root, ok := insp.Root()
	if !ok {
		fmt.Fprintln(w, "(empty)")
		return nil
	}
	_, err := printNode(w, seg, insp, root, "", true)
	return err
}

func printNode(w io.Writer, seg *segment.Segment, insp rbtree.Inspectable, off uint64, prefix string, isRoot bool) (int, error) {
	sz := sizeOf(seg, off)
	color := "B"
	if insp.NodeColor(off) == block.Red {
		color = "R"
	}
	dup := insp.DuplicateCount(off)
	dupNote := ""
	if dup > 0 {
		dupNote = fmt.Sprintf(" (+%d)", dup)
	}

	connector := "└── "
	if isRoot {
		connector = ""
	}
	fmt.Fprintf(w, "%s%s0x%08x  %8d bytes [%s]%s\n", prefix, connector, off, sz, color, dupNote)

	childPrefix := prefix
	if !isRoot {
		childPrefix += "    "
	}

	l, r, lok, rok := insp.Children(off)
	leftHeight, rightHeight := 1, 1

	if lok {
		fmt.Fprintf(w, "%s├── L:\n", childPrefix)
		h, err := printNode(w, seg, insp, l, childPrefix+"│   ", false)
		if err != nil {
			return 0, err
		}
		leftHeight = h
	}
	if rok {
		fmt.Fprintf(w, "%s└── R:\n", childPrefix)
		h, err := printNode(w, seg, insp, r, childPrefix+"    ", false)
		if err != nil {
			return 0, err
		}
		rightHeight = h
	}

	height := leftHeight
	if rightHeight > height {
		height = rightHeight
	}
	if insp.NodeColor(off) == block.Black {
		height++
	}
	return height, nil
}
