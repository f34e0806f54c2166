// Package htnode implements the on-disk block format of a history tree
// node: a fixed-size block holding a header plus a time-sorted list of
// intervals, in either a Core (has children) or Leaf (terminal) variant.
package htnode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// Variant tags the two node shapes. The numeric values are part of the
// on-disk format.
type Variant byte

const (
	VariantCore Variant = 1
	VariantLeaf Variant = 2
)

// commonHeaderSize is the byte length of the header shared by both
// variants: tag, start, end, sequence, parent, interval count.
const commonHeaderSize = 1 + 8 + 8 + 4 + 4 + 4

// coreExtHeaderSize is the fixed portion of a Core node's extra header,
// before the per-child arrays: the reserved extension sequence and the
// child count.
const coreExtHeaderSize = 4 + 4

// childEntrySize is the per-child cost in a Core node's header: one
// sequence number (int32) plus one start time (int64).
const childEntrySize = 4 + 8

// CoreHeaderSize returns the byte length of a Core node's header
// (common header plus extension header plus the fixed-size child
// tables) for the given branching factor.
func CoreHeaderSize(maxChildren int) int {
	return commonHeaderSize + coreExtHeaderSize + maxChildren*childEntrySize
}

// LeafHeaderSize returns the byte length of a Leaf node's header.
func LeafHeaderSize() int {
	return commonHeaderSize
}

// Node is a single block of the history tree: a variant tag, a time
// range, a parent back-reference, and a time-sorted list of intervals.
// Core nodes additionally carry a children table guarded by its own lock
// (coreExt), so that structural changes to the children arrays don't
// contend with interval appends on the same node.
type Node struct {
	mu sync.RWMutex

	Sequence int32
	parent   int32
	start    int64
	end      int64 // 0 sentinel: still open
	variant  Variant
	maxEnd   int64 // highest End among appended intervals, tracked for Close()

	intervals []htinterval.Interval
	onDisk    bool

	blockSize   int
	maxChildren int

	core *coreExt // nil for Leaf nodes
}

type coreExt struct {
	mu         sync.RWMutex
	childSeq   []int32
	childStart []int64
}

// NewLeaf creates an open leaf node.
func NewLeaf(seq, parent int32, start int64, blockSize int) *Node {
	return &Node{
		Sequence:  seq,
		parent:    parent,
		start:     start,
		variant:   VariantLeaf,
		blockSize: blockSize,
	}
}

// NewCore creates an open core node with room for maxChildren children.
func NewCore(seq, parent int32, start int64, blockSize, maxChildren int) *Node {
	return &Node{
		Sequence:    seq,
		parent:      parent,
		start:       start,
		variant:     VariantCore,
		blockSize:   blockSize,
		maxChildren: maxChildren,
		core:        &coreExt{},
	}
}

func (n *Node) IsLeaf() bool { return n.variant == VariantLeaf }
func (n *Node) IsCore() bool { return n.variant == VariantCore }

func (n *Node) Parent() int32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// SetParent rewrites the node's parent back-reference. Used only when a
// new root is allocated above an already-closed node.
func (n *Node) SetParent(parent int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parent = parent
}

func (n *Node) Start() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.start
}

// End returns the node's closing time, or false if the node is still open.
func (n *Node) End() (int64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.end == 0 {
		return 0, false
	}
	return n.end, true
}

func (n *Node) IsClosed() bool {
	_, ok := n.End()
	return ok
}

// MaxEnd returns the greatest End observed among this node's intervals so
// far (0 if none), used to compute the close time.
func (n *Node) MaxEnd() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxEnd
}

// Close records the node's end time. The end time is the greater of the
// node's own observed maximum interval end and the caller-supplied time,
// so that a child's range never contradicts its parent's. An empty node
// may end up with start > end; per the design notes this is tolerated as
// a vacuous node rather than treated as an error.
func (n *Node) Close(endTime int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if endTime < n.maxEnd {
		endTime = n.maxEnd
	}
	n.end = endTime
	if n.end == 0 {
		// A node closed at time 0 with no observed intervals would read
		// back as "still open" (0 is the open sentinel); nudge it so the
		// close is recorded unambiguously.
		n.end = 1
	}
}

func (n *Node) headerSize() int {
	if n.variant == VariantCore {
		return commonHeaderSize + coreExtHeaderSize + n.maxChildren*childEntrySize
	}
	return commonHeaderSize
}

// FreeSpace returns how many bytes remain in the node's block for more
// interval data.
func (n *Node) FreeSpace() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	used := n.headerSize()
	for _, iv := range n.intervals {
		sz, err := iv.Size()
		if err != nil {
			continue
		}
		used += sz
	}
	return n.blockSize - used
}

// TryAppend inserts iv into the node's interval list if it fits in the
// remaining free space, maintaining the end-time sort order by locating
// the insertion point scanning backward from the tail (sub-linear when
// callers submit intervals in approximately end-time order, as builders
// typically do). It reports whether the interval was appended.
func (n *Node) TryAppend(iv htinterval.Interval) bool {
	sz, err := iv.Size()
	if err != nil || sz > htinterval.MaxSerializedSize {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	used := n.headerSize()
	for _, existing := range n.intervals {
		s, _ := existing.Size()
		used += s
	}
	if used+sz > n.blockSize {
		return false
	}
	i := len(n.intervals)
	for i > 0 && n.intervals[i-1].End > iv.End {
		i--
	}
	n.intervals = append(n.intervals, htinterval.Interval{})
	copy(n.intervals[i+1:], n.intervals[i:])
	n.intervals[i] = iv
	if iv.End > n.maxEnd {
		n.maxEnd = iv.End
	}
	return true
}

// IntervalCount reports how many intervals the node currently holds.
func (n *Node) IntervalCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.intervals)
}

// startIndex returns the smallest index i such that intervals[i].End >= t,
// via binary search (sort.Search already returns the first index
// satisfying a monotonic predicate, which is exactly the "binary search
// plus back-scan over equal end times" the format description calls for
// when the search primitive lacks a monotonic predicate form).
func (n *Node) startIndex(t int64) int {
	return sort.Search(len(n.intervals), func(i int) bool {
		return n.intervals[i].End >= t
	})
}

// IntervalsIntersecting returns every interval in the node whose range
// covers t, in storage order.
func (n *Node) IntervalsIntersecting(t int64) []htinterval.Interval {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []htinterval.Interval
	for i := n.startIndex(t); i < len(n.intervals); i++ {
		iv := n.intervals[i]
		if iv.Start <= t {
			out = append(out, iv)
		}
	}
	return out
}

// RelevantInterval returns the first interval in the node that intersects
// t and belongs to quark, if any.
func (n *Node) RelevantInterval(quark int32, t int64) (htinterval.Interval, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := n.startIndex(t); i < len(n.intervals); i++ {
		iv := n.intervals[i]
		if iv.Quark == quark && iv.Start <= t {
			return iv, true
		}
	}
	return htinterval.Interval{}, false
}

// PartialIntersecting returns every interval in the node intersecting t
// whose quark is in remaining, deleting matched quarks from remaining as
// it finds them so the caller can stop descending once it is empty.
func (n *Node) PartialIntersecting(t int64, remaining map[int32]bool) []htinterval.Interval {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []htinterval.Interval
	for i := n.startIndex(t); i < len(n.intervals) && len(remaining) > 0; i++ {
		iv := n.intervals[i]
		if iv.Start <= t && remaining[iv.Quark] {
			out = append(out, iv)
			delete(remaining, iv.Quark)
		}
	}
	return out
}

// ErrChildrenFull is returned by LinkChild when a Core node already has
// maxChildren children.
var ErrChildrenFull = fmt.Errorf("htnode: core node already has max children")

// ErrNotCore is returned by child-table operations on a Leaf node.
var ErrNotCore = fmt.Errorf("htnode: not a core node")

// ChildCount reports the number of children linked under a Core node.
func (n *Node) ChildCount() int {
	if n.core == nil {
		return 0
	}
	n.core.mu.RLock()
	defer n.core.mu.RUnlock()
	return len(n.core.childSeq)
}

// LinkChild appends a new child to a Core node's children table. Children
// are ordered by creation time, so child start times are expected to be
// non-decreasing; the rightmost child is the one currently being written.
func (n *Node) LinkChild(childSeq int32, childStart int64) error {
	if n.core == nil {
		return ErrNotCore
	}
	n.core.mu.Lock()
	defer n.core.mu.Unlock()
	if len(n.core.childSeq) >= n.maxChildren {
		return ErrChildrenFull
	}
	n.core.childSeq = append(n.core.childSeq, childSeq)
	n.core.childStart = append(n.core.childStart, childStart)
	return nil
}

// SelectNextChild returns the unique child responsible for timestamp t:
// the first child, scanning from newest to oldest, whose start time is
// at or before t. Newest-first favors the latest branch, which is where
// most queries land, and tolerates the open-ended state of the most
// recently created child.
func (n *Node) SelectNextChild(t int64) (int32, bool) {
	if n.core == nil {
		return 0, false
	}
	n.core.mu.RLock()
	defer n.core.mu.RUnlock()
	for i := len(n.core.childSeq) - 1; i >= 0; i-- {
		if n.core.childStart[i] <= t {
			return n.core.childSeq[i], true
		}
	}
	return 0, false
}
