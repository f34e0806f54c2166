package historytree

import (
	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htnode"
)

// getNode loads a node by sequence number, consulting the in-progress
// branch first so queries issued mid-build (e.g. from a test) see the
// still-unpersisted tail of the tree.
func (t *Tree) getNode(seq int32) (*htnode.Node, error) {
	for _, n := range t.branch {
		if n.Sequence == seq {
			return n, nil
		}
	}
	return t.io.ReadNode(seq, t.cfg.MaxChildren)
}

func (t *Tree) rootSequence() int32 {
	return t.header.RootSequence
}

// descend walks from the root to the leaf responsible for timestamp ts,
// newest-branch-first, invoking visit on every node along the way.
// visit returns true to stop the descent early.
func (t *Tree) descend(ts int64, visit func(node *htnode.Node) bool) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	if ts < t.header.StartTime || ts > t.header.EndTime {
		t.mu.Unlock()
		return ErrTimeRange
	}
	seq := t.rootSequence()
	t.mu.Unlock()

	for {
		node, err := t.getNode(seq)
		if err != nil {
			return err
		}
		if visit(node) || node.IsLeaf() {
			return nil
		}
		child, ok := node.SelectNextChild(ts)
		if !ok {
			return nil
		}
		seq = child
	}
}

// DoQuery returns every interval intersecting ts, keyed by attribute
// quark (the "full state" query).
func (t *Tree) DoQuery(ts int64) (map[int32]htinterval.Interval, error) {
	out := make(map[int32]htinterval.Interval)
	err := t.descend(ts, func(node *htnode.Node) bool {
		for _, iv := range node.IntervalsIntersecting(ts) {
			if _, exists := out[iv.Quark]; !exists {
				out[iv.Quark] = iv
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DoSingularQuery returns the interval for one quark at ts, if any (the
// "single state" query). Descent stops as soon as a match is found.
func (t *Tree) DoSingularQuery(ts int64, quark int32) (htinterval.Interval, bool, error) {
	var found htinterval.Interval
	var ok bool
	err := t.descend(ts, func(node *htnode.Node) bool {
		iv, matched := node.RelevantInterval(quark, ts)
		if matched {
			found, ok = iv, true
			return true
		}
		return false
	})
	if err != nil {
		return htinterval.Interval{}, false, err
	}
	return found, ok, nil
}

// DoPartialQuery returns intervals for a specified subset of quarks at
// ts (the "partial state" query). Descent stops as soon as every
// requested quark has been resolved.
func (t *Tree) DoPartialQuery(ts int64, quarks []int32) (map[int32]htinterval.Interval, error) {
	remaining := make(map[int32]bool, len(quarks))
	for _, q := range quarks {
		remaining[q] = true
	}
	out := make(map[int32]htinterval.Interval, len(quarks))
	err := t.descend(ts, func(node *htnode.Node) bool {
		for _, iv := range node.PartialIntersecting(ts, remaining) {
			out[iv.Quark] = iv
		}
		return len(remaining) == 0
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
