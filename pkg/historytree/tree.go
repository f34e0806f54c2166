// Package historytree implements the History Tree Storage Engine: an
// append-only, block-structured on-disk index of time intervals. A Tree
// is built by repeated InsertPastState calls during a single build
// phase, finalized by FinishBuilding, and thereafter queried by timestamp
// via DoQuery, DoSingularQuery and DoPartialQuery.
package historytree

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htio"
	"github.com/vorteil/histtree/pkg/htlog"
	"github.com/vorteil/histtree/pkg/htnode"
)

// Tree is a single history tree file. All exported methods are safe for
// concurrent use; InsertPastState/FinishBuilding assume a single builder
// per the single-writer invariant, while queries may run from multiple
// goroutines once building is finished.
type Tree struct {
	mu sync.Mutex

	cfg Config
	log htlog.Logger

	hf     *os.File // holds the leading header block
	io     *htio.IO // holds the node blocks
	path   string
	header *header

	// branch is the current latest branch, root first, active leaf
	// last. Valid only while built is false; once FinishBuilding runs
	// it is cleared, since every node from then on is read through io.
	branch []*htnode.Node

	nextSeq  int32
	built    bool
	disposed bool
}

// Create initializes a new, empty tree file at path and readies it for
// InsertPastState calls.
func Create(path string, cfg Config, log htlog.Logger) (*Tree, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = htlog.Discard{}
	}

	hf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("historytree: creating %s: %w", path, err)
	}

	h := newHeader(resolved)
	buf, err := h.marshalBinary()
	if err != nil {
		_ = hf.Close()
		return nil, err
	}
	if _, err := hf.Write(buf); err != nil {
		_ = hf.Close()
		return nil, fmt.Errorf("historytree: writing header: %w", err)
	}

	bio, err := htio.Open(path, headerSize, int64(resolved.BlockSize), resolved.CacheSize, log)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	t := &Tree{
		cfg:    resolved,
		log:    log,
		hf:     hf,
		io:     bio,
		path:   path,
		header: h,
	}

	root := t.allocLeaf(resolved.StartTime, -1)
	t.branch = []*htnode.Node{root}
	h.RootSequence = root.Sequence
	if err := t.io.WriteNode(root); err != nil {
		_ = t.io.Remove()
		_ = hf.Close()
		return nil, err
	}
	return t, nil
}

// Open reopens an existing, finished tree file for querying. A mismatch
// between cfg.ProviderVersion and the file's recorded version is a hard
// error, per the reopen contract; an empty cfg.ProviderVersion skips the
// check.
func Open(path string, cfg Config, log htlog.Logger) (*Tree, error) {
	if log == nil {
		log = htlog.Discard{}
	}
	hf, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("historytree: opening %s: %w", path, err)
	}
	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(hf, hbuf); err != nil {
		_ = hf.Close()
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptHeader, err)
	}
	h, err := unmarshalHeader(hbuf)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}
	if cfg.ProviderVersion != "" && cfg.ProviderVersion != h.ProviderVersion {
		_ = hf.Close()
		return nil, fmt.Errorf("%w: file has %q, caller wants %q", ErrProviderVersionMismatch, h.ProviderVersion, cfg.ProviderVersion)
	}

	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultConfig().CacheSize
	}
	bio, err := htio.Open(path, headerSize, h.BlockSize, cacheSize, log)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	return &Tree{
		cfg: Config{
			BlockSize:       int(h.BlockSize),
			MaxChildren:     int(h.MaxChildren),
			ProviderVersion: h.ProviderVersion,
			StartTime:       h.StartTime,
			CacheSize:       cacheSize,
		},
		log:     log,
		hf:      hf,
		io:      bio,
		path:    path,
		header:  h,
		nextSeq: h.NodeCount,
		built:   true,
	}, nil
}

func (t *Tree) allocLeaf(start int64, parent int32) *htnode.Node {
	seq := t.nextSeq
	t.nextSeq++
	return htnode.NewLeaf(seq, parent, start, t.cfg.BlockSize)
}

func (t *Tree) allocCore(start int64, parent int32) *htnode.Node {
	seq := t.nextSeq
	t.nextSeq++
	return htnode.NewCore(seq, parent, start, t.cfg.BlockSize, t.cfg.MaxChildren)
}

// InsertPastState appends one closed (or still-open, if end==0 is not
// used — end must already be known) interval to the tree. Intervals
// must arrive in non-decreasing end-time order; this is the contract
// the builder (or htqueue consumer) is responsible for upholding.
func (t *Tree) InsertPastState(start, end int64, quark int32, v htinterval.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return ErrDisposed
	}
	if t.built {
		return ErrAlreadyBuilt
	}
	if start > end {
		return ErrTimeRange
	}
	if start < t.header.StartTime {
		return ErrTimeRange
	}

	iv := htinterval.Interval{Start: start, End: end, Quark: quark, Value: v}
	sz, err := iv.Size()
	if err != nil {
		return err
	}
	if sz > htinterval.MaxSerializedSize {
		return ErrIntervalTooLarge
	}

	if err := t.insertAtNode(iv, len(t.branch)-1); err != nil {
		return err
	}
	if end > t.header.EndTime {
		t.header.EndTime = end
	}
	return nil
}

// insertAtNode places iv on the latest branch, starting the search at
// idx (the current leaf, on the first call) and walking toward the
// root. A node that lacks room for iv is grown — closed and replaced by
// a fresh sibling chain reaching back down to a leaf — and the search
// resumes at the new leaf. A node whose start time falls after
// iv.Start cannot hold it, since every interval a node stores must
// satisfy node.start <= interval.start; the search then continues one
// level up instead. Because the root always starts at the tree's start
// time, and every interval is validated against that same bound before
// reaching here, the walk is guaranteed to find a home without running
// off the top of the branch — this is the upward-recursion insertion
// Trace Compass's history tree does, and it is how a long-lived
// interval ends up living in a core node rather than a leaf.
func (t *Tree) insertAtNode(iv htinterval.Interval, idx int) error {
	for {
		node := t.branch[idx]

		sz, err := iv.Size()
		if err != nil {
			return err
		}
		if sz > node.FreeSpace() {
			if err := t.growBranchAt(idx, iv.End); err != nil {
				return err
			}
			idx = len(t.branch) - 1
			continue
		}

		if iv.Start < node.Start() {
			if idx == 0 {
				return fmt.Errorf("historytree: interval start %d precedes root start %d", iv.Start, node.Start())
			}
			idx--
			continue
		}

		if !node.TryAppend(iv) {
			return ErrIntervalTooLarge
		}
		return nil
	}
}

// growBranchAt closes the node at idx — cascading the close upward
// through as many ancestors as have also reached their child limit —
// and grows a fresh chain of nodes back down to a new leaf, so the
// latest branch always ends in an open leaf. If the cascade reaches the
// root, a brand-new root is allocated above it and the tree's depth
// increases by one; otherwise the new chain reattaches under the first
// ancestor that still has room for another child. New nodes start at
// splitTime+1, so a sibling's time range is disjoint from, and strictly
// later than, the range of the node it replaces.
func (t *Tree) growBranchAt(idx int, triggerEnd int64) error {
	splitTime := t.header.EndTime
	if triggerEnd > splitTime {
		splitTime = triggerEnd
	}
	originalDepth := len(t.branch)

	// Open nodes below idx are about to leave the latest branch; close
	// and persist them first so they stay readable through io.
	for i := len(t.branch) - 1; i > idx; i-- {
		below := t.branch[i]
		below.Close(splitTime)
		if err := t.io.WriteNode(below); err != nil {
			t.log.Errorf("historytree: persisting closed node %d: %v", below.Sequence, err)
		}
	}

	for {
		node := t.branch[idx]
		node.Close(splitTime)
		if err := t.io.WriteNode(node); err != nil {
			t.log.Errorf("historytree: persisting closed node %d: %v", node.Sequence, err)
		}

		if idx == 0 {
			return t.addNewRoot(node, splitTime, originalDepth)
		}

		parent := t.branch[idx-1]
		if parent.ChildCount() < t.cfg.MaxChildren {
			attach := t.branch[idx-1]
			t.branch = t.branch[:idx]
			return t.extendBranch(attach, splitTime, originalDepth-idx)
		}
		idx--
	}
}

// addNewRoot allocates a new root one level above oldRoot — which
// becomes the new root's first, already-closed child — and grows a
// fresh chain of originalDepth nodes below it, restoring the latest
// branch to end in an open leaf. The tree's depth increases by exactly
// one.
func (t *Tree) addNewRoot(oldRoot *htnode.Node, splitTime int64, originalDepth int) error {
	newRoot := t.allocCore(t.header.StartTime, -1)
	oldRoot.SetParent(newRoot.Sequence)
	if err := t.io.WriteNode(oldRoot); err != nil {
		t.log.Errorf("historytree: rewriting parent link for node %d: %v", oldRoot.Sequence, err)
	}
	if err := newRoot.LinkChild(oldRoot.Sequence, oldRoot.Start()); err != nil {
		return err
	}
	t.branch = []*htnode.Node{newRoot}
	t.header.RootSequence = newRoot.Sequence
	return t.extendBranch(newRoot, splitTime, originalDepth)
}

// extendBranch creates chainLen new nodes — chainLen-1 core nodes
// topped by a single leaf — each starting at splitTime+1, links each as
// the newest child of the one above it starting from attach, and
// appends them all to the latest branch.
func (t *Tree) extendBranch(attach *htnode.Node, splitTime int64, chainLen int) error {
	start := splitTime + 1
	for level := chainLen; level >= 1; level-- {
		var nn *htnode.Node
		if level == 1 {
			nn = t.allocLeaf(start, attach.Sequence)
		} else {
			nn = t.allocCore(start, attach.Sequence)
		}
		if err := attach.LinkChild(nn.Sequence, nn.Start()); err != nil {
			return err
		}
		t.branch = append(t.branch, nn)
		attach = nn
	}
	return nil
}

// FinishBuilding closes every node on the current branch at the given
// final time (or the tree's own observed maximum end, whichever is
// greater), persists the header with the given opaque attribute-tree
// blob appended after the last node block, and makes the tree ready
// for queries. No further InsertPastState calls are permitted.
func (t *Tree) FinishBuilding(endTime int64, attrTreeBlob []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return ErrDisposed
	}
	if t.built {
		return nil
	}

	final := endTime
	if t.header.EndTime > final {
		final = t.header.EndTime
	}
	for _, n := range t.branch {
		n.Close(final)
		if err := t.io.WriteNode(n); err != nil {
			t.log.Errorf("historytree: persisting final node %d: %v", n.Sequence, err)
		}
	}
	t.header.EndTime = final
	t.header.NodeCount = t.nextSeq

	if err := t.io.Sync(); err != nil {
		return fmt.Errorf("historytree: syncing node blocks: %w", err)
	}

	attrOffset := headerSize + int64(t.nextSeq)*int64(t.cfg.BlockSize)
	t.header.AttrTreeOffset = attrOffset
	if len(attrTreeBlob) > 0 {
		if _, err := t.hf.Seek(attrOffset, io.SeekStart); err != nil {
			return fmt.Errorf("historytree: seeking to attribute tree offset: %w", err)
		}
		if _, err := t.hf.Write(attrTreeBlob); err != nil {
			return fmt.Errorf("historytree: writing attribute tree blob: %w", err)
		}
	}

	if err := t.writeHeaderLocked(); err != nil {
		return err
	}
	if err := t.hf.Sync(); err != nil {
		return fmt.Errorf("historytree: syncing header: %w", err)
	}

	t.built = true
	t.branch = nil
	return nil
}

func (t *Tree) writeHeaderLocked() error {
	buf, err := t.header.marshalBinary()
	if err != nil {
		return err
	}
	if _, err := t.hf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("historytree: seeking to header: %w", err)
	}
	if _, err := t.hf.Write(buf); err != nil {
		return fmt.Errorf("historytree: writing header: %w", err)
	}
	return nil
}

// GetStartTime returns the tree's fixed start time.
func (t *Tree) GetStartTime() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.header.StartTime
}

// GetEndTime returns the tree's current (or final) end time.
func (t *Tree) GetEndTime() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.header.EndTime
}

// AttrTreeOffset returns the byte offset of the opaque attribute-tree
// blob appended after the tree's last node block. Only meaningful once
// FinishBuilding has run.
func (t *Tree) AttrTreeOffset() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.built {
		return 0, ErrNotBuilt
	}
	return t.header.AttrTreeOffset, nil
}

// ReadAttrTreeBlob reads back the opaque attribute-tree blob written by
// FinishBuilding.
func (t *Tree) ReadAttrTreeBlob() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.built {
		return nil, ErrNotBuilt
	}
	if t.header.AttrTreeOffset == 0 {
		return nil, nil
	}
	info, err := t.hf.Stat()
	if err != nil {
		return nil, fmt.Errorf("historytree: stat: %w", err)
	}
	n := info.Size() - t.header.AttrTreeOffset
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := t.hf.ReadAt(buf, t.header.AttrTreeOffset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("historytree: reading attribute tree blob: %w", err)
	}
	return buf, nil
}

// AverageNodeUsage reports the mean fraction (0-100) of block capacity
// occupied by intervals across every node written so far, computed by
// re-reading each persisted block. It is intended as an operational
// health metric, not a build-time invariant.
func (t *Tree) AverageNodeUsage() (float64, error) {
	t.mu.Lock()
	maxChildren := t.cfg.MaxChildren
	nodeCount := t.nextSeq
	t.mu.Unlock()

	if nodeCount == 0 {
		return 0, nil
	}
	var totalFree, totalBlock int64
	for seq := int32(0); seq < nodeCount; seq++ {
		n, err := t.io.ReadNode(seq, maxChildren)
		if err != nil {
			return 0, fmt.Errorf("historytree: reading node %d for usage stats: %w", seq, err)
		}
		totalFree += int64(n.FreeSpace())
		totalBlock += int64(t.cfg.BlockSize)
	}
	used := float64(totalBlock-totalFree) / float64(totalBlock) * 100
	if used < 0 || used > 100 {
		return 0, fmt.Errorf("historytree: computed node usage %.2f%% out of range", used)
	}
	return used, nil
}

// Dispose releases the tree's file handles. If the build was never
// finished, the backing file is deleted instead, per the "abandon the
// partial file" contract — there is no crash-recovery path for a
// half-built tree.
func (t *Tree) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil
	}
	t.disposed = true

	if !t.built {
		if err := t.io.Remove(); err != nil {
			t.log.Errorf("historytree: removing partial build file: %v", err)
		}
		return t.hf.Close()
	}

	if err := t.io.Close(); err != nil {
		_ = t.hf.Close()
		return err
	}
	return t.hf.Close()
}
