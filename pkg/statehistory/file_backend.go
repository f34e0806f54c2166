package statehistory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/vorteil/histtree/pkg/historytree"
	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htlog"
	"github.com/vorteil/histtree/pkg/htqueue"
)

// FileBackend is the Backend implementation backed by a real
// pkg/historytree file, built through a pkg/htqueue threaded (or
// synchronous, if cfg.QueueSize is 0) queue.
type FileBackend struct {
	mu   sync.Mutex
	ssid string
	path string
	tree *historytree.Tree
	q    *htqueue.Queue
	log  htlog.Logger

	attrBlob []byte
}

// NewFileBackend creates a fresh tree file at path for build-phase use.
func NewFileBackend(path, ssid string, cfg historytree.Config, log htlog.Logger) (*FileBackend, error) {
	t, err := historytree.Create(path, cfg, log)
	if err != nil {
		return nil, err
	}
	return &FileBackend{
		ssid: ssid,
		path: path,
		tree: t,
		q:    htqueue.New(t, cfg.QueueSize, log),
		log:  log,
	}, nil
}

// OpenFileBackend reopens a finished tree file for querying only.
func OpenFileBackend(path, ssid string, cfg historytree.Config, log htlog.Logger) (*FileBackend, error) {
	t, err := historytree.Open(path, cfg, log)
	if err != nil {
		return nil, err
	}
	return &FileBackend{ssid: ssid, path: path, tree: t, log: log}, nil
}

func (fb *FileBackend) GetSSID() string       { return fb.ssid }
func (fb *FileBackend) GetStartTime() int64   { return fb.tree.GetStartTime() }
func (fb *FileBackend) GetEndTime() int64     { return fb.tree.GetEndTime() }

func (fb *FileBackend) InsertPastState(start, end int64, quark int32, value htinterval.Value) error {
	if fb.q == nil {
		return fb.tree.InsertPastState(start, end, quark, value)
	}
	return fb.q.Insert(start, end, quark, value)
}

func (fb *FileBackend) FinishBuilding(endTime int64) error {
	fb.mu.Lock()
	blob := fb.attrBlob
	fb.mu.Unlock()
	if fb.q == nil {
		return fb.tree.FinishBuilding(endTime, blob)
	}
	return fb.q.FinishBuilding(endTime, blob)
}

// WaitUntilBuilt blocks until the end-of-input sentinel has drained
// through the threaded queue, or ctx is done first.
func (fb *FileBackend) WaitUntilBuilt(ctx context.Context) error {
	if fb.q == nil {
		return nil
	}
	return fb.q.WaitUntilBuilt(ctx)
}

func (fb *FileBackend) DoQuery(t int64) (map[int32]htinterval.Interval, error) {
	return fb.tree.DoQuery(t)
}

func (fb *FileBackend) DoSingularQuery(t int64, quark int32) (htinterval.Interval, bool, error) {
	return fb.tree.DoSingularQuery(t, quark)
}

func (fb *FileBackend) DoPartialQuery(t int64, quarks []int32) (map[int32]htinterval.Interval, error) {
	return fb.tree.DoPartialQuery(t, quarks)
}

func (fb *FileBackend) SupplyAttrTreeReader() ([]byte, error) {
	return fb.tree.ReadAttrTreeBlob()
}

// SupplyAttrTreeWriter stages the opaque attribute-tree blob to be
// appended to the file when FinishBuilding runs.
func (fb *FileBackend) SupplyAttrTreeWriter(blob []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.attrBlob = blob
	return nil
}

func (fb *FileBackend) RemoveFiles() error {
	if err := fb.tree.Dispose(); err != nil {
		return err
	}
	if err := os.Remove(fb.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statehistory: removing %s: %w", fb.path, err)
	}
	return nil
}

func (fb *FileBackend) Dispose() error {
	if fb.q != nil {
		return fb.q.Abandon()
	}
	return fb.tree.Dispose()
}

var _ Backend = (*FileBackend)(nil)
var _ WaitUntilBuilter = (*FileBackend)(nil)
