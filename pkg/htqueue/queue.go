// Package htqueue implements the threaded build wrapper: a bounded
// producer/consumer queue of interval-insertion commands that lets a
// builder submit intervals without blocking on disk writes. A single
// consumer goroutine, supervised by an errgroup, drains the queue and
// applies each command to the wrapped tree in order.
package htqueue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htlog"
	"github.com/vorteil/histtree/pkg/historytree"
)

type command struct {
	insert bool // false signals the end-of-input sentinel
	start  int64
	end    int64
	quark  int32
	value  htinterval.Value
}

// Queue wraps a *historytree.Tree with a bounded command channel. With
// size 0 it degrades to synchronous writes (Insert applies directly,
// no goroutine involved), matching the "queue_size 0 disables the
// queue" configuration contract.
type Queue struct {
	tree *historytree.Tree
	log  htlog.Logger
	size int

	ch      chan command
	group   *errgroup.Group
	groupCx context.Context

	built     chan struct{}
	builtOnce sync.Once

	mu       sync.Mutex
	firstErr error
}

// New starts a queue in front of tree. size is the channel capacity; 0
// disables buffering and makes Insert apply synchronously.
func New(tree *historytree.Tree, size int, log htlog.Logger) *Queue {
	if log == nil {
		log = htlog.Discard{}
	}
	q := &Queue{
		tree:  tree,
		log:   log,
		size:  size,
		built: make(chan struct{}),
	}
	if size <= 0 {
		return q
	}

	q.ch = make(chan command, size)
	g, ctx := errgroup.WithContext(context.Background())
	q.group = g
	q.groupCx = ctx
	g.Go(func() error {
		return q.consume()
	})
	return q
}

func (q *Queue) consume() error {
	for cmd := range q.ch {
		if !cmd.insert {
			q.builtOnce.Do(func() { close(q.built) })
			continue
		}
		if err := q.tree.InsertPastState(cmd.start, cmd.end, cmd.quark, cmd.value); err != nil {
			q.recordErr(err)
			q.log.Errorf("htqueue: insert failed, abandoning queue: %v", err)
			return err
		}
	}
	return nil
}

func (q *Queue) recordErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.firstErr == nil {
		q.firstErr = err
	}
}

// Err returns the first error observed by the consumer, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.firstErr
}

// Insert submits an interval for insertion. With a threaded queue this
// blocks only when the channel is full (backpressure); with queue_size
// 0 it applies the insert synchronously and returns its result.
func (q *Queue) Insert(start, end int64, quark int32, v htinterval.Value) error {
	if q.size <= 0 {
		return q.tree.InsertPastState(start, end, quark, v)
	}
	if err := q.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- command{insert: true, start: start, end: end, quark: quark, value: v}:
		return nil
	case <-q.groupCx.Done():
		return q.Err()
	}
}

// FinishBuilding submits the end-of-input sentinel and blocks until the
// consumer has processed it (or, with queue_size 0, finishes the tree
// directly), then finalizes the underlying tree.
func (q *Queue) FinishBuilding(endTime int64, attrTreeBlob []byte) error {
	if q.size <= 0 {
		return q.tree.FinishBuilding(endTime, attrTreeBlob)
	}
	select {
	case q.ch <- command{insert: false}:
	case <-q.groupCx.Done():
		return q.Err()
	}
	<-q.built
	close(q.ch)
	if err := q.group.Wait(); err != nil {
		return fmt.Errorf("htqueue: consumer failed: %w", err)
	}
	return q.tree.FinishBuilding(endTime, attrTreeBlob)
}

// WaitUntilBuilt blocks until the end-of-input sentinel has been
// processed, or ctx is done first.
func (q *Queue) WaitUntilBuilt(ctx context.Context) error {
	if q.size <= 0 {
		return nil
	}
	select {
	case <-q.built:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon signals the consumer to stop, disposes the underlying tree
// (deleting its partial file, since a half-built tree has no recovery
// path), and drains the queue.
func (q *Queue) Abandon() error {
	if q.size > 0 && q.ch != nil {
		select {
		case <-q.built:
		default:
			close(q.ch)
			_ = q.group.Wait()
		}
	}
	return q.tree.Dispose()
}
