package statehistory

import (
	"container/heap"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// dueItem is one quark's next-due timestamp: the point at which its
// currently-known interval ends and its value may change.
type dueItem struct {
	quark int32
	due   int64
}

type dueHeap []dueItem

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x interface{}) { *h = append(*h, x.(dueItem)) }
func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Iterator2D produces a lazy, time-ascending sequence of
// (timestamp, quark->interval) groups over a requested set of quarks,
// by issuing partial queries at timestamps chosen via a priority queue
// keyed by the next-due timestamp per quark: the point where a quark's
// currently-known interval ends and a fresh partial query is needed to
// learn what it changes to. It takes no resolution: every change point
// is visited, and timestamps are not aligned to any step size.
type Iterator2D struct {
	backend Backend
	end     int64
	due     dueHeap
	current map[int32]htinterval.Interval
	done    bool
}

// NewIterator2D seeds the iterator with the state of every requested
// quark at start, and primes the due-heap with each quark's first
// change point.
func NewIterator2D(backend Backend, quarks []int32, start, end int64) (*Iterator2D, error) {
	res, err := backend.DoPartialQuery(start, quarks)
	if err != nil {
		return nil, err
	}
	it := &Iterator2D{
		backend: backend,
		end:     end,
		current: res,
	}
	it.due = make(dueHeap, 0, len(quarks))
	for _, q := range quarks {
		it.due = append(it.due, dueItem{quark: q, due: nextDue(res, q, end)})
	}
	heap.Init(&it.due)
	return it, nil
}

func nextDue(res map[int32]htinterval.Interval, quark int32, end int64) int64 {
	if iv, ok := res[quark]; ok {
		if iv.End >= end {
			return end + 1
		}
		return iv.End + 1
	}
	return end + 1
}

// Next pulls the next due timestamp, re-queries exactly the quarks due
// to change at that timestamp, and returns the timestamp plus a
// snapshot of every requested quark's current interval. ok is false
// once every quark's interval has been observed through end.
func (it *Iterator2D) Next() (timestamp int64, group map[int32]htinterval.Interval, ok bool, err error) {
	if it.done || it.due.Len() == 0 {
		return 0, nil, false, nil
	}

	next := it.due[0].due
	if next > it.end {
		it.done = true
		return 0, nil, false, nil
	}

	var due []int32
	for it.due.Len() > 0 && it.due[0].due == next {
		item := heap.Pop(&it.due).(dueItem)
		due = append(due, item.quark)
	}

	updated, qerr := it.backend.DoPartialQuery(next, due)
	if qerr != nil {
		return 0, nil, false, qerr
	}
	for _, q := range due {
		if iv, ok := updated[q]; ok {
			it.current[q] = iv
		} else {
			delete(it.current, q)
		}
		heap.Push(&it.due, dueItem{quark: q, due: nextDue(updated, q, it.end)})
	}

	snapshot := make(map[int32]htinterval.Interval, len(it.current))
	for q, iv := range it.current {
		snapshot[q] = iv
	}
	return next, snapshot, true, nil
}
