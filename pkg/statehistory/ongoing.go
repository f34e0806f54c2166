package statehistory

import (
	"sync"

	"github.com/vorteil/histtree/pkg/htinterval"
)

type openInterval struct {
	start int64
	value htinterval.Value
}

// OngoingTracker is the in-memory staging area that turns "set
// attribute X to V at time T" calls into closed (start, end, quark,
// value) intervals. One interval per quark is open at a time.
type OngoingTracker struct {
	mu   sync.Mutex
	open map[int32]openInterval
}

// NewOngoingTracker returns an empty tracker.
func NewOngoingTracker() *OngoingTracker {
	return &OngoingTracker{open: make(map[int32]openInterval)}
}

// Update closes any interval currently open for quark at time-1 and
// opens a new one starting at time holding value. It returns the
// closed interval, if one existed, so the caller can feed it to the
// storage engine's InsertPastState.
func (o *OngoingTracker) Update(quark int32, time int64, value htinterval.Value) (closed htinterval.Interval, hadPrevious bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.open[quark]; ok {
		closed = htinterval.Interval{Start: prev.start, End: time - 1, Quark: quark, Value: prev.value}
		hadPrevious = true
	}
	o.open[quark] = openInterval{start: time, value: value}
	return closed, hadPrevious
}

// CloseAll closes every still-open interval at endTime, used at
// finish-building time, returning them in unspecified order.
func (o *OngoingTracker) CloseAll(endTime int64) []htinterval.Interval {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]htinterval.Interval, 0, len(o.open))
	for quark, iv := range o.open {
		out = append(out, htinterval.Interval{Start: iv.start, End: endTime, Quark: quark, Value: iv.value})
	}
	o.open = make(map[int32]openInterval)
	return out
}

// Current returns the value currently open for quark, if any, without
// closing it.
func (o *OngoingTracker) Current(quark int32) (htinterval.Value, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	iv, ok := o.open[quark]
	if !ok {
		return htinterval.Value{}, false
	}
	return iv.value, true
}
