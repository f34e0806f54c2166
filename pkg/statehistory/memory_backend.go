package statehistory

import (
	"context"
	"sort"
	"sync"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// MemoryBackend is a Backend that never touches disk: every interval is
// held in a plain slice. Used by tests and by short-lived state systems
// for which a file-backed tree would be overkill.
type MemoryBackend struct {
	mu        sync.Mutex
	ssid      string
	start     int64
	end       int64
	intervals []htinterval.Interval
	built     bool
	disposed  bool
}

// NewMemoryBackend returns an empty in-memory backend starting at
// startTime.
func NewMemoryBackend(ssid string, startTime int64) *MemoryBackend {
	return &MemoryBackend{ssid: ssid, start: startTime, end: startTime}
}

func (m *MemoryBackend) GetSSID() string { return m.ssid }

func (m *MemoryBackend) GetStartTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start
}

func (m *MemoryBackend) GetEndTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.end
}

func (m *MemoryBackend) InsertPastState(start, end int64, quark int32, value htinterval.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if m.built {
		return ErrAlreadyBuilt
	}
	if start > end || start < m.start {
		return ErrTimeRange
	}
	m.intervals = append(m.intervals, htinterval.Interval{Start: start, End: end, Quark: quark, Value: value})
	if end > m.end {
		m.end = end
	}
	return nil
}

func (m *MemoryBackend) FinishBuilding(endTime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if endTime > m.end {
		m.end = endTime
	}
	sort.Slice(m.intervals, func(i, j int) bool { return m.intervals[i].End < m.intervals[j].End })
	m.built = true
	return nil
}

func (m *MemoryBackend) WaitUntilBuilt(ctx context.Context) error { return nil }

func (m *MemoryBackend) DoQuery(t int64) (map[int32]htinterval.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if t < m.start || t > m.end {
		return nil, ErrTimeRange
	}
	out := make(map[int32]htinterval.Interval)
	for _, iv := range m.intervals {
		if iv.Intersects(t) {
			out[iv.Quark] = iv
		}
	}
	return out, nil
}

func (m *MemoryBackend) DoSingularQuery(t int64, quark int32) (htinterval.Interval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return htinterval.Interval{}, false, ErrDisposed
	}
	if t < m.start || t > m.end {
		return htinterval.Interval{}, false, ErrTimeRange
	}
	for _, iv := range m.intervals {
		if iv.Quark == quark && iv.Intersects(t) {
			return iv, true, nil
		}
	}
	return htinterval.Interval{}, false, nil
}

func (m *MemoryBackend) DoPartialQuery(t int64, quarks []int32) (map[int32]htinterval.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if t < m.start || t > m.end {
		return nil, ErrTimeRange
	}
	wanted := make(map[int32]bool, len(quarks))
	for _, q := range quarks {
		wanted[q] = true
	}
	out := make(map[int32]htinterval.Interval, len(quarks))
	for _, iv := range m.intervals {
		if wanted[iv.Quark] && iv.Intersects(t) {
			out[iv.Quark] = iv
		}
	}
	return out, nil
}

func (m *MemoryBackend) SupplyAttrTreeReader() ([]byte, error) { return nil, nil }
func (m *MemoryBackend) SupplyAttrTreeWriter(blob []byte) error { return nil }

func (m *MemoryBackend) RemoveFiles() error { return nil }

func (m *MemoryBackend) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.intervals = nil
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
