package statehistory

import (
	"context"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// NullBackend discards every insert and answers every query as empty.
// Used when a state system is configured with history tracking disabled
// but the surrounding code still expects a Backend to call into.
type NullBackend struct {
	ssid string
}

// NewNullBackend returns a Backend that does nothing.
func NewNullBackend(ssid string) *NullBackend {
	return &NullBackend{ssid: ssid}
}

func (n *NullBackend) GetSSID() string     { return n.ssid }
func (n *NullBackend) GetStartTime() int64 { return 0 }
func (n *NullBackend) GetEndTime() int64   { return 0 }

func (n *NullBackend) InsertPastState(start, end int64, quark int32, value htinterval.Value) error {
	return nil
}

func (n *NullBackend) FinishBuilding(endTime int64) error { return nil }

func (n *NullBackend) WaitUntilBuilt(ctx context.Context) error { return nil }

func (n *NullBackend) DoQuery(t int64) (map[int32]htinterval.Interval, error) {
	return map[int32]htinterval.Interval{}, nil
}

func (n *NullBackend) DoSingularQuery(t int64, quark int32) (htinterval.Interval, bool, error) {
	return htinterval.Interval{}, false, nil
}

func (n *NullBackend) DoPartialQuery(t int64, quarks []int32) (map[int32]htinterval.Interval, error) {
	return map[int32]htinterval.Interval{}, nil
}

func (n *NullBackend) SupplyAttrTreeReader() ([]byte, error)   { return nil, nil }
func (n *NullBackend) SupplyAttrTreeWriter(blob []byte) error { return nil }

func (n *NullBackend) RemoveFiles() error { return nil }
func (n *NullBackend) Dispose() error     { return nil }

var _ Backend = (*NullBackend)(nil)
