// Package statehistory adapts the history tree storage engine
// (pkg/historytree, pkg/htqueue) to the generic state-system backend
// contract: a state-system identifier, build-phase inserts, and
// post-build queries, plus the external collaborators the storage
// engine treats as opaque — the attribute-path trie, the ongoing-state
// tracker, aggregation rules, and the in-memory/null backends used in
// tests and for short-lived state systems that never need a file.
package statehistory

import (
	"context"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// Backend is the narrow contract the surrounding state system consumes
// from any storage implementation, whether file-backed (FileBackend) or
// in-memory (MemoryBackend, NullBackend).
type Backend interface {
	GetSSID() string
	GetStartTime() int64
	GetEndTime() int64

	InsertPastState(start, end int64, quark int32, value htinterval.Value) error
	FinishBuilding(endTime int64) error

	DoQuery(t int64) (map[int32]htinterval.Interval, error)
	DoSingularQuery(t int64, quark int32) (htinterval.Interval, bool, error)
	DoPartialQuery(t int64, quarks []int32) (map[int32]htinterval.Interval, error)

	// SupplyAttrTreeReader/Writer expose the opaque blob slot used by
	// the external attribute-tree persistence (pkg/statehistory's own
	// AttributeTree.MarshalBinary/UnmarshalAttributeTree).
	SupplyAttrTreeReader() ([]byte, error)
	SupplyAttrTreeWriter(blob []byte) error

	RemoveFiles() error
	Dispose() error
}

// WaitUntilBuilt blocks until a threaded Backend's build has finished,
// or ctx is done first. Backends with no threaded queue (queue_size 0,
// or the in-memory/null backends) return immediately.
type WaitUntilBuilter interface {
	WaitUntilBuilt(ctx context.Context) error
}
