package statehistory

import "github.com/vorteil/histtree/pkg/historytree"

// ErrDisposed is returned by any Backend operation attempted after
// Dispose/RemoveFiles.
var ErrDisposed = historytree.ErrDisposed

// ErrTimeRange is returned when a query timestamp falls outside the
// backend's covered range, or an insertion's start/end are invalid.
var ErrTimeRange = historytree.ErrTimeRange

// ErrAlreadyBuilt is returned by InsertPastState once FinishBuilding has
// run.
var ErrAlreadyBuilt = historytree.ErrAlreadyBuilt
