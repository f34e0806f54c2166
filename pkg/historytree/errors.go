package historytree

import "fmt"

// ErrDisposed is returned by any operation attempted on a tree that has
// already been closed or removed.
var ErrDisposed = fmt.Errorf("historytree: disposed")

// ErrTimeRange is returned when a request falls outside the tree's
// covered time range, or when an insertion's start/end are invalid.
var ErrTimeRange = fmt.Errorf("historytree: time out of range")

// ErrIntervalTooLarge is returned when a single interval's serialized
// form cannot possibly fit in a node, regardless of its contents.
var ErrIntervalTooLarge = fmt.Errorf("historytree: interval exceeds max serialized size")

// ErrAlreadyBuilt is returned by InsertPastState once the tree has been
// finalized for querying. A repeated FinishBuilding call is a no-op and
// returns nil.
var ErrAlreadyBuilt = fmt.Errorf("historytree: tree already finished building")

// ErrNotBuilt is returned by AttrTreeOffset and ReadAttrTreeBlob while
// the tree is still being built. Queries do not return it: they run
// against the in-progress branch.
var ErrNotBuilt = fmt.Errorf("historytree: tree is still being built")
