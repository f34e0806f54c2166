package historytree

import (
	"fmt"

	"github.com/imdario/mergo"

	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htnode"
)

// minBlockSize is a flat lower bound on the block size. It does not by
// itself guarantee room for a max-size interval; Resolve checks that
// separately against the core header size for the configured
// max_children.
const minBlockSize = 4096

// Config describes a tree's fixed, creation-time parameters, mirroring
// the merge-over-defaults pattern used for vorteil.conf: callers build a
// partial Config and Merge it over DefaultConfig so zero-valued fields
// fall back sanibly.
type Config struct {
	// BlockSize is the size in bytes of each node's block. Should be a
	// multiple of 4096 and large enough to hold one max-size interval
	// plus the variant header.
	BlockSize int

	// MaxChildren is the branching factor of core nodes.
	MaxChildren int

	// ProviderVersion is an opaque version string checked on reopen
	// when non-empty; a mismatch causes Open to fail with a corruption
	// error.
	ProviderVersion string

	// StartTime fixes the tree's earliest representable timestamp at
	// creation. Immutable once set.
	StartTime int64

	// QueueSize controls the threaded build wrapper (pkg/htqueue): 0
	// disables the queue (synchronous writes), >0 enables a bounded
	// producer/consumer queue of that capacity.
	QueueSize int

	// CacheSize is the direct-mapped node cache's slot count; must be a
	// power of two.
	CacheSize int
}

// DefaultConfig returns the baseline Config that a caller-supplied
// partial Config is merged over.
func DefaultConfig() Config {
	return Config{
		BlockSize:       128 * 1024,
		MaxChildren:     64,
		ProviderVersion: "",
		StartTime:       0,
		QueueSize:       4096,
		CacheSize:       256,
	}
}

// Resolve merges cfg over DefaultConfig, filling zero-valued fields, and
// validates the result.
func Resolve(cfg Config) (Config, error) {
	out := DefaultConfig()
	if err := mergo.Merge(&out, cfg, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("historytree: merging config: %w", err)
	}
	if out.BlockSize < minBlockSize {
		return Config{}, fmt.Errorf("historytree: block size %d below minimum %d", out.BlockSize, minBlockSize)
	}
	if out.MaxChildren < 1 {
		return Config{}, fmt.Errorf("historytree: max children must be >= 1, got %d", out.MaxChildren)
	}
	if out.CacheSize&(out.CacheSize-1) != 0 {
		return Config{}, fmt.Errorf("historytree: cache size %d is not a power of two", out.CacheSize)
	}
	headerBudget := htnode.CoreHeaderSize(out.MaxChildren)
	if out.BlockSize < headerBudget+htinterval.MaxSerializedSize {
		return Config{}, fmt.Errorf("historytree: block size %d too small to hold a core header (%d bytes) plus one max-size interval (%d bytes)", out.BlockSize, headerBudget, htinterval.MaxSerializedSize)
	}
	return out, nil
}
