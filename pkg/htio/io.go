// Package htio owns the tree file's handles, the byte-offset arithmetic
// from node sequence numbers, and a small direct-mapped node cache.
// Reads and writes of the cache slots and channel positions are
// serialized by a single mutex per IO object, matching the "one lock for
// the I/O block and cache" synchronization design note: reader/writer
// contention is rare in practice (queries run after build, or against
// closed subtrees during build), and a single lock keeps positioning and
// I/O atomic.
package htio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vorteil/histtree/pkg/htlog"
	"github.com/vorteil/histtree/pkg/htnode"
)

// DefaultCacheSize is the default number of direct-mapped cache slots.
// Must be a power of two.
const DefaultCacheSize = 256

// ErrDisposed is returned by any operation attempted after Close/Remove,
// and by a descent that observes a closed channel mid-read.
var ErrDisposed = fmt.Errorf("htio: disposed")

type cacheSlot struct {
	seq  int32
	node *htnode.Node
	full bool
}

// IO serves node reads and writes against a single backing file, with a
// direct-mapped cache in front of the read path.
type IO struct {
	mu sync.Mutex

	path       string
	file       *os.File
	headerSize int64
	blockSize  int64

	cache    []cacheSlot
	cacheLen int32 // power of two

	log     htlog.Logger
	closed  bool
	maxSeq  int32
}

// Open opens (or creates) the file at path for read/write node access.
// headerSize and blockSize describe the tree's fixed layout; cacheSize
// must be a power of two (DefaultCacheSize if zero).
func Open(path string, headerSize, blockSize int64, cacheSize int, log htlog.Logger) (*IO, error) {
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}
	if cacheSize&(cacheSize-1) != 0 {
		return nil, fmt.Errorf("htio: cache size %d is not a power of two", cacheSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("htio: opening %s: %w", path, err)
	}
	return &IO{
		path:       path,
		file:       f,
		headerSize: headerSize,
		blockSize:  blockSize,
		cache:      make([]cacheSlot, cacheSize),
		cacheLen:   int32(cacheSize),
		log:        log,
	}, nil
}

func (io2 *IO) offset(seq int32) int64 {
	return io2.headerSize + int64(seq)*io2.blockSize
}

func (io2 *IO) slot(seq int32) int32 {
	return seq & (io2.cacheLen - 1)
}

// ReadNode loads a node by sequence number, consulting the cache first.
func (io2 *IO) ReadNode(seq int32, maxChildren int) (*htnode.Node, error) {
	io2.mu.Lock()
	defer io2.mu.Unlock()
	if io2.closed {
		return nil, ErrDisposed
	}

	slotIdx := io2.slot(seq)
	slot := io2.cache[slotIdx]
	if slot.full && slot.seq == seq {
		return slot.node, nil
	}

	buf := make([]byte, io2.blockSize)
	if _, err := io2.file.Seek(io2.offset(seq), io.SeekStart); err != nil {
		if isClosedErr(err) {
			return nil, ErrDisposed
		}
		return nil, fmt.Errorf("htio: seeking to node %d: %w", seq, err)
	}
	n, err := io.ReadFull(io2.file, buf)
	if err != nil {
		if isClosedErr(err) {
			return nil, ErrDisposed
		}
		return nil, fmt.Errorf("%w: short read of node %d (%d/%d bytes): %v", htnode.ErrCorrupt, seq, n, io2.blockSize, err)
	}

	node, err := htnode.UnmarshalNode(buf, int(io2.blockSize), maxChildren)
	if err != nil {
		return nil, err
	}

	io2.cache[slotIdx] = cacheSlot{seq: seq, node: node, full: true}
	return node, nil
}

// WriteNode serializes and writes a node to its block, replacing whatever
// occupied the node's cache slot. Writeback on eviction is unnecessary:
// an already-persisted node is immutable, so nothing cached can ever be
// dirty relative to disk.
func (io2 *IO) WriteNode(n *htnode.Node) error {
	io2.mu.Lock()
	defer io2.mu.Unlock()
	if io2.closed {
		return ErrDisposed
	}

	buf, err := n.MarshalBinary()
	if err != nil {
		return fmt.Errorf("htio: serializing node %d: %w", n.Sequence, err)
	}

	slotIdx := io2.slot(n.Sequence)
	io2.cache[slotIdx] = cacheSlot{seq: n.Sequence, node: n, full: true}

	if _, err := io2.file.Seek(io2.offset(n.Sequence), io.SeekStart); err != nil {
		io2.log.Errorf("htio: seeking to write node %d: %v", n.Sequence, err)
		return nil // best-effort at write time; final at close
	}
	if _, err := io2.file.Write(buf); err != nil {
		io2.log.Errorf("htio: writing node %d: %v", n.Sequence, err)
		return nil
	}
	if n.Sequence > io2.maxSeq {
		io2.maxSeq = n.Sequence
	}
	return nil
}

// Sync flushes the file to stable storage.
func (io2 *IO) Sync() error {
	io2.mu.Lock()
	defer io2.mu.Unlock()
	if io2.closed {
		return ErrDisposed
	}
	return io2.file.Sync()
}

// Close releases the file handle. Subsequent operations fail with
// ErrDisposed.
func (io2 *IO) Close() error {
	io2.mu.Lock()
	defer io2.mu.Unlock()
	if io2.closed {
		return nil
	}
	io2.closed = true
	return io2.file.Close()
}

// Remove closes (if needed) and deletes the backing file, used when a
// build is aborted partway through.
func (io2 *IO) Remove() error {
	io2.mu.Lock()
	path := io2.path
	if !io2.closed {
		io2.closed = true
		_ = io2.file.Close()
	}
	io2.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("htio: removing %s: %w", path, err)
	}
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, os.ErrClosed)
}
