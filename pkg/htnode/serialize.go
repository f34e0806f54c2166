package htnode

import (
	"encoding/binary"
	"fmt"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// ErrCorrupt is returned when a block's bytes do not decode to a
// recognized node layout.
var ErrCorrupt = fmt.Errorf("htnode: corrupt block")

// MarshalBinary serializes the node into exactly blockSize bytes: the
// common header, the variant-specific header, the interval list, and
// zero padding to fill out the block.
func (n *Node) MarshalBinary() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	buf := make([]byte, 0, n.blockSize)
	buf = append(buf, byte(n.variant))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.start))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.end))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.Sequence))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.parent))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.intervals)))

	if n.variant == VariantCore {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(-1))) // reserved extension seq
		n.core.mu.RLock()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.core.childSeq)))
		for i := 0; i < n.maxChildren; i++ {
			var seq int32
			if i < len(n.core.childSeq) {
				seq = n.core.childSeq[i]
			}
			buf = binary.LittleEndian.AppendUint32(buf, uint32(seq))
		}
		for i := 0; i < n.maxChildren; i++ {
			var start int64
			if i < len(n.core.childStart) {
				start = n.core.childStart[i]
			}
			buf = binary.LittleEndian.AppendUint64(buf, uint64(start))
		}
		n.core.mu.RUnlock()
	}

	for _, iv := range n.intervals {
		var err error
		buf, err = iv.MarshalBinary(buf)
		if err != nil {
			return nil, fmt.Errorf("htnode: serializing interval: %w", err)
		}
	}

	if len(buf) > n.blockSize {
		return nil, fmt.Errorf("htnode: node %d overflows block size (%d > %d)", n.Sequence, len(buf), n.blockSize)
	}
	padded := make([]byte, n.blockSize)
	copy(padded, buf)
	return padded, nil
}

// UnmarshalNode decodes a node from a block-sized byte slice.
func UnmarshalNode(data []byte, blockSize, maxChildren int) (*Node, error) {
	if len(data) < commonHeaderSize {
		return nil, fmt.Errorf("%w: block shorter than common header", ErrCorrupt)
	}
	variant := Variant(data[0])
	if variant != VariantCore && variant != VariantLeaf {
		return nil, fmt.Errorf("%w: unrecognized variant tag %d", ErrCorrupt, data[0])
	}
	start := int64(binary.LittleEndian.Uint64(data[1:9]))
	end := int64(binary.LittleEndian.Uint64(data[9:17]))
	seq := int32(binary.LittleEndian.Uint32(data[17:21]))
	parent := int32(binary.LittleEndian.Uint32(data[21:25]))
	intervalCount := int(binary.LittleEndian.Uint32(data[25:29]))

	n := &Node{
		Sequence:    seq,
		parent:      parent,
		start:       start,
		end:         end,
		variant:     variant,
		blockSize:   blockSize,
		maxChildren: maxChildren,
		onDisk:      true,
	}

	off := commonHeaderSize
	if variant == VariantCore {
		if len(data) < off+coreExtHeaderSize {
			return nil, fmt.Errorf("%w: truncated core header", ErrCorrupt)
		}
		off += 4 // reserved extension seq, unused
		childCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if childCount > maxChildren {
			return nil, fmt.Errorf("%w: child count %d exceeds max children %d", ErrCorrupt, childCount, maxChildren)
		}
		need := maxChildren*childEntrySize
		if len(data) < off+need {
			return nil, fmt.Errorf("%w: truncated child tables", ErrCorrupt)
		}
		seqOff := off
		startOff := off + maxChildren*4
		core := &coreExt{
			childSeq:   make([]int32, childCount),
			childStart: make([]int64, childCount),
		}
		for i := 0; i < childCount; i++ {
			core.childSeq[i] = int32(binary.LittleEndian.Uint32(data[seqOff+i*4 : seqOff+i*4+4]))
			core.childStart[i] = int64(binary.LittleEndian.Uint64(data[startOff+i*8 : startOff+i*8+8]))
		}
		n.core = core
		off = startOff + maxChildren*8
	}

	n.intervals = make([]htinterval.Interval, 0, intervalCount)
	rest := data[off:]
	var maxEnd int64
	for i := 0; i < intervalCount; i++ {
		iv, consumed, err := htinterval.UnmarshalInterval(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: interval %d: %v", ErrCorrupt, i, err)
		}
		n.intervals = append(n.intervals, iv)
		if iv.End > maxEnd {
			maxEnd = iv.End
		}
		rest = rest[consumed:]
	}
	n.maxEnd = maxEnd

	return n, nil
}
