package historytree

import (
	"encoding/binary"
	"fmt"
)

// magic identifies a history tree file. formatVersion is this package's
// own on-disk layout version, independent of the caller-supplied
// ProviderVersion.
const (
	magic         uint32 = 0x48534854 // "HSHT"
	formatVersion uint32 = 1

	providerVersionMaxLen = 255

	// headerSize is the fixed size in bytes of the tree file's leading
	// header block (TREE_HEADER_SIZE), independent of block_size so the
	// header can be read before block_size is known.
	headerSize = 512
)

// header is the tree file's leading fixed-size block: magic, format and
// provider version, block layout, and the book-keeping fields rewritten
// on every growth step and finalized on close.
type header struct {
	Magic           uint32
	FormatVersion   uint32
	ProviderVersion string
	BlockSize       int64
	MaxChildren     int32
	RootSequence    int32
	NodeCount       int32
	StartTime       int64
	EndTime         int64
	AttrTreeOffset  int64
}

func newHeader(cfg Config) *header {
	return &header{
		Magic:           magic,
		FormatVersion:   formatVersion,
		ProviderVersion: cfg.ProviderVersion,
		BlockSize:       int64(cfg.BlockSize),
		MaxChildren:     int32(cfg.MaxChildren),
		RootSequence:    0,
		NodeCount:       0,
		StartTime:       cfg.StartTime,
		EndTime:         cfg.StartTime,
		AttrTreeOffset:  0,
	}
}

func (h *header) marshalBinary() ([]byte, error) {
	if len(h.ProviderVersion) > providerVersionMaxLen {
		return nil, fmt.Errorf("historytree: provider version longer than %d bytes", providerVersionMaxLen)
	}
	buf := make([]byte, 0, headerSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Magic)
	buf = binary.LittleEndian.AppendUint32(buf, h.FormatVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.ProviderVersion)))
	buf = append(buf, []byte(h.ProviderVersion)...)
	pad := make([]byte, providerVersionMaxLen-len(h.ProviderVersion))
	buf = append(buf, pad...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.BlockSize))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.MaxChildren))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.RootSequence))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.NodeCount))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.StartTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.EndTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.AttrTreeOffset))

	if len(buf) > headerSize {
		return nil, fmt.Errorf("historytree: header overflows fixed size (%d > %d)", len(buf), headerSize)
	}
	out := make([]byte, headerSize)
	copy(out, buf)
	return out, nil
}

// ErrCorruptHeader is returned when the leading header block fails its
// magic or length sanity checks.
var ErrCorruptHeader = fmt.Errorf("historytree: corrupt header")

// ErrProviderVersionMismatch is returned by Open when the file's
// recorded provider version does not match the caller's. It wraps
// ErrCorruptHeader, so it is also reported as a corruption error.
var ErrProviderVersionMismatch = fmt.Errorf("%w: provider version mismatch", ErrCorruptHeader)

func unmarshalHeader(data []byte) (*header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file shorter than header", ErrCorruptHeader)
	}
	h := &header{}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptHeader, h.Magic)
	}
	h.FormatVersion = binary.LittleEndian.Uint32(data[4:8])
	if h.FormatVersion != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptHeader, h.FormatVersion)
	}
	pvLen := int(binary.LittleEndian.Uint16(data[8:10]))
	if pvLen > providerVersionMaxLen {
		return nil, fmt.Errorf("%w: provider version length %d exceeds max", ErrCorruptHeader, pvLen)
	}
	off := 10
	h.ProviderVersion = string(data[off : off+pvLen])
	off += providerVersionMaxLen
	h.BlockSize = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	h.MaxChildren = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	h.RootSequence = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	h.NodeCount = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	h.StartTime = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	h.EndTime = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	h.AttrTreeOffset = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	return h, nil
}
