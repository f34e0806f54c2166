package htinterval

import (
	"encoding/binary"
	"fmt"
)

// MaxSerializedSize is the largest number of bytes a single serialized
// interval may occupy. An interval exceeding this is rejected at
// insertion time, before it ever reaches a node.
const MaxSerializedSize = 65535

// headerSize is the byte length of an interval's fixed header: the type
// tag plus start, end and quark.
const headerSize = 1 + 8 + 8 + 4

// Interval is the unit of information the tree stores: attribute Quark
// held Value for every timestamp in [Start, End].
type Interval struct {
	Start int64
	End   int64
	Quark int32
	Value Value
}

// Intersects reports whether the interval covers t.
func (iv Interval) Intersects(t int64) bool {
	return iv.Start <= t && t <= iv.End
}

// Size returns the number of bytes iv occupies once serialized.
func (iv Interval) Size() (int, error) {
	n, err := iv.Value.PayloadSize()
	if err != nil {
		return 0, err
	}
	return headerSize + n, nil
}

// MarshalBinary appends the serialized form of iv to buf and returns the
// extended slice.
func (iv Interval) MarshalBinary(buf []byte) ([]byte, error) {
	if iv.Start > iv.End {
		return nil, fmt.Errorf("interval has start %d > end %d", iv.Start, iv.End)
	}
	buf = append(buf, byte(int8(iv.Value.Kind())))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(iv.Start))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(iv.End))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(iv.Quark))
	return iv.Value.MarshalPayload(buf)
}

// UnmarshalInterval decodes one interval from the front of data, returning
// it along with the number of bytes consumed.
func UnmarshalInterval(data []byte) (Interval, int, error) {
	if len(data) < headerSize {
		return Interval{}, 0, fmt.Errorf("corrupt interval: truncated header")
	}
	tag := Kind(int8(data[0]))
	start := int64(binary.LittleEndian.Uint64(data[1:9]))
	end := int64(binary.LittleEndian.Uint64(data[9:17]))
	quark := int32(binary.LittleEndian.Uint32(data[17:21]))
	val, n, err := UnmarshalValue(tag, data[headerSize:])
	if err != nil {
		return Interval{}, 0, err
	}
	return Interval{Start: start, End: end, Quark: quark, Value: val}, headerSize + n, nil
}
