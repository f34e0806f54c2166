// Package htinterval implements the typed value wrapper and the interval
// record that the history tree stores: a (start, end, quark, value) tuple
// stating that an attribute held a value across a closed time range.
package htinterval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind is the on-disk type tag of a Value. The numeric values are part of
// the file format and must not be renumbered.
type Kind int8

const (
	KindNull       Kind = -1
	KindInteger    Kind = 0
	KindString     Kind = 1
	KindLong       Kind = 2
	KindDouble     Kind = 3
	KindBoolTrue   Kind = 4
	KindBoolFalse  Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindBoolTrue, KindBoolFalse:
		return "boolean"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// Value is a tagged union over the state-value types the engine can store.
// It is immutable: every constructor returns a new Value by copy.
type Value struct {
	kind Kind
	i64  int64
	f64  float64
	str  string
}

// NullValue returns the value that compares less than every other value.
func NullValue() Value { return Value{kind: KindNull} }

// IntValue wraps a 32-bit integer.
func IntValue(v int32) Value { return Value{kind: KindInteger, i64: int64(v)} }

// LongValue wraps a 64-bit integer.
func LongValue(v int64) Value { return Value{kind: KindLong, i64: v} }

// DoubleValue wraps a 64-bit float.
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f64: v} }

// BoolValue wraps a boolean; the tag itself carries true/false, so no
// payload bytes are needed on disk.
func BoolValue(v bool) Value {
	if v {
		return Value{kind: KindBoolTrue}
	}
	return Value{kind: KindBoolFalse}
}

// StringValue wraps a UTF-8 string.
func StringValue(v string) Value { return Value{kind: KindString, str: v} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders the value for diagnostics and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInteger, KindLong:
		return fmt.Sprintf("%d", v.i64)
	case KindDouble:
		return fmt.Sprintf("%g", v.f64)
	case KindBoolTrue:
		return "true"
	case KindBoolFalse:
		return "false"
	case KindString:
		return v.str
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}

// ErrWrongType is returned by the As* accessors when the value holds a
// different kind than requested.
var ErrWrongType = fmt.Errorf("state value: wrong type")

func (v Value) AsInt() (int32, error) {
	if v.kind != KindInteger {
		return 0, fmt.Errorf("%w: have %s, want integer", ErrWrongType, v.kind)
	}
	return int32(v.i64), nil
}

func (v Value) AsLong() (int64, error) {
	if v.kind != KindLong {
		return 0, fmt.Errorf("%w: have %s, want long", ErrWrongType, v.kind)
	}
	return v.i64, nil
}

func (v Value) AsDouble() (float64, error) {
	if v.kind != KindDouble {
		return 0, fmt.Errorf("%w: have %s, want double", ErrWrongType, v.kind)
	}
	return v.f64, nil
}

func (v Value) AsBool() (bool, error) {
	switch v.kind {
	case KindBoolTrue:
		return true, nil
	case KindBoolFalse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: have %s, want boolean", ErrWrongType, v.kind)
	}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("%w: have %s, want string", ErrWrongType, v.kind)
	}
	return v.str, nil
}

// Equal reports structural equality. NaN doubles are equal to themselves
// here (unlike IEEE 754 ==) so that round-trip tests over NaN payloads
// behave sanely.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull, KindBoolTrue, KindBoolFalse:
		return true
	case KindInteger, KindLong:
		return v.i64 == o.i64
	case KindDouble:
		if math.IsNaN(v.f64) && math.IsNaN(o.f64) {
			return true
		}
		return v.f64 == o.f64 && math.Signbit(v.f64) == math.Signbit(o.f64)
	case KindString:
		return v.str == o.str
	default:
		return false
	}
}

// Compare defines the partial order admitted by the spec: NULL compares
// less than everything else, and otherwise comparison is only defined
// between values of a compatible pair (numerics with numerics, strings
// with strings, booleans with booleans).
func (v Value) Compare(o Value) (int, error) {
	if v.kind == KindNull && o.kind == KindNull {
		return 0, nil
	}
	if v.kind == KindNull {
		return -1, nil
	}
	if o.kind == KindNull {
		return 1, nil
	}
	switch v.kind {
	case KindInteger, KindLong, KindDouble:
		if !isNumeric(o.kind) {
			return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
		}
		a, b := v.numeric(), o.numeric()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	case KindString:
		if o.kind != KindString {
			return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
		}
		switch {
		case v.str < o.str:
			return -1, nil
		case v.str > o.str:
			return 1, nil
		default:
			return 0, nil
		}
	case KindBoolTrue, KindBoolFalse:
		if !isBool(o.kind) {
			return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
		}
		a, b := v.boolOrd(), o.boolOrd()
		return a - b, nil
	default:
		return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
	}
}

func isNumeric(k Kind) bool { return k == KindInteger || k == KindLong || k == KindDouble }
func isBool(k Kind) bool    { return k == KindBoolTrue || k == KindBoolFalse }

func (v Value) numeric() float64 {
	if v.kind == KindDouble {
		return v.f64
	}
	return float64(v.i64)
}

func (v Value) boolOrd() int {
	if v.kind == KindBoolTrue {
		return 1
	}
	return 0
}

// maxStringBytes bounds the length prefix, a uint16, to what can be
// expressed by it.
const maxStringBytes = math.MaxUint16

// PayloadSize returns the number of bytes the value's payload occupies
// after the common interval header, not counting the type tag itself
// (which is accounted for by the caller).
func (v Value) PayloadSize() (int, error) {
	switch v.kind {
	case KindNull, KindBoolTrue, KindBoolFalse:
		return 0, nil
	case KindInteger:
		return 4, nil
	case KindLong:
		return 8, nil
	case KindDouble:
		return 8, nil
	case KindString:
		n := len(v.str)
		if n > maxStringBytes {
			return 0, fmt.Errorf("string value too long to serialize (%d bytes)", n)
		}
		return 2 + n + 1, nil // u16 length + bytes + terminating zero
	default:
		return 0, fmt.Errorf("unrecognized value kind %d", v.kind)
	}
}

// MarshalPayload appends the value's payload (no tag) to buf.
func (v Value) MarshalPayload(buf []byte) ([]byte, error) {
	switch v.kind {
	case KindNull, KindBoolTrue, KindBoolFalse:
		return buf, nil
	case KindInteger:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(v.i64))), nil
	case KindLong:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.i64)), nil
	case KindDouble:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.f64)), nil
	case KindString:
		n := len(v.str)
		if n > maxStringBytes {
			return nil, fmt.Errorf("string value too long to serialize (%d bytes)", n)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
		buf = append(buf, v.str...)
		buf = append(buf, 0)
		return buf, nil
	default:
		return nil, fmt.Errorf("unrecognized value kind %d", v.kind)
	}
}

// ErrCorruptString is returned when the terminating zero byte after a
// serialized string payload is not zero; this is a sanity check the file
// format relies on to catch a drifted read offset early.
var ErrCorruptString = fmt.Errorf("corrupt interval: string payload missing terminator")

// UnmarshalValue decodes the payload for the given tag from the front of
// data (which holds the payload only, not the tag byte), returning the
// value and the number of payload bytes consumed.
func UnmarshalValue(tag Kind, data []byte) (Value, int, error) {
	switch tag {
	case KindNull:
		return NullValue(), 0, nil
	case KindBoolTrue:
		return BoolValue(true), 0, nil
	case KindBoolFalse:
		return BoolValue(false), 0, nil
	case KindInteger:
		if len(data) < 4 {
			return Value{}, 0, fmt.Errorf("corrupt interval: truncated integer payload")
		}
		return IntValue(int32(binary.LittleEndian.Uint32(data))), 4, nil
	case KindLong:
		if len(data) < 8 {
			return Value{}, 0, fmt.Errorf("corrupt interval: truncated long payload")
		}
		return LongValue(int64(binary.LittleEndian.Uint64(data))), 8, nil
	case KindDouble:
		if len(data) < 8 {
			return Value{}, 0, fmt.Errorf("corrupt interval: truncated double payload")
		}
		return DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(data))), 8, nil
	case KindString:
		if len(data) < 2 {
			return Value{}, 0, fmt.Errorf("corrupt interval: truncated string length")
		}
		n := int(binary.LittleEndian.Uint16(data))
		if len(data) < 2+n+1 {
			return Value{}, 0, fmt.Errorf("corrupt interval: truncated string payload")
		}
		s := string(data[2 : 2+n])
		if data[2+n] != 0 {
			return Value{}, 0, ErrCorruptString
		}
		return StringValue(s), 2 + n + 1, nil
	default:
		return Value{}, 0, fmt.Errorf("corrupt interval: unrecognized type tag %d", tag)
	}
}
