// Package wire implements the MessagePack-compatible binary encoding
// spec.md §6 requires for payloads on the Redis queue layer, plus the
// optional symmetric-encryption wrapper for symmetric_encryption_keys.
//
// Only the subset of MessagePack needed for channel-layer payloads is
// supported: maps (string keys), lists, strings, byte strings, integers,
// floats, booleans, and null. No extension types, no streaming.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Type tags, matching the MessagePack format family used for each Go
// value kind this codec supports.
const (
	tagNil     byte = 0xc0
	tagFalse   byte = 0xc2
	tagTrue    byte = 0xc3
	tagFloat64 byte = 0xcb
	tagUint64  byte = 0xcf
	tagInt64   byte = 0xd3
	tagStr8    byte = 0xd9
	tagStr16   byte = 0xda
	tagStr32   byte = 0xdb
	tagBin8    byte = 0xc4
	tagBin16   byte = 0xc5
	tagBin32   byte = 0xc6
	tagArray16 byte = 0xdc
	tagArray32 byte = 0xdd
	tagMap16   byte = 0xde
	tagMap32   byte = 0xdf
)

// ErrUnsupportedType is returned by Encode for a value kind outside the
// supported subset.
var ErrUnsupportedType = errors.New("wire: unsupported value type")

// ErrTruncated is returned by Decode when the input ends mid-value.
var ErrTruncated = errors.New("wire: truncated input")

// Encode serializes v into the wire format. Supported kinds: map[string]any
// (and any named type with that underlying type, such as layer.Message),
// []any, string, []byte, int/int64, uint/uint64, float64, bool, nil.
func Encode(v any) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, normalize(v))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// normalize converts a named map[string]any type (e.g. layer.Message) into
// the plain map[string]any appendValue switches on, without importing the
// layer package and creating a cycle.
func normalize(v any) any {
	if _, ok := v.(map[string]any); ok {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return v
	}
	if rv.Type().Key().Kind() != reflect.String {
		return v
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if t {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case string:
		return appendString(buf, t), nil
	case []byte:
		return appendBytes(buf, t), nil
	case int:
		return appendInt(buf, int64(t)), nil
	case int64:
		return appendInt(buf, t), nil
	case uint:
		buf = append(buf, tagUint64)
		return appendUint64(buf, uint64(t)), nil
	case uint64:
		buf = append(buf, tagUint64)
		return appendUint64(buf, t), nil
	case float64:
		buf = append(buf, tagFloat64)
		return appendUint64(buf, math.Float64bits(t)), nil
	case map[string]any:
		return appendMap(buf, t)
	case []any:
		return appendArray(buf, t)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func appendUint64(buf []byte, u uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], u)
	return append(buf, tmp[:]...)
}

func appendInt(buf []byte, i int64) []byte {
	buf = append(buf, tagInt64)
	return appendUint64(buf, uint64(i))
}

func appendString(buf []byte, s string) []byte {
	n := len(s)
	switch {
	case n < 1<<8:
		buf = append(buf, tagStr8, byte(n))
	case n < 1<<16:
		buf = append(buf, tagStr16)
		buf = appendUint16(buf, uint16(n))
	default:
		buf = append(buf, tagStr32)
		buf = appendUint32(buf, uint32(n))
	}
	return append(buf, s...)
}

func appendBytes(buf, b []byte) []byte {
	n := len(b)
	switch {
	case n < 1<<8:
		buf = append(buf, tagBin8, byte(n))
	case n < 1<<16:
		buf = append(buf, tagBin16)
		buf = appendUint16(buf, uint16(n))
	default:
		buf = append(buf, tagBin32)
		buf = appendUint32(buf, uint32(n))
	}
	return append(buf, b...)
}

func appendUint16(buf []byte, u uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], u)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, u uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], u)
	return append(buf, tmp[:]...)
}

func appendArray(buf []byte, a []any) ([]byte, error) {
	n := len(a)
	if n < 1<<16 {
		buf = append(buf, tagArray16)
		buf = appendUint16(buf, uint16(n))
	} else {
		buf = append(buf, tagArray32)
		buf = appendUint32(buf, uint32(n))
	}
	var err error
	for _, item := range a {
		buf, err = appendValue(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendMap(buf []byte, m map[string]any) ([]byte, error) {
	n := len(m)
	if n < 1<<16 {
		buf = append(buf, tagMap16)
		buf = appendUint16(buf, uint16(n))
	} else {
		buf = append(buf, tagMap32)
		buf = appendUint32(buf, uint32(n))
	}
	var err error
	for k, val := range m {
		buf = appendString(buf, k)
		buf, err = appendValue(buf, val)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode deserializes the wire format produced by Encode. Maps decode to
// map[string]any, arrays to []any.
func Decode(data []byte) (any, error) {
	v, rest, err := readValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after value", len(rest))
	}
	return v, nil
}

func readValue(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrTruncated
	}
	tag := data[0]
	rest := data[1:]
	switch tag {
	case tagNil:
		return nil, rest, nil
	case tagFalse:
		return false, rest, nil
	case tagTrue:
		return true, rest, nil
	case tagInt64:
		u, rest, err := readUint64(rest)
		return int64(u), rest, err
	case tagUint64:
		return readUint64(rest)
	case tagFloat64:
		u, rest, err := readUint64(rest)
		if err != nil {
			return nil, nil, err
		}
		return math.Float64frombits(u), rest, nil
	case tagStr8:
		return readSizedString(rest, 1)
	case tagStr16:
		return readSizedString(rest, 2)
	case tagStr32:
		return readSizedString(rest, 4)
	case tagBin8:
		return readSizedBytes(rest, 1)
	case tagBin16:
		return readSizedBytes(rest, 2)
	case tagBin32:
		return readSizedBytes(rest, 4)
	case tagArray16:
		return readArray(rest, 2)
	case tagArray32:
		return readArray(rest, 4)
	case tagMap16:
		return readMap(rest, 2)
	case tagMap32:
		return readMap(rest, 4)
	default:
		return nil, nil, fmt.Errorf("wire: unknown tag 0x%02x", tag)
	}
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, ErrTruncated
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

func readLen(data []byte, width int) (int, []byte, error) {
	if len(data) < width {
		return 0, nil, ErrTruncated
	}
	switch width {
	case 1:
		return int(data[0]), data[1:], nil
	case 2:
		return int(binary.BigEndian.Uint16(data[:2])), data[2:], nil
	case 4:
		return int(binary.BigEndian.Uint32(data[:4])), data[4:], nil
	default:
		return 0, nil, fmt.Errorf("wire: unsupported length width %d", width)
	}
}

func readSizedString(data []byte, width int) (any, []byte, error) {
	n, rest, err := readLen(data, width)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < n {
		return nil, nil, ErrTruncated
	}
	return string(rest[:n]), rest[n:], nil
}

func readSizedBytes(data []byte, width int) (any, []byte, error) {
	n, rest, err := readLen(data, width)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < n {
		return nil, nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

func readArray(data []byte, width int) (any, []byte, error) {
	n, rest, err := readLen(data, width)
	if err != nil {
		return nil, nil, err
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		var v any
		v, rest, err = readValue(rest)
		if err != nil {
			return nil, nil, err
		}
		out[i] = v
	}
	return out, rest, nil
}

func readMap(data []byte, width int) (any, []byte, error) {
	n, rest, err := readLen(data, width)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		var key any
		key, rest, err = readValue(rest)
		if err != nil {
			return nil, nil, err
		}
		k, ok := key.(string)
		if !ok {
			return nil, nil, errors.New("wire: map key is not a string")
		}
		var v any
		v, rest, err = readValue(rest)
		if err != nil {
			return nil, nil, err
		}
		out[k] = v
	}
	return out, rest, nil
}
