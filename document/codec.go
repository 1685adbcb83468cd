package document

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary value format: one tag byte (the Kind) followed by the payload.
// Lengths and counts are unsigned varints; fixed-width integers are
// little-endian. The encoding is deterministic and self-describing:
// Decode(Encode(v)) is structurally equal to v for every representable v.

var (
	ErrTruncatedValue  = errors.New("document: truncated value")
	ErrInvalidTag      = errors.New("document: invalid type tag")
	ErrDuplicateField  = errors.New("document: duplicate field name")
	ErrValueTooDeep    = errors.New("document: value nesting too deep")
	errTrailingGarbage = errors.New("document: trailing bytes after value")
)

// maxDepth caps nesting so a corrupted length cannot recurse unboundedly.
const maxDepth = 128

// Encode serializes a value to its binary form.
func Encode(v Value) ([]byte, error) {
	return AppendValue(nil, v)
}

// AppendValue appends the binary form of v to dst.
func AppendValue(dst []byte, v Value) ([]byte, error) {
	return appendValue(dst, v, 0)
}

func appendValue(dst []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrValueTooDeep
	}
	dst = append(dst, byte(v.Kind()))
	switch v := v.(type) {
	case MinKey, Null, MaxKey:
		return dst, nil
	case Bool:
		if v {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case Int64:
		return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil
	case Double:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(v))), nil
	case DateTime:
		return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil
	case Decimal128:
		return append(dst, v[:]...), nil
	case ObjectID:
		return append(dst, v[:]...), nil
	case String:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		return append(dst, v...), nil
	case Binary:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		return append(dst, v...), nil
	case Array:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		var err error
		for _, e := range v {
			if dst, err = appendValue(dst, e, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case *Document:
		dst = binary.AppendUvarint(dst, uint64(len(v.fields)))
		var err error
		for _, f := range v.fields {
			dst = binary.AppendUvarint(dst, uint64(len(f.Name)))
			dst = append(dst, f.Name...)
			if dst, err = appendValue(dst, f.Value, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidTag, v)
}

// Decode parses a value from buf, requiring that buf contains exactly one
// value with no trailing bytes.
func Decode(buf []byte) (Value, error) {
	v, rest, err := DecodeValue(buf)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errTrailingGarbage
	}
	return v, nil
}

// DecodeValue parses one value from the front of buf and returns the
// remainder.
func DecodeValue(buf []byte) (Value, []byte, error) {
	return decodeValue(buf, 0)
}

func decodeValue(buf []byte, depth int) (Value, []byte, error) {
	if depth > maxDepth {
		return nil, nil, ErrValueTooDeep
	}
	if len(buf) == 0 {
		return nil, nil, ErrTruncatedValue
	}
	tag := Kind(buf[0])
	buf = buf[1:]
	switch tag {
	case KindMinKey:
		return MinKey{}, buf, nil
	case KindNull:
		return Null{}, buf, nil
	case KindMaxKey:
		return MaxKey{}, buf, nil
	case KindBool:
		if len(buf) < 1 {
			return nil, nil, ErrTruncatedValue
		}
		return Bool(buf[0] != 0), buf[1:], nil
	case KindInt64:
		if len(buf) < 8 {
			return nil, nil, ErrTruncatedValue
		}
		return Int64(binary.LittleEndian.Uint64(buf)), buf[8:], nil
	case KindDouble:
		if len(buf) < 8 {
			return nil, nil, ErrTruncatedValue
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(buf))), buf[8:], nil
	case KindDateTime:
		if len(buf) < 8 {
			return nil, nil, ErrTruncatedValue
		}
		return DateTime(binary.LittleEndian.Uint64(buf)), buf[8:], nil
	case KindDecimal128:
		if len(buf) < 16 {
			return nil, nil, ErrTruncatedValue
		}
		var d Decimal128
		copy(d[:], buf)
		return d, buf[16:], nil
	case KindObjectID:
		if len(buf) < 12 {
			return nil, nil, ErrTruncatedValue
		}
		var id ObjectID
		copy(id[:], buf)
		return id, buf[12:], nil
	case KindString:
		b, rest, err := decodeBytes(buf)
		if err != nil {
			return nil, nil, err
		}
		return String(b), rest, nil
	case KindBinary:
		b, rest, err := decodeBytes(buf)
		if err != nil {
			return nil, nil, err
		}
		out := make(Binary, len(b))
		copy(out, b)
		return out, rest, nil
	case KindArray:
		n, rest, err := decodeCount(buf)
		if err != nil {
			return nil, nil, err
		}
		arr := make(Array, 0, n)
		for i := 0; i < n; i++ {
			var e Value
			if e, rest, err = decodeValue(rest, depth+1); err != nil {
				return nil, nil, err
			}
			arr = append(arr, e)
		}
		return arr, rest, nil
	case KindDocument:
		n, rest, err := decodeCount(buf)
		if err != nil {
			return nil, nil, err
		}
		doc := &Document{fields: make([]Field, 0, n)}
		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			var name []byte
			if name, rest, err = decodeBytes(rest); err != nil {
				return nil, nil, err
			}
			if _, dup := seen[string(name)]; dup {
				return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateField, name)
			}
			seen[string(name)] = struct{}{}
			var val Value
			if val, rest, err = decodeValue(rest, depth+1); err != nil {
				return nil, nil, err
			}
			doc.fields = append(doc.fields, Field{Name: string(name), Value: val})
		}
		return doc, rest, nil
	}
	return nil, nil, fmt.Errorf("%w: 0x%02x", ErrInvalidTag, uint8(tag))
}

func decodeBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := decodeCount(buf)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < n {
		return nil, nil, ErrTruncatedValue
	}
	return rest[:n], rest[n:], nil
}

func decodeCount(buf []byte) (int, []byte, error) {
	n, sz := binary.Uvarint(buf)
	if sz <= 0 || n > math.MaxInt32 {
		return 0, nil, ErrTruncatedValue
	}
	return int(n), buf[sz:], nil
}
