package document

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Index keys are order-preserving byte encodings: bytes.Compare on two
// encoded keys agrees with the documented cross-type total order, which is
//
//	MinKey < Null < {Int64, Double} < Decimal128 < String < Binary
//	       < Array < Document < ObjectID < Bool < DateTime < MaxKey
//
// Int64 and Double share one rank and interleave numerically by their
// float64 projection; the source tag and exact bits follow as a tie-break,
// so the encoding stays injective. Int64 values beyond ±2^53 therefore
// order by their float64 projection first and by exact magnitude second.
// Decimal128 orders by its raw bytes.
//
// Variable-length payloads (strings, binaries, names) use the 0x00/0x01
// escape with a 0x00 terminator so that a prefix sorts before any
// extension, and arrays/documents close with a bare 0x00 terminator.

const (
	rankMinKey     = 0x05
	rankNull       = 0x0a
	rankNumber     = 0x14
	rankDecimal128 = 0x19
	rankString     = 0x1e
	rankBinary     = 0x23
	rankArray      = 0x28
	rankDocument   = 0x2d
	rankObjectID   = 0x32
	rankBool       = 0x37
	rankDateTime   = 0x3c
	rankMaxKey     = 0xfa

	keyTerminator = 0x00
)

// EncodeKey returns the order-preserving key form of v.
func EncodeKey(v Value) ([]byte, error) {
	return AppendKey(nil, v)
}

// AppendKey appends the order-preserving key form of v to dst.
func AppendKey(dst []byte, v Value) ([]byte, error) {
	return appendKey(dst, v, 0)
}

func appendKey(dst []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrValueTooDeep
	}
	switch v := v.(type) {
	case MinKey:
		return append(dst, rankMinKey), nil
	case Null:
		return append(dst, rankNull), nil
	case MaxKey:
		return append(dst, rankMaxKey), nil
	case Bool:
		if v {
			return append(dst, rankBool, 1), nil
		}
		return append(dst, rankBool, 0), nil
	case Int64:
		dst = append(dst, rankNumber)
		dst = appendSortableFloat(dst, float64(v))
		dst = append(dst, byte(KindInt64))
		return appendSortableInt(dst, int64(v)), nil
	case Double:
		dst = append(dst, rankNumber)
		dst = appendSortableFloat(dst, float64(v))
		dst = append(dst, byte(KindDouble))
		return appendSortableFloat(dst, float64(v)), nil
	case Decimal128:
		return append(append(dst, rankDecimal128), v[:]...), nil
	case String:
		dst = append(dst, rankString)
		return appendEscaped(dst, []byte(v)), nil
	case Binary:
		dst = append(dst, rankBinary)
		return appendEscaped(dst, v), nil
	case ObjectID:
		return append(append(dst, rankObjectID), v[:]...), nil
	case DateTime:
		dst = append(dst, rankDateTime)
		return appendSortableInt(dst, int64(v)), nil
	case Array:
		dst = append(dst, rankArray)
		var err error
		for _, e := range v {
			if dst, err = appendKey(dst, e, depth+1); err != nil {
				return nil, err
			}
		}
		return append(dst, keyTerminator), nil
	case *Document:
		dst = append(dst, rankDocument)
		var err error
		for _, f := range v.fields {
			dst = append(dst, rankString)
			dst = appendEscaped(dst, []byte(f.Name))
			if dst, err = appendKey(dst, f.Value, depth+1); err != nil {
				return nil, err
			}
		}
		return append(dst, keyTerminator), nil
	}
	return nil, ErrInvalidTag
}

// appendEscaped writes raw bytes with 0x00 and 0x01 prefixed by 0x01, then
// a single 0x00 terminator. Escaped streams preserve byte order and a
// proper prefix sorts first.
func appendEscaped(dst, b []byte) []byte {
	for _, c := range b {
		if c == 0x00 || c == 0x01 {
			dst = append(dst, 0x01)
		}
		dst = append(dst, c)
	}
	return append(dst, keyTerminator)
}

// appendSortableInt writes an int64 as big-endian with the sign bit
// flipped, so unsigned byte comparison matches signed integer order.
func appendSortableInt(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^(1<<63))
}

// appendSortableFloat writes a float64 in the standard total-order
// transform: positive values get the sign bit set, negative values are
// fully inverted. NaN is canonicalized above every other value.
func appendSortableFloat(dst []byte, f float64) []byte {
	var u uint64
	if math.IsNaN(f) {
		u = math.MaxUint64
	} else {
		u = math.Float64bits(f)
		if u&(1<<63) != 0 {
			u = ^u
		} else {
			u |= 1 << 63
		}
	}
	return binary.BigEndian.AppendUint64(dst, u)
}

// CompareValues orders two values by the canonical total order. It is
// definitionally consistent with the key encoding.
func CompareValues(a, b Value) int {
	ka, err := EncodeKey(a)
	if err != nil {
		ka = nil
	}
	kb, err := EncodeKey(b)
	if err != nil {
		kb = nil
	}
	return bytes.Compare(ka, kb)
}
