// Package document defines the dynamically typed value model stored by the
// engine, its binary codec, and the order-preserving key encoding used by
// indexes.
package document

import (
	"bytes"
	"fmt"
)

// Kind identifies the concrete type held by a Value. The numeric order of
// the kinds is the canonical cross-type ranking used by index keys: a value
// of a lower kind sorts before a value of a higher kind, except that Int64
// and Double compare numerically against each other.
type Kind uint8

const (
	KindMinKey Kind = iota + 1
	KindNull
	KindInt64
	KindDouble
	KindDecimal128
	KindString
	KindBinary
	KindArray
	KindDocument
	KindObjectID
	KindBool
	KindDateTime
	KindMaxKey
)

func (k Kind) String() string {
	switch k {
	case KindMinKey:
		return "minKey"
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindDecimal128:
		return "decimal128"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindDocument:
		return "document"
	case KindObjectID:
		return "objectId"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "dateTime"
	case KindMaxKey:
		return "maxKey"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the closed set of types a document field can hold.
type Value interface {
	Kind() Kind
}

type Null struct{}

type Bool bool

type Int64 int64

type Double float64

type String string

type Binary []byte

type Array []Value

// DateTime is milliseconds since the Unix epoch, UTC.
type DateTime int64

// Decimal128 is an opaque 16-byte IEEE 754-2008 decimal. The engine stores
// and orders it by its raw bytes; arithmetic is up to the caller.
type Decimal128 [16]byte

type MinKey struct{}

type MaxKey struct{}

func (Null) Kind() Kind       { return KindNull }
func (Bool) Kind() Kind       { return KindBool }
func (Int64) Kind() Kind      { return KindInt64 }
func (Double) Kind() Kind     { return KindDouble }
func (String) Kind() Kind     { return KindString }
func (Binary) Kind() Kind     { return KindBinary }
func (Array) Kind() Kind      { return KindArray }
func (DateTime) Kind() Kind   { return KindDateTime }
func (Decimal128) Kind() Kind { return KindDecimal128 }
func (MinKey) Kind() Kind     { return KindMinKey }
func (MaxKey) Kind() Kind     { return KindMaxKey }
func (ObjectID) Kind() Kind   { return KindObjectID }
func (*Document) Kind() Kind  { return KindDocument }

// Field is a single named entry of a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered mapping of unique field names to values. Field
// insertion order is preserved; Set on an existing name replaces the value
// in place.
type Document struct {
	fields []Field
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// D builds a document from alternating name/value pairs. It panics on an
// odd number of arguments or a duplicate name; it is intended for literals
// in tests and call sites, not for untrusted input.
func D(pairs ...any) *Document {
	if len(pairs)%2 != 0 {
		panic("document.D: odd number of arguments")
	}
	d := NewDocument()
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic("document.D: field name must be a string")
		}
		if _, exists := d.Get(name); exists {
			panic("document.D: duplicate field " + name)
		}
		d.Set(name, toValue(pairs[i+1]))
	}
	return d
}

// toValue lifts common Go types into Values for the D constructor.
func toValue(v any) Value {
	switch v := v.(type) {
	case Value:
		return v
	case nil:
		return Null{}
	case bool:
		return Bool(v)
	case int:
		return Int64(v)
	case int64:
		return Int64(v)
	case float64:
		return Double(v)
	case string:
		return String(v)
	case []byte:
		return Binary(v)
	default:
		panic(fmt.Sprintf("document.D: unsupported value type %T", v))
	}
}

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.fields) }

// Fields returns the fields in insertion order. The slice is shared; the
// caller must not modify it.
func (d *Document) Fields() []Field { return d.fields }

// Get returns the value for name and whether it exists.
func (d *Document) Get(name string) (Value, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set stores value under name, replacing an existing field in place or
// appending a new one.
func (d *Document) Set(name string, value Value) *Document {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = value
			return d
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: value})
	return d
}

// Delete removes the field and reports whether it was present.
func (d *Document) Delete(name string) bool {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup resolves a dotted field path ("address.city") through embedded
// documents.
func (d *Document) Lookup(path string) (Value, bool) {
	cur := d
	for {
		dot := -1
		for i := 0; i < len(path); i++ {
			if path[i] == '.' {
				dot = i
				break
			}
		}
		if dot < 0 {
			return cur.Get(path)
		}
		v, ok := cur.Get(path[:dot])
		if !ok {
			return nil, false
		}
		sub, ok := v.(*Document)
		if !ok {
			return nil, false
		}
		cur = sub
		path = path[dot+1:]
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{fields: make([]Field, len(d.fields))}
	for i, f := range d.fields {
		out.fields[i] = Field{Name: f.Name, Value: CloneValue(f.Value)}
	}
	return out
}

// CloneValue deep-copies a Value.
func CloneValue(v Value) Value {
	switch v := v.(type) {
	case Binary:
		out := make(Binary, len(v))
		copy(out, v)
		return out
	case Array:
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = CloneValue(e)
		}
		return out
	case *Document:
		return v.Clone()
	default:
		return v
	}
}

// Equal reports structural equality of two values. Int64 and Double are
// distinct kinds here: Equal(Int64(1), Double(1)) is false even though the
// two compare equal as index keys.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case Binary:
		return bytes.Equal(a, b.(Binary))
	case Array:
		bs := b.(Array)
		if len(a) != len(bs) {
			return false
		}
		for i := range a {
			if !Equal(a[i], bs[i]) {
				return false
			}
		}
		return true
	case *Document:
		bd := b.(*Document)
		if len(a.fields) != len(bd.fields) {
			return false
		}
		for i := range a.fields {
			if a.fields[i].Name != bd.fields[i].Name {
				return false
			}
			if !Equal(a.fields[i].Value, bd.fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
