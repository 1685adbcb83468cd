package document

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	gojson "github.com/goccy/go-json"
)

// JSON bridge in the relaxed extended style: plain JSON types map directly,
// engine-specific types use wrapper objects ({"$oid": ...}, {"$date": ...},
// {"$binary": ...}, {"$decimal128": ...}, {"$minKey": 1}, {"$maxKey": 1}).
// Numbers without a fractional part decode as Int64, so an integral Double
// does not survive a round trip with its kind intact.

var ErrInvalidJSON = errors.New("document: invalid json value")

// ToJSON renders a value as JSON. Document field order is preserved.
func ToJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch v := v.(type) {
	case Null:
		buf.WriteString("null")
	case Bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Int64:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case Double:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			fmt.Fprintf(buf, `{"$numberDouble":%q}`, strconv.FormatFloat(f, 'g', -1, 64))
			return nil
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case String:
		return writeJSONString(buf, string(v))
	case Binary:
		buf.WriteString(`{"$binary":"`)
		buf.WriteString(base64.StdEncoding.EncodeToString(v))
		buf.WriteString(`"}`)
	case ObjectID:
		buf.WriteString(`{"$oid":"`)
		buf.WriteString(v.Hex())
		buf.WriteString(`"}`)
	case DateTime:
		buf.WriteString(`{"$date":`)
		buf.WriteString(strconv.FormatInt(int64(v), 10))
		buf.WriteByte('}')
	case Decimal128:
		buf.WriteString(`{"$decimal128":"`)
		buf.WriteString(hex.EncodeToString(v[:]))
		buf.WriteString(`"}`)
	case MinKey:
		buf.WriteString(`{"$minKey":1}`)
	case MaxKey:
		buf.WriteString(`{"$maxKey":1}`)
	case Array:
		buf.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Document:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, f.Name); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: %T", ErrInvalidTag, v)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := gojson.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// FromJSON parses a JSON value, preserving object field order.
func FromJSON(data []byte) (Value, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrInvalidJSON
	}
	return v, nil
}

// DocumentFromJSON parses a JSON object into a Document.
func DocumentFromJSON(data []byte) (*Document, error) {
	v, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(*Document)
	if !ok {
		return nil, ErrInvalidJSON
	}
	return doc, nil
}

func readJSON(dec *gojson.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, ErrInvalidJSON
	}
	return valueFromToken(dec, tok)
}

func valueFromToken(dec *gojson.Decoder, tok gojson.Token) (Value, error) {
	switch tok := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(tok), nil
	case string:
		return String(tok), nil
	case gojson.Number:
		if i, err := tok.Int64(); err == nil && !isFractional(tok.String()) {
			return Int64(i), nil
		}
		f, err := tok.Float64()
		if err != nil {
			return nil, ErrInvalidJSON
		}
		return Double(f), nil
	case gojson.Delim:
		switch tok {
		case '[':
			arr := Array{}
			for dec.More() {
				e, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return nil, ErrInvalidJSON
			}
			return arr, nil
		case '{':
			doc := NewDocument()
			for dec.More() {
				nameTok, err := dec.Token()
				if err != nil {
					return nil, ErrInvalidJSON
				}
				name, ok := nameTok.(string)
				if !ok {
					return nil, ErrInvalidJSON
				}
				if _, dup := doc.Get(name); dup {
					return nil, ErrDuplicateField
				}
				val, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				doc.Set(name, val)
			}
			if _, err := dec.Token(); err != nil { // closing }
				return nil, ErrInvalidJSON
			}
			return unwrapExtended(doc)
		}
	}
	return nil, ErrInvalidJSON
}

func isFractional(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == 'e' || s[i] == 'E' {
			return true
		}
	}
	return false
}

// unwrapExtended converts single-field wrapper objects back into their
// engine types.
func unwrapExtended(doc *Document) (Value, error) {
	if doc.Len() != 1 {
		return doc, nil
	}
	f := doc.fields[0]
	switch f.Name {
	case "$oid":
		s, ok := f.Value.(String)
		if !ok {
			return nil, ErrInvalidJSON
		}
		return ObjectIDFromHex(string(s))
	case "$date":
		switch v := f.Value.(type) {
		case Int64:
			return DateTime(v), nil
		case Double:
			return DateTime(int64(v)), nil
		}
		return nil, ErrInvalidJSON
	case "$binary":
		s, ok := f.Value.(String)
		if !ok {
			return nil, ErrInvalidJSON
		}
		b, err := base64.StdEncoding.DecodeString(string(s))
		if err != nil {
			return nil, ErrInvalidJSON
		}
		return Binary(b), nil
	case "$decimal128":
		s, ok := f.Value.(String)
		if !ok {
			return nil, ErrInvalidJSON
		}
		b, err := hex.DecodeString(string(s))
		if err != nil || len(b) != 16 {
			return nil, ErrInvalidJSON
		}
		var d Decimal128
		copy(d[:], b)
		return d, nil
	case "$numberDouble":
		s, ok := f.Value.(String)
		if !ok {
			return nil, ErrInvalidJSON
		}
		fv, err := strconv.ParseFloat(string(s), 64)
		if err != nil {
			return nil, ErrInvalidJSON
		}
		return Double(fv), nil
	case "$minKey":
		return MinKey{}, nil
	case "$maxKey":
		return MaxKey{}, nil
	}
	return doc, nil
}
