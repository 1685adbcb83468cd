package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValues() []Value {
	return []Value{
		MinKey{},
		Null{},
		Bool(false),
		Bool(true),
		Int64(0),
		Int64(-1),
		Int64(1 << 40),
		Double(3.14),
		Double(-0.5),
		String(""),
		String("hello"),
		String("héllo wörld"),
		Binary(nil),
		Binary{0x00, 0x01, 0xff},
		Array{},
		Array{Int64(1), String("two"), Null{}},
		NewDocument(),
		D("a", int64(1), "b", "two", "c", D("nested", true)),
		NewObjectID(),
		DateTime(1700000000000),
		Decimal128{0x01, 0x02},
		MaxKey{},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		buf, err := Encode(v)
		require.NoError(t, err, "encode %v", v.Kind())

		got, err := Decode(buf)
		require.NoError(t, err, "decode %v", v.Kind())
		assert.True(t, Equal(v, got), "round trip %v: got %#v", v.Kind(), got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	doc := D("x", int64(1), "y", Array{String("a"), Double(2.5)})

	a, err := Encode(doc)
	require.NoError(t, err)
	b, err := Encode(doc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeTruncated(t *testing.T) {
	full, err := Encode(D("name", "alice", "age", int64(30)))
	require.NoError(t, err)

	// Every proper prefix must fail cleanly, never panic.
	for i := 0; i < len(full); i++ {
		_, err := Decode(full[:i])
		assert.Error(t, err, "prefix length %d", i)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	buf, err := Encode(Int64(7))
	require.NoError(t, err)

	_, err = Decode(append(buf, 0x00))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{0xee})
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestDecodeRejectsDuplicateFields(t *testing.T) {
	// Hand-built document with the field "a" twice.
	buf := []byte{byte(KindDocument), 2}
	buf = append(buf, 1, 'a', byte(KindNull))
	buf = append(buf, 1, 'a', byte(KindNull))

	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestDocumentFieldOrder(t *testing.T) {
	doc := NewDocument()
	doc.Set("z", Int64(1))
	doc.Set("a", Int64(2))
	doc.Set("m", Int64(3))
	doc.Set("a", Int64(4)) // replace keeps position

	buf, err := Encode(doc)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)

	fields := got.(*Document).Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "z", fields[0].Name)
	assert.Equal(t, "a", fields[1].Name)
	assert.Equal(t, "m", fields[2].Name)
	assert.True(t, Equal(Int64(4), fields[1].Value))
}

func TestDocumentLookup(t *testing.T) {
	doc := D("address", D("city", "berlin", "geo", D("lat", 52.52)))

	v, ok := doc.Lookup("address.city")
	require.True(t, ok)
	assert.True(t, Equal(String("berlin"), v))

	v, ok = doc.Lookup("address.geo.lat")
	require.True(t, ok)
	assert.True(t, Equal(Double(52.52), v))

	_, ok = doc.Lookup("address.street")
	assert.False(t, ok)

	_, ok = doc.Lookup("address.city.zip") // city is not a document
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	doc := D("tags", Array{String("a")}, "raw", Binary{1, 2, 3})
	clone := doc.Clone()

	raw, _ := doc.Get("raw")
	raw.(Binary)[0] = 9

	cloneRaw, _ := clone.Get("raw")
	assert.Equal(t, byte(1), cloneRaw.(Binary)[0])
}
