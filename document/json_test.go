package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	id := NewObjectID()
	doc := D(
		"_id", id,
		"name", "alice",
		"age", int64(30),
		"score", 99.5,
		"tags", Array{String("a"), String("b")},
		"meta", D("active", true, "note", Null{}),
		"raw", Binary{0x01, 0x02},
		"joined", DateTime(1700000000000),
	)

	data, err := ToJSON(doc)
	require.NoError(t, err)

	got, err := DocumentFromJSON(data)
	require.NoError(t, err)
	assert.True(t, Equal(doc, got), "got %#v", got)
}

func TestJSONFieldOrderPreserved(t *testing.T) {
	got, err := DocumentFromJSON([]byte(`{"z":1,"a":2,"m":3}`))
	require.NoError(t, err)

	fields := got.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "z", fields[0].Name)
	assert.Equal(t, "a", fields[1].Name)
	assert.Equal(t, "m", fields[2].Name)
}

func TestJSONNumbers(t *testing.T) {
	got, err := FromJSON([]byte(`{"i":3,"f":3.5,"e":1e3,"n":-7}`))
	require.NoError(t, err)

	doc := got.(*Document)
	i, _ := doc.Get("i")
	assert.Equal(t, KindInt64, i.Kind())
	f, _ := doc.Get("f")
	assert.Equal(t, KindDouble, f.Kind())
	e, _ := doc.Get("e")
	assert.Equal(t, KindDouble, e.Kind())
	n, _ := doc.Get("n")
	assert.True(t, Equal(Int64(-7), n))
}

func TestJSONExtendedWrappers(t *testing.T) {
	in := `{"id":{"$oid":"0102030405060708090a0b0c"},"at":{"$date":1000},"lo":{"$minKey":1},"hi":{"$maxKey":1}}`
	got, err := DocumentFromJSON([]byte(in))
	require.NoError(t, err)

	id, _ := got.Get("id")
	assert.Equal(t, KindObjectID, id.Kind())
	at, _ := got.Get("at")
	assert.True(t, Equal(DateTime(1000), at))
	lo, _ := got.Get("lo")
	assert.Equal(t, KindMinKey, lo.Kind())
	hi, _ := got.Get("hi")
	assert.Equal(t, KindMaxKey, hi.Kind())
}

func TestJSONRejectsGarbage(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `[1,]`, `{"a":1}x`} {
		_, err := FromJSON([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestJSONDuplicateField(t *testing.T) {
	_, err := FromJSON([]byte(`{"a":1,"a":2}`))
	assert.ErrorIs(t, err, ErrDuplicateField)
}
