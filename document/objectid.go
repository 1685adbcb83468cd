package document

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte document identifier: a 4-byte big-endian Unix
// timestamp, a 5-byte per-process random value, and a 3-byte big-endian
// counter. IDs generated by one process are unique and roughly time-ordered.
type ObjectID [12]byte

var (
	oidProcess [5]byte
	oidCounter atomic.Uint32
)

func init() {
	if _, err := rand.Read(oidProcess[:]); err != nil {
		panic("document: cannot seed object id generator: " + err.Error())
	}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("document: cannot seed object id counter: " + err.Error())
	}
	oidCounter.Store(binary.BigEndian.Uint32(seed[:]))
}

// NewObjectID generates a fresh id for the current time.
func NewObjectID() ObjectID {
	return NewObjectIDFromTime(time.Now())
}

// NewObjectIDFromTime generates a fresh id with the given timestamp second.
func NewObjectIDFromTime(t time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	copy(id[4:9], oidProcess[:])
	n := oidCounter.Add(1)
	id[9] = byte(n >> 16)
	id[10] = byte(n >> 8)
	id[11] = byte(n)
	return id
}

// Timestamp returns the creation time recorded in the id, at second
// granularity.
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Hex returns the 24-character lowercase hex form.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string { return "ObjectID(" + id.Hex() + ")" }

// IsZero reports whether the id is all zero bytes.
func (id ObjectID) IsZero() bool { return id == ObjectID{} }

var errInvalidObjectID = errors.New("document: invalid object id")

// ObjectIDFromHex parses the 24-character hex form.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, errInvalidObjectID
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errInvalidObjectID
	}
	copy(id[:], b)
	return id, nil
}

// ObjectIDFromBytes builds an id from a raw 12-byte slice.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) != 12 {
		return id, errInvalidObjectID
	}
	copy(id[:], b)
	return id, nil
}
