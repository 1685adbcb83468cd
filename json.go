package polodb

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ghbook/polodb/document"
)

// ExportJSON writes every document as one JSON object per line, in _id
// order. Values without a JSON form (ObjectID, DateTime, binary and the
// like) use the extended {"$oid": ...} style wrappers, so an export round
// trips through ImportJSON losslessly.
func (c *Collection) ExportJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	err := c.ForEach(func(doc *document.Document) error {
		line, err := document.ToJSON(doc)
		if err != nil {
			return err
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// ImportJSON inserts one document per non-empty line of r. Lines must be
// JSON objects; documents without an _id get a generated ObjectID. Import
// stops at the first bad line or failed insert.
func (c *Collection) ImportJSON(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		doc, err := document.DocumentFromJSON(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if _, err := c.Insert(doc); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	return n, sc.Err()
}
