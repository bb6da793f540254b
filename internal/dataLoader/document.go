package dataloader

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Document is the JSON object built from one row. Keys keep header order; a
// repeated header keeps its first position and takes the last value. Values
// are always strings, no type inference is done.
type Document struct {
	fields *orderedmap.OrderedMap[string, string]
}

func NewDocument(headers, fields []string) *Document {
	n := min(len(headers), len(fields))
	doc := &Document{fields: orderedmap.New[string, string]()}
	for i := 0; i < n; i++ {
		doc.fields.Set(headers[i], fields[i])
	}
	return doc
}

func (d *Document) Len() int {
	return d.fields.Len()
}

func (d *Document) Get(key string) (string, bool) {
	return d.fields.Get(key)
}

func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return d.fields.MarshalJSON()
}
