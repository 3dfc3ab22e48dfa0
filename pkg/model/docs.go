package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Doc is an untyped JSON object as returned by a channel.
type Doc map[string]any

// Snapshot is the equipment list of each broker as read from a channel,
// keyed by broker equipment name. Each list starts with the broker
// pseudo-equipment.
type Snapshot map[string][]Doc

// DecodeDoc decodes a JSON object. Numbers are kept as json.Number.
func DecodeDoc(data []byte) (Doc, error) {
	var d Doc
	if err := decode(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeDocs decodes a JSON array of objects.
func DecodeDocs(data []byte) ([]Doc, error) {
	var ds []Doc
	if err := decode(data, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// ToDoc returns the comparison document of a record.
func ToDoc(v any) (Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeDoc(data)
}

// Str returns the string value of key, or "" when absent or not a string.
// Numbers are returned in their JSON text.
func (d Doc) Str(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// Sub returns the nested object stored under key, or nil.
func (d Doc) Sub(key string) Doc {
	switch v := d[key].(type) {
	case Doc:
		return v
	case map[string]any:
		return Doc(v)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Doc:
		return x.Clone()
	case map[string]any:
		return Doc(x).Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// NormalizeCurrentValue rewrites the currentValue key of a command document
// with NormalizeValue so that live values compare to stored ones.
func (d Doc) NormalizeCurrentValue() {
	if v, ok := d["currentValue"]; ok {
		d["currentValue"] = NormalizeValue(v).Interface()
	}
}
