package dataset

import (
	"bytes"
	"encoding/json"
)

// IndexColumn is the 1-based row number prepended to every read result.
const IndexColumn = "#"

// Row is one result row. Keys keeps the column order so rendered rows read
// the same way the query selected them.
type Row struct {
	Keys   []string
	Values map[string]any
}

// NewRow builds a row from parallel key and value slices.
func NewRow(keys []string, values []any) Row {
	r := Row{Keys: make([]string, 0, len(keys)), Values: make(map[string]any, len(keys))}
	for i, k := range keys {
		r.Set(k, values[i])
	}
	return r
}

// Get returns the value for a column.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Set assigns a value, appending the key when it is new.
func (r *Row) Set(key string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

// Map applies fn to every value and returns a new row.
func (r Row) Map(fn func(any) any) Row {
	out := Row{Keys: append([]string(nil), r.Keys...), Values: make(map[string]any, len(r.Values))}
	for _, k := range r.Keys {
		out.Values[k] = fn(r.Values[k])
	}
	return out
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := marshalNoEscape(r.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object while keeping its key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = Row{Values: map[string]any{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		r.Set(key, v)
	}
	_, err := dec.Token()
	return err
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
