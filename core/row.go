package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Row is one materialized result row. It preserves column order for
// serialization and offers typed accessors with null safety, instead of
// a bare map.
type Row struct {
	columns []string
	values  map[string]interface{}
}

// NewRow builds a row from ordered column labels and their values.
func NewRow(columns []string, values []interface{}) Row {
	m := make(map[string]interface{}, len(columns))
	for i, c := range columns {
		if i < len(values) {
			m[c] = values[i]
		}
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return Row{columns: cols, values: m}
}

// Columns returns the column labels in result order.
func (r Row) Columns() []string { return r.columns }

// Len returns the column count.
func (r Row) Len() int { return len(r.columns) }

// Get returns the raw value for a column label.
func (r Row) Get(column string) (interface{}, bool) {
	v, ok := r.values[column]
	return v, ok
}

// String returns the column as a string, or "" for null/missing.
func (r Row) String(column string) string {
	v, ok := r.values[column]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int64 returns the column as an int64, or 0 for null/missing/mismatch.
func (r Row) Int64(column string) int64 {
	switch t := r.values[column].(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

// Float64 returns the column as a float64, or 0 for null/missing/mismatch.
func (r Row) Float64(column string) float64 {
	switch t := r.values[column].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

// Bool returns the column as a bool, or false for null/missing/mismatch.
func (r Row) Bool(column string) bool {
	switch t := r.values[column].(type) {
	case bool:
		return t
	case int64:
		return t != 0
	}
	return false
}

// Time returns the column as a time.Time, or the zero time.
func (r Row) Time(column string) time.Time {
	if t, ok := r.values[column].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Map returns a mapping view for callers that need one. The map is a
// copy; mutating it does not touch the row.
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// MarshalJSON renders the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		v := r.values[c]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a row from an object. Column order follows Go's
// JSON decoding of the object, which is sufficient for cached payload
// round-trips in tests.
func (r *Row) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("row: expected object")
	}

	r.columns = nil
	r.values = make(map[string]interface{})
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key := kt.(string)
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
		r.columns = append(r.columns, key)
		r.values[key] = v
	}
	_, err = dec.Token() // closing brace
	return err
}
