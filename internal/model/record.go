package model

import (
	"bytes"
	"encoding/json"
)

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is the validated result of extracting one document.
// Field order follows the schema declaration order.
//
// Values are nil, string, int64, float64, bool, *Record or slices of them.
type Record struct {
	// Stage is the name of the stage that produced the record.
	Stage string
	// URL is the address of the source document.
	URL string

	fields []Field
	index  map[string]int
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{index: make(map[string]int)}
}

// Set assigns name, appending it if it is new.
func (r *Record) Set(name string, value any) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// Get returns the value of name.
func (r *Record) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Fields returns the fields in declaration order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Map converts the record to plain maps, recursing into nested records.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		m[f.Name] = plain(f.Value)
	}
	return m
}

func plain(v any) any {
	switch t := v.(type) {
	case *Record:
		if t == nil {
			return nil
		}
		return t.Map()
	case []*Record:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = plain(r)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the record as an object preserving field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
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
