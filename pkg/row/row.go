package row

import (
	"bytes"
	"encoding/json"
)

// Field is one named column of a Row.
type Field struct {
	Name  string
	Value Value
}

// Row is an ordered mapping from field name to Value. Field order follows the source select list.
type Row struct {
	fields []Field
}

func New(fields ...Field) Row {
	r := Row{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Get returns the value stored under name.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value stored under name, or appends the field if it is not present yet.
func (r *Row) Set(name string, v Value) {
	for i := range r.fields {
		if r.fields[i].Name == name {
			r.fields[i].Value = v
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

func (r Row) Len() int {
	return len(r.fields)
}

// Fields returns a copy of the row's fields in order.
func (r Row) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r Row) Names() []string {
	out := make([]string, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f.Name)
	}
	return out
}

// Equal reports whether both rows hold the same fields in the same order.
func (r Row) Equal(o Row) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].Name != o.fields[i].Name || !r.fields[i].Value.Equal(o.fields[i].Value) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a JSON object, keeping the field order.
func (r Row) MarshalJSON() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
