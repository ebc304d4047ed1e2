package row

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// Kind tags the type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindDate
	KindDateTime
)

// String returns the name of the kind. It is used in log fields and error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// IsTemporal reports whether values of this kind carry a time.
func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindDateTime
}

const (
	dateLayout          = "2006-01-02"
	dateTimeLayout      = "2006-01-02T15:04:05"
	dateTimeMicroLayout = "2006-01-02T15:04:05.000000"
)

// Value is a single column value read from the source. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	raw  []byte
	t    time.Time
}

func Null() Value                { return Value{} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Bytes(b []byte) Value       { return Value{kind: KindBytes, raw: b} }
func Date(t time.Time) Value     { return Value{kind: KindDate, t: t} }
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) Time() time.Time  { return v.t }
func (v Value) Int64() int64     { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Boolean() bool    { return v.b }
func (v Value) Raw() []byte      { return v.raw }

// FromAny converts a value produced by a database/sql driver into a Value.
func FromAny(in any) (Value, error) {
	switch v := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case string:
		return String(v), nil
	case []byte:
		// Drivers reuse scan buffers, so keep our own copy.
		cp := make([]byte, len(v))
		copy(cp, v)
		return Bytes(cp), nil
	case int64:
		return Int(v), nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return String(strconv.FormatUint(v, 10)), nil
		}
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(float64(v)), nil
	case bool:
		return Bool(v), nil
	case time.Time:
		return DateTime(v), nil
	default:
		return Value{}, fmt.Errorf("row: unsupported value type %T", in)
	}
}

// String returns the textual form of the value. Temporal values render as ISO-8601, null renders as "".
// This is the form persisted as a checkpoint.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindBytes:
		return string(v.raw)
	case KindDate:
		return v.t.Format(dateLayout)
	case KindDateTime:
		return formatDateTime(v.t)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindBytes:
		return string(v.raw) == string(o.raw)
	default:
		return v.t.Equal(o.t)
	}
}

// MarshalJSON encodes the value for transport. Bytes that are not valid UTF-8 use the PostgREST bytea hex form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("row: cannot encode float %v as JSON", v.f)
		}
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindBytes:
		if utf8.Valid(v.raw) {
			return json.Marshal(string(v.raw))
		}
		return json.Marshal(`\x` + hex.EncodeToString(v.raw))
	default:
		return json.Marshal(v.String())
	}
}

// formatDateTime renders t as ISO-8601. Microseconds are only shown when non-zero and
// the offset is omitted for UTC values.
func formatDateTime(t time.Time) string {
	layout := dateTimeLayout
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		layout = dateTimeMicroLayout
	}
	out := t.Format(layout)
	if _, offset := t.Zone(); offset != 0 {
		out += t.Format("-07:00")
	}
	return out
}
