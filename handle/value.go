package handle

import (
	"database/sql/driver"
	"strconv"
	"strings"
	"time"
)

// ColumnType enumerates the engine's dynamic per-cell types.
type ColumnType int

const (
	ColumnTypeNull ColumnType = iota
	ColumnTypeInteger32
	ColumnTypeInteger64
	ColumnTypeFloat
	ColumnTypeText
	ColumnTypeBLOB
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeNull:
		return "null"
	case ColumnTypeInteger32:
		return "integer32"
	case ColumnTypeInteger64:
		return "integer64"
	case ColumnTypeFloat:
		return "float"
	case ColumnTypeText:
		return "text"
	case ColumnTypeBLOB:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over the engine's dynamic cell types. Its
// accessors coerce between types on a best-effort basis, mirroring the
// engine's own column coercion rules: a type-mismatched read yields the
// closest representable value, never an error.
type Value struct {
	t ColumnType
	i int64
	f float64
	s string
	b []byte
}

// NullValue returns the NULL Value.
func NullValue() Value { return Value{t: ColumnTypeNull} }

// Int32Value returns an Integer32 Value.
func Int32Value(v int32) Value { return Value{t: ColumnTypeInteger32, i: int64(v)} }

// Int64Value returns an Integer64 Value.
func Int64Value(v int64) Value { return Value{t: ColumnTypeInteger64, i: v} }

// FloatValue returns a Float Value.
func FloatValue(v float64) Value { return Value{t: ColumnTypeFloat, f: v} }

// TextValue returns a Text Value.
func TextValue(v string) Value { return Value{t: ColumnTypeText, s: v} }

// BlobValue returns a BLOB Value.
func BlobValue(v []byte) Value { return Value{t: ColumnTypeBLOB, b: v} }

// valueOf maps a driver-level dynamic value onto a Value.
func valueOf(v driver.Value) Value {
	switch v := v.(type) {
	case nil:
		return NullValue()
	case int64:
		return Int64Value(v)
	case float64:
		return FloatValue(v)
	case bool:
		if v {
			return Int64Value(1)
		}
		return Int64Value(0)
	case string:
		return TextValue(v)
	case []byte:
		return BlobValue(v)
	case time.Time:
		return TextValue(v.Format(time.RFC3339Nano))
	default:
		return NullValue()
	}
}

// Type returns the Value's tag.
func (v Value) Type() ColumnType { return v.t }

// IsNull returns whether the Value is NULL.
func (v Value) IsNull() bool { return v.t == ColumnTypeNull }

// Int64 coerces the Value to an int64.
func (v Value) Int64() int64 {
	switch v.t {
	case ColumnTypeInteger32, ColumnTypeInteger64:
		return v.i
	case ColumnTypeFloat:
		return int64(v.f)
	case ColumnTypeText:
		return parseInt(v.s)
	case ColumnTypeBLOB:
		return parseInt(string(v.b))
	default:
		return 0
	}
}

// Int32 coerces the Value to an int32.
func (v Value) Int32() int32 { return int32(v.Int64()) }

// Float coerces the Value to a float64.
func (v Value) Float() float64 {
	switch v.t {
	case ColumnTypeInteger32, ColumnTypeInteger64:
		return float64(v.i)
	case ColumnTypeFloat:
		return v.f
	case ColumnTypeText:
		return parseFloat(v.s)
	case ColumnTypeBLOB:
		return parseFloat(string(v.b))
	default:
		return 0
	}
}

// Text coerces the Value to a string.
func (v Value) Text() string {
	switch v.t {
	case ColumnTypeInteger32, ColumnTypeInteger64:
		return strconv.FormatInt(v.i, 10)
	case ColumnTypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ColumnTypeText:
		return v.s
	case ColumnTypeBLOB:
		return string(v.b)
	default:
		return ""
	}
}

// Blob coerces the Value to a byte slice.
func (v Value) Blob() []byte {
	switch v.t {
	case ColumnTypeText:
		return []byte(v.s)
	case ColumnTypeBLOB:
		return v.b
	case ColumnTypeNull:
		return nil
	default:
		return []byte(v.Text())
	}
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	// Integer prefix, as the engine would parse "123abc" or "1.5".
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	var end int
	for end < len(s) && (s[end] == '-' || s[end] == '+' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	if i, err := strconv.ParseInt(s[:end], 10, 64); err == nil {
		return i
	}
	return 0
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return float64(parseInt(s))
}
