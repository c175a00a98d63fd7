package sheet

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind enumerates the scalar kinds a sheet cell can hold.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// Value is a closed scalar variant: string, number, boolean, timestamp, or
// null. Keeping the sum closed is what makes hashing and serialization
// deterministic.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

func Null() Value                 { return Value{Kind: KindNull} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value      { return Value{Kind: KindNumber, Num: n} }
func Boolean(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// IsBlank reports whether the value is null or an empty string after
// trimming. Blank cells and missing cells are treated alike.
func (v Value) IsBlank() bool {
	if v.Kind == KindNull {
		return true
	}
	return v.Kind == KindString && trimmed(v.Str) == ""
}

// Text renders the value as a display string. Numbers use the shortest
// representation that round-trips; timestamps are UTC RFC 3339.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// MarshalJSON encodes the value as its plain JSON scalar. Timestamps encode
// as UTC RFC 3339 strings so the wire form stays inside the JSON scalar set.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.UTC().Format(time.RFC3339))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar into a Value. JSON strings stay
// strings; timestamp detection is the normalizer's job, not the codec's.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(x)
	case float64:
		*v = Number(x)
	case bool:
		*v = Boolean(x)
	default:
		*v = String(string(data))
	}
	return nil
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
