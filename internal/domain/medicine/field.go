package medicine

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Field is a string value taken from an untrusted extraction envelope.
// It is either Present (the source held a JSON string) or Absent. The zero
// value is Absent.
type Field struct {
	value   string
	present bool
}

// Present wraps a known string value.
func Present(v string) Field { return Field{value: v, present: true} }

// Absent returns a Field with no value.
func Absent() Field { return Field{} }

// Get returns the raw value and whether it was present.
func (f Field) Get() (string, bool) { return f.value, f.present }

// Or returns the trimmed value, or def when the field is absent or blank.
func (f Field) Or(def string) string {
	if !f.present {
		return def
	}
	v := strings.TrimSpace(f.value)
	if v == "" {
		return def
	}
	return v
}

// UnmarshalJSON accepts any JSON value. Only strings become Present;
// null, numbers, booleans, arrays and objects decode as Absent.
func (f *Field) UnmarshalJSON(data []byte) error {
	*f = Field{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	*f = Present(s)
	return nil
}

// MarshalJSON writes null for Absent fields.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.present {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// RawNumber is an untrusted numeric value. JSON numbers and numeric strings
// are Present; anything else is Absent.
type RawNumber struct {
	value   float64
	present bool
}

// Number wraps a known numeric value.
func Number(v float64) RawNumber { return RawNumber{value: v, present: true} }

// Get returns the raw value and whether it was present.
func (n RawNumber) Get() (float64, bool) { return n.value, n.present }

// UnmarshalJSON never fails; unparseable input decodes as Absent.
func (n *RawNumber) UnmarshalJSON(data []byte) error {
	*n = RawNumber{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil && !math.IsInf(v, 0) {
		return nil
	}
	*n = Number(v)
	return nil
}

// MarshalJSON writes null for Absent values.
func (n RawNumber) MarshalJSON() ([]byte, error) {
	if !n.present || math.IsNaN(n.value) || math.IsInf(n.value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}
