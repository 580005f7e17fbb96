package workbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// MaxTextChars is the longest text, in characters, a cell can hold.
const MaxTextChars = excelize.TotalCellChars

// ErrTextTooLong is returned for text values longer than MaxTextChars.
var ErrTextTooLong = errors.New("text exceeds cell capacity")

// ValueKind discriminates the scalar held by a cell.
type ValueKind int

const (
	Empty ValueKind = iota
	Number
	Text
)

func (k ValueKind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	default:
		return "empty"
	}
}

// Value is a cell scalar. Formula cells are collapsed to their evaluated result.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
}

// Check reports whether v can be stored in a cell without loss.
func (v Value) Check() error {
	if v.Kind == Text {
		if n := utf8.RuneCountInString(v.Text); n > MaxTextChars {
			return fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, n, MaxTextChars)
		}
	}
	return nil
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value { return Value{Kind: Number, Number: f} }

// TextValue returns a text Value.
func TextValue(s string) Value { return Value{Kind: Text, Text: s} }

// IsEmpty reports whether the cell holds nothing.
func (v Value) IsEmpty() bool { return v.Kind == Empty }

// String renders the value the way it is written to the audit trail.
func (v Value) String() string {
	switch v.Kind {
	case Number:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case Text:
		return v.Text
	default:
		return ""
	}
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Number:
		return v.Number == o.Number
	case Text:
		return v.Text == o.Text
	default:
		return true
	}
}

// MarshalJSON renders numbers as JSON numbers, text as strings and empty as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Number:
		return []byte(v.String()), nil
	case Text:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON applies Coerce to the decoded JSON value.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = Coerce(raw)
	return nil
}

// CoerceString applies the write policy to a string input: empty clears the
// cell, a finite numeric string becomes a number, anything else is text.
func CoerceString(s string) Value {
	if s == "" {
		return Value{}
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return NumberValue(f)
	}
	return TextValue(s)
}

// Coerce normalises a boundary value. Numbers stay numeric, nil clears the
// cell, objects and arrays are stored as their JSON text and every other
// scalar goes through CoerceString.
func Coerce(in any) Value {
	switch x := in.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case string:
		return CoerceString(x)
	case json.Number:
		return CoerceString(x.String())
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return TextValue(strconv.FormatFloat(x, 'f', -1, 64))
		}
		return NumberValue(x)
	case float32:
		return Coerce(float64(x))
	case int:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case bool:
		return TextValue(strconv.FormatBool(x))
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return TextValue(fmt.Sprint(x))
		}
		return TextValue(string(b))
	default:
		return CoerceString(fmt.Sprint(x))
	}
}
