package cell

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind discriminates the closed set of value shapes a cell can hold.
type Kind uint8

const (
	// KindAbsent marks a cell with no value. Reads of unknown cells and
	// formula inputs with no stored value produce Absent, never an error.
	KindAbsent Kind = iota
	KindNumber
	KindText
)

// Value is the opaque scalar stored in a cell. The engine never interprets
// it beyond equality (for dirty suppression) and numeric coercion (inside
// windowed sums). Numbers are exact decimals, so aggregation never drifts.
//
// The zero Value is Absent.
type Value struct {
	kind Kind
	num  decimal.Decimal
	text string
}

// None returns the Absent value.
func None() Value { return Value{} }

// Num wraps a decimal as a Number value.
func Num(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// NumInt wraps an int64 as a Number value.
func NumInt(n int64) Value { return Num(decimal.NewFromInt(n)) }

// NumFloat wraps a float64 as a Number value. The conversion is exact in
// the decimal sense (NewFromFloat), matching how JSON numbers arrive in Go.
func NumFloat(f float64) Value { return Num(decimal.NewFromFloat(f)) }

// Str wraps a string as a Text value.
func Str(s string) Value { return Value{kind: KindText, text: s} }

// Kind reports which case of the sum this value is.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is Absent.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Decimal returns the numeric payload. ok is false unless the value is a
// Number.
func (v Value) Decimal() (d decimal.Decimal, ok bool) {
	if v.kind != KindNumber {
		return decimal.Decimal{}, false
	}
	return v.num, true
}

// Text returns the string payload. ok is false unless the value is Text.
func (v Value) Text() (s string, ok bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// NumberOr returns the numeric payload, or fallback when the value is not
// a Number. Windowed sums read missing and non-numeric inputs as zero.
func (v Value) NumberOr(fallback decimal.Decimal) decimal.Decimal {
	if v.kind != KindNumber {
		return fallback
	}
	return v.num
}

// Equal reports whether two values are the same case with the same payload.
// Numbers compare by numeric value, so 1.0 equals 1.00.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Equal(o.num)
	case KindText:
		return v.text == o.text
	default:
		return true
	}
}

// String renders the value for logs and exports. Absent renders empty,
// Text renders verbatim and Numbers render in decimal notation.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindText:
		return v.text
	default:
		return ""
	}
}

// jsonValue is the persisted shape. Exactly one field is set; Absent is
// encoded as JSON null.
type jsonValue struct {
	N *decimal.Decimal `json:"n,omitempty"`
	S *string          `json:"s,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(jsonValue{N: &v.num})
	case KindText:
		return json.Marshal(jsonValue{S: &v.text})
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return fmt.Errorf("decode cell value: %w", err)
	}
	switch {
	case jv.N != nil:
		*v = Num(*jv.N)
	case jv.S != nil:
		*v = Str(*jv.S)
	default:
		*v = Value{}
	}
	return nil
}
