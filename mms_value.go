package gateway

import (
	"fmt"
	"unicode"

	"github.com/spf13/cast"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func NewBoolean(b bool) *MmsValue {
	return &MmsValue{Type: Boolean, Value: b}
}

func NewInteger(i int64) *MmsValue {
	return &MmsValue{Type: Integer, Value: i}
}

func NewUnsigned(u uint64) *MmsValue {
	return &MmsValue{Type: Unsigned, Value: u}
}

func NewFloat(f float64) *MmsValue {
	return &MmsValue{Type: Float, Value: f}
}

func NewBitString(bits uint32) *MmsValue {
	return &MmsValue{Type: BitString, Value: bits}
}

func NewUTCTime(ts Timestamp) *MmsValue {
	return &MmsValue{Type: UTCTime, Value: ts}
}

func NewQuality(q Quality) *MmsValue {
	return NewBitString(uint32(q))
}

func NewString(s string) *MmsValue {
	return &MmsValue{Type: String, Value: s}
}

// NewVisibleString creates an MMS VisibleString. VisibleString is restricted to
// printable ISO 646 characters: diacritics are folded and remaining characters
// outside that range are replaced by '?'.
func NewVisibleString(s string) *MmsValue {
	return &MmsValue{Type: VisibleString, Value: toVisibleString(s)}
}

func toVisibleString(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r < 0x20 || r > 0x7e {
				return '?'
			}
			return r
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Bool returns the value as a boolean. Numeric values are true when non-zero.
func (v *MmsValue) Bool() (bool, error) {
	if v == nil {
		return false, fmt.Errorf("nil MmsValue")
	}
	return cast.ToBoolE(v.Value)
}

// Int64 returns the value as a signed integer.
func (v *MmsValue) Int64() (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("nil MmsValue")
	}
	if b, ok := v.Value.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return cast.ToInt64E(v.Value)
}

// Float64 returns the value as a float.
func (v *MmsValue) Float64() (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("nil MmsValue")
	}
	return cast.ToFloat64E(v.Value)
}

// Text returns the value as a string.
func (v *MmsValue) Text() (string, error) {
	if v == nil {
		return "", fmt.Errorf("nil MmsValue")
	}
	return cast.ToStringE(v.Value)
}

// Interface returns the plain Go value, unwrapping composite values recursively.
func (v *MmsValue) Interface() any {
	if v == nil {
		return nil
	}
	if children, ok := v.Value.([]*MmsValue); ok {
		out := make([]any, len(children))
		for i, c := range children {
			out[i] = c.Interface()
		}
		return out
	}
	return v.Value
}

// Equal reports whether two values have the same type and value.
func (v *MmsValue) Equal(o *MmsValue) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.Type != o.Type {
		return false
	}
	if v.Type == Array || v.Type == Structure {
		a, _ := v.Value.([]*MmsValue)
		b, _ := o.Value.([]*MmsValue)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	}
	return v.Value == o.Value
}

// ConvertValue coerces an arbitrary Go value into an MmsValue of type t.
func ConvertValue(t MmsType, value any) (*MmsValue, error) {
	switch t {
	case Boolean:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to Boolean: %w", value, err)
		}
		return NewBoolean(b), nil
	case Integer, Int8, Int16, Int32, Int64:
		if b, ok := value.(bool); ok {
			value = cast.ToInt64(b)
		}
		i, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to Integer: %w", value, err)
		}
		return NewInteger(i), nil
	case Unsigned, Uint8, Uint16, Uint32:
		u, err := cast.ToUint64E(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to Unsigned: %w", value, err)
		}
		return NewUnsigned(u), nil
	case Float:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to Float: %w", value, err)
		}
		return NewFloat(f), nil
	case VisibleString:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to VisibleString: %w", value, err)
		}
		return NewVisibleString(s), nil
	case String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to String: %w", value, err)
		}
		return NewString(s), nil
	case BitString:
		u, err := cast.ToUint32E(value)
		if err != nil {
			return nil, fmt.Errorf("convert %v to BitString: %w", value, err)
		}
		return NewBitString(u), nil
	default:
		return nil, fmt.Errorf("convert %v to %s: %w", value, t, ErrUnsupportedType)
	}
}
