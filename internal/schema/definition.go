package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Kind names the value type of a setting.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindChoice Kind = "choice"
	KindIP     Kind = "ip"
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindChoice, KindIP:
		return true
	}
	return false
}

// Definition declares one overridable setting.
//
// Invariants (enforced by Load):
//   - Name is non-empty and unique within its scope
//   - Default passes Clean
//   - Choices is non-empty for KindChoice
type Definition struct {
	Name     string
	Kind     Kind
	Default  any
	Label    string
	HelpText string
	Required bool
	Choices  []string
	MinValue *float64
	MaxValue *float64
	Regex    string

	re *regexp.Regexp
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s (%s, default=%v)", d.Name, d.Kind, d.Default)
}

// Coerce converts a decoded JSON or YAML value into the Go type of the setting:
// string for string/choice/ip, int for int, float64 for float and bool for bool.
// nil passes through untouched.
func (d *Definition) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch d.Kind {
	case KindInt:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindBool:
		return toBool(v)
	case KindIP:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("enter a valid IP address")
		}
		return addr.String(), nil
	default:
		return toString(v)
	}
}

// Clean coerces v and checks the declared constraints.
func (d *Definition) Clean(v any) (any, error) {
	value, err := d.Coerce(v)
	if err != nil {
		return nil, err
	}
	if value == nil || value == "" {
		if d.Required {
			return nil, fmt.Errorf("this field is required")
		}
		return value, nil
	}

	switch d.Kind {
	case KindInt:
		if err := d.checkRange(float64(value.(int))); err != nil {
			return nil, err
		}
	case KindFloat:
		if err := d.checkRange(value.(float64)); err != nil {
			return nil, err
		}
	case KindChoice:
		if !slices.Contains(d.Choices, value.(string)) {
			return nil, fmt.Errorf("select a valid choice, %q is not one of the available choices", value)
		}
	case KindString:
		if d.re != nil && !d.re.MatchString(value.(string)) {
			return nil, fmt.Errorf("enter a valid value")
		}
	}
	return value, nil
}

func (d *Definition) checkRange(f float64) error {
	if d.MinValue != nil && f < *d.MinValue {
		return fmt.Errorf("ensure this value is greater than or equal to %v", *d.MinValue)
	}
	if d.MaxValue != nil && f > *d.MaxValue {
		return fmt.Errorf("ensure this value is less than or equal to %v", *d.MaxValue)
	}
	return nil
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int64, float64, json.Number:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("enter a valid string")
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("enter a whole number")
		}
		return int(t), nil
	case json.Number:
		return toInt(t.String())
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("enter a whole number")
		}
		return n, nil
	}
	return 0, fmt.Errorf("enter a whole number")
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return toFloat(t.String())
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("enter a number")
		}
		return f, nil
	}
	return 0, fmt.Errorf("enter a number")
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("enter true or false")
		}
		return b, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	}
	return false, fmt.Errorf("enter true or false")
}
