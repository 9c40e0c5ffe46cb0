package lazy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is the result of resolving a name: either a scalar setting value or a
// scoped view onto an app container.
type Value struct {
	raw    any
	scope  *Settings
	source string
}

// Raw returns the scalar value, or nil for a container.
func (v Value) Raw() any {
	return v.raw
}

// IsContainer reports whether the name resolved to an app container.
func (v Value) IsContainer() bool {
	return v.scope != nil
}

// Scope returns the container view, or nil for scalars.
func (v Value) Scope() *Settings {
	return v.scope
}

// Source names the layer that produced the value (see the metrics Source*
// constants).
func (v Value) Source() string {
	return v.source
}

func (v Value) String() string {
	if v.scope != nil {
		return fmt.Sprintf("Settings(%s)", v.scope.prefix)
	}
	if v.raw == nil {
		return ""
	}
	return fmt.Sprint(v.raw)
}

func (v Value) Int() (int, bool) {
	switch n := v.raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (v Value) Float() (float64, bool) {
	switch n := v.raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (v Value) Bool() (bool, bool) {
	switch b := v.raw.(type) {
	case bool:
		return b, true
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed, true
		}
	}
	return false, false
}
