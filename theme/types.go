package theme

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrParse is returned when a theme document is not a well-formed JSON object.
	ErrParse = errors.New("malformed theme document")
	// ErrMissingKey is returned by accessors without a default when no theme in
	// the fallback chain defines the key.
	ErrMissingKey = errors.New("missing theme key")
	// ErrType is returned when a key exists but holds a value of the wrong shape.
	ErrType = errors.New("unexpected theme value type")
	// ErrUnknownTheme is returned when a theme name is not loaded.
	ErrUnknownTheme = errors.New("unknown theme")
	// ErrInheritCycle is returned when themes inherit from each other in a loop.
	ErrInheritCycle = errors.New("theme inheritance cycle")
	// ErrInvalid wraps every error-level validation issue.
	ErrInvalid = errors.New("invalid theme")
)

// Map is a JSON object that keeps its keys in document order.
//
// Values are one of string, int64, float64, bool, nil, []any or *Map.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in document order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set stores v under key. A new key is appended; an existing key keeps its position.
func (m *Map) Set(key string, v any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := &Map{
		keys:   make([]string, len(m.keys)),
		values: make(map[string]any, len(m.values)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Map:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two maps hold the same keys and values. Key order is
// not compared.
func (m *Map) Equal(other *Map) bool {
	return equalValue(m, other)
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case *Map:
		y, ok := b.(*Map)
		if !ok {
			return false
		}
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.values[k]
			if !ok || !equalValue(x.values[k], yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case int64:
		if y, ok := b.(float64); ok {
			return float64(x) == y
		}
		return a == b
	case float64:
		if y, ok := b.(int64); ok {
			return x == float64(y)
		}
		return a == b
	default:
		return a == b
	}
}

// MarshalJSON writes the map with its keys in document order.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object without $path substitution.
func (m *Map) UnmarshalJSON(b []byte) error {
	decoded, err := Decode(bytes.NewReader(b))
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}
