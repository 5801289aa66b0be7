package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PathToken is the placeholder name substituted with a theme's asset directory.
const PathToken = "path"

// Decode reads a theme document without substituting $path.
func Decode(r io.Reader) (*Map, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrParse)
		}
		return nil, parseError(dec, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: root must be an object", ErrParse)
	}

	m, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data at offset %d", ErrParse, dec.InputOffset())
	}
	return m, nil
}

// Parse reads a theme document and substitutes $path with base in every string.
func Parse(r io.Reader, base string) (*Map, error) {
	m, err := Decode(r)
	if err != nil {
		return nil, err
	}
	substituteMap(m, base)
	return m, nil
}

func parseError(dec *json.Decoder, err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Errorf("%w: offset %d: %v", ErrParse, syn.Offset, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected end of document", ErrParse)
	}
	return fmt.Errorf("%w: offset %d: %v", ErrParse, dec.InputOffset(), err)
}

func decodeObject(dec *json.Decoder) (*Map, error) {
	m := NewMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseError(dec, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: offset %d: object key is not a string", ErrParse, dec.InputOffset())
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, parseError(dec, err)
	}
	return m, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, parseError(dec, err)
	}
	return out, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, parseError(dec, err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("%w: offset %d: unexpected %q", ErrParse, dec.InputOffset(), string(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: bad number %s", ErrParse, dec.InputOffset(), t)
		}
		return f, nil
	case string, bool, nil:
		return t, nil
	}
	return nil, fmt.Errorf("%w: offset %d: unexpected token %v", ErrParse, dec.InputOffset(), tok)
}

func substituteMap(m *Map, base string) {
	for _, k := range m.keys {
		m.values[k] = substituteValue(m.values[k], base)
	}
}

func substituteValue(v any, base string) any {
	switch t := v.(type) {
	case string:
		return Substitute(t, base)
	case *Map:
		substituteMap(t, base)
		return t
	case []any:
		for i := range t {
			t[i] = substituteValue(t[i], base)
		}
		return t
	default:
		return v
	}
}

// Substitute replaces $path and ${path} in s with base. "$$" collapses to a
// single "$"; any other placeholder, such as $channel, is left as written.
func Substitute(s, base string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(base))
	for i := 0; i < len(s); {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}

		rest := s[i+1:]
		switch {
		case strings.HasPrefix(rest, "$"):
			b.WriteByte('$')
			i += 2
		case strings.HasPrefix(rest, "{"):
			end := strings.IndexByte(rest, '}')
			if end > 1 && identLen(rest[1:end]) == end-1 {
				if rest[1:end] == PathToken {
					b.WriteString(base)
				} else {
					b.WriteString(s[i : i+2+end])
				}
				i += 2 + end
				continue
			}
			b.WriteByte('$')
			i++
		default:
			n := identLen(rest)
			if n == 0 {
				b.WriteByte('$')
				i++
				continue
			}
			if rest[:n] == PathToken {
				b.WriteString(base)
			} else {
				b.WriteString(s[i : i+1+n])
			}
			i += 1 + n
		}
	}
	return b.String()
}

// identLen returns the length of the placeholder identifier at the start of s.
func identLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return i
		}
	}
	return len(s)
}
