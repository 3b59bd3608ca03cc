package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseJSON5 accepts the CLI's JSON5-flavored config literal (spec §6):
// standard JSON plus `//` and `/* */` comments and trailing commas before
// a closing `]`/`}`. No pack repo carries a JSON5 grammar dependency, so
// this is a small textual preprocessor feeding encoding/json (DESIGN.md:
// stdlib-only, justified).
func ParseJSON5(src []byte) (Value, error) {
	cleaned := stripJSON5(src)
	dec := json.NewDecoder(bytes.NewReader(cleaned))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("parsing config: %w", err)
	}
	return FromGo(normalizeNumbers(raw))
}

// normalizeNumbers rewrites json.Number leaves into the Number marker type
// FromGo understands, recursing through maps/slices.
func normalizeNumbers(in any) any {
	switch t := in.(type) {
	case json.Number:
		return Number(t.String())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = normalizeNumbers(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalizeNumbers(v)
		}
		return out
	default:
		return in
	}
}

// stripJSON5 removes // and /* */ comments and trailing commas before a
// closing bracket/brace, respecting string literals (including escaped
// quotes) so it never mangles a comment-looking substring inside a string.
func stripJSON5(src []byte) []byte {
	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			out.WriteByte('\n')
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i++ // land on the '/'
		case c == ',':
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == ']' || src[j] == '}') {
				// drop the trailing comma
				continue
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
