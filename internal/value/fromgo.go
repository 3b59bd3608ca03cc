package value

import (
	"fmt"

	orcoerr "github.com/spirali/orco/pkg/errors"
)

// FromGo converts a Go value shaped like the output of encoding/json's
// decode-into-interface{} (map[string]any, []any, string, bool,
// json.Number/float64/int64) into a Value, failing with InvalidConfig (spec
// §4.A) for any leaf, sequence item, or mapping key of an unsupported type.
func FromGo(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Value{}, orcoerr.New(orcoerr.KindInvalidConfig, "config leaf must not be nil")
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case Number:
		return t.toValue()
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("config sequence item %d: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("config field %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, orcoerr.New(orcoerr.KindInvalidConfig,
			fmt.Sprintf("unsupported config value type %T", in))
	}
}

// Number is a decode-time marker for a JSON number whose int-vs-float
// shape should be preserved losslessly (see json5.go, which decodes with
// json.Number and wraps values through this before calling FromGo).
type Number string

func (n Number) toValue() (Value, error) {
	if i, ok := asInt(string(n)); ok {
		return Int(i), nil
	}
	f, ok := asFloat(string(n))
	if !ok {
		return Value{}, orcoerr.New(orcoerr.KindInvalidConfig, "malformed numeric config literal: "+string(n))
	}
	return Float(f), nil
}
