// Package value implements the recursive Config value model: the
// string/int/float/bool/list/map sum type that every builder config and
// canonical key is built from (spec §3.1, §4.A, §9 "Dynamic config dicts").
package value

import (
	"fmt"
	"sort"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable node of the recursive config tree. Zero value is
// not meaningful; construct with the String/Int/Float/Bool/List/Map
// functions below.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	list []Value
	m    map[string]Value
	keys []string // insertion order, preserved for sequence-like reporting
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map builds a mapping value from a Go map, recording key order as the
// sorted order (callers that care about insertion order should use
// MapOrdered).
func Map(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp, keys: keys}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Field fetches a mapping field by name; ok is false if v is not a map or
// the field is absent.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// MustField is Field but panics on a missing/wrong-kind value; builders use
// it for required config fields they've already validated exist.
func (v Value) MustField(name string) Value {
	f, ok := v.Field(name)
	if !ok {
		panic(fmt.Sprintf("value: missing required config field %q", name))
	}
	return f
}

// Equal reports deep structural equality, ignoring __-prefixed private
// fields exactly like canonical encoding does (so two configs that differ
// only in metadata hash and compare equal).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindBool:
		return a.b == b.b
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		ak := publicKeys(a.m)
		bk := publicKeys(b.m)
		if len(ak) != len(bk) {
			return false
		}
		for _, k := range ak {
			bv, ok := b.m[k]
			if !ok || !Equal(a.m[k], bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func publicKeys(m map[string]Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if len(k) >= 2 && k[0] == '_' && k[1] == '_' {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
