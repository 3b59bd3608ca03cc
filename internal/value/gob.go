package value

import (
	"bytes"
	"encoding/gob"
)

// gobValue mirrors Value with exported fields so encoding/gob can walk it;
// Value itself keeps its fields private to stay an immutable sum type.
type gobValue struct {
	Kind Kind
	Str  string
	I    int64
	F    float64
	B    bool
	List []gobValue
	M    map[string]gobValue
}

func toGob(v Value) gobValue {
	g := gobValue{Kind: v.kind, Str: v.str, I: v.i, F: v.f, B: v.b}
	if v.list != nil {
		g.List = make([]gobValue, len(v.list))
		for i, e := range v.list {
			g.List[i] = toGob(e)
		}
	}
	if v.m != nil {
		g.M = make(map[string]gobValue, len(v.m))
		for k, e := range v.m {
			g.M[k] = toGob(e)
		}
	}
	return g
}

func fromGob(g gobValue) Value {
	v := Value{kind: g.Kind, str: g.Str, i: g.I, f: g.F, b: g.B}
	if g.List != nil {
		v.list = make([]Value, len(g.List))
		for i, e := range g.List {
			v.list[i] = fromGob(e)
		}
	}
	if g.M != nil {
		keys := make([]string, 0, len(g.M))
		v.m = make(map[string]Value, len(g.M))
		for k, e := range g.M {
			v.m[k] = fromGob(e)
			keys = append(keys, k)
		}
		v.keys = keys
	}
	return v
}

// EncodeGob renders v as the canonical blob encoding (mime
// "application/x-gob", spec §6 Design Note) for storage as a job's primary
// value or an attach_object attachment.
func EncodeGob(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGob(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeGob parses the application/x-gob encoding produced by EncodeGob.
func DecodeGob(data []byte) (Value, error) {
	var g gobValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return Value{}, err
	}
	return fromGob(g), nil
}

// MimeGob is the mime tag for the application/x-gob value encoding.
const MimeGob = "application/x-gob"
