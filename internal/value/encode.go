package value

import (
	"sort"
	"strconv"
	"strings"
)

// Encode writes the canonical textual encoding of v (spec §4.A): mapping
// keys sorted ascending, __-prefixed keys skipped, sequences preserve
// position, every container element is comma-terminated, scalars use the
// language's unambiguous literal form.
func Encode(v Value) string {
	var b strings.Builder
	encode(&b, v)
	return b.String()
}

func encode(b *strings.Builder, v Value) {
	switch v.kind {
	case KindString:
		b.WriteString(strconv.Quote(v.str))
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindList:
		b.WriteByte('[')
		for _, item := range v.list {
			encode(b, item)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteByte('{')
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			if strings.HasPrefix(k, "__") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			encode(b, v.m[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	}
}
