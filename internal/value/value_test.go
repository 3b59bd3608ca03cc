package value_test

import (
	"testing"

	"github.com/spirali/orco/internal/value"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON5StripsCommentsAndTrailingCommas(t *testing.T) {
	src := []byte(`{
		// leading comment
		"n": 3, /* inline */
		"items": [1, 2, 3,],
		"nested": {"ok": true,},
	}`)
	v, err := value.ParseJSON5(src)
	require.NoError(t, err)

	n, ok := v.MustField("n").AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), n)

	items, ok := v.MustField("items").AsList()
	require.True(t, ok)
	assert.Len(t, items, 3)

	ok2, _ := v.MustField("nested").MustField("ok").AsBool()
	assert.True(t, ok2)
}

func TestParseJSON5DistinguishesIntFromFloat(t *testing.T) {
	v, err := value.ParseJSON5([]byte(`{"i": 3, "f": 3.0}`))
	require.NoError(t, err)
	assert.Equal(t, value.KindInt, v.MustField("i").Kind())
	assert.Equal(t, value.KindFloat, v.MustField("f").Kind())
}

func TestFromGoRejectsUnsupportedType(t *testing.T) {
	_, err := value.FromGo(make(chan int))
	require.Error(t, err)
	assert.True(t, orcoerr.Is(err, orcoerr.KindInvalidConfig))
}

func TestEqualIgnoresPrivateFields(t *testing.T) {
	a := value.Map(map[string]value.Value{"x": value.Int(1), "__note": value.String("a")})
	b := value.Map(map[string]value.Value{"x": value.Int(1), "__note": value.String("b")})
	assert.True(t, value.Equal(a, b))
}

func TestEncodeCommaTerminatesSortedKeys(t *testing.T) {
	v := value.Map(map[string]value.Value{"b": value.Int(2), "a": value.Int(1)})
	assert.Equal(t, `{"a":1,"b":2,}`, value.Encode(v))
}
