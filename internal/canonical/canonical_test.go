package canonical

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bag map[string]any

type rawTTL float64

func (r rawTTL) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"Infinity"`), nil
	}
	return json.Marshal(float64(r))
}

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"uint", uint32(7), "7"},
		{"bool", true, "true"},
		{"integral float", 5.0, "5"},
		{"fraction", 2.5, "2.5"},
		{"large float", 1e21, "1e+21"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array", []any{1, "a", false}, `[1,"a",false]`},
		{"typed slice", []string{"x", "y"}, `["x","y"]`},
		{"named map", bag{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"json number", json.Number("12"), "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshal_SortedNestedKeys(t *testing.T) {
	obj := map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": 3,
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshal_UTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	result, err := Marshal("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(result))
}

func TestMarshal_NFCNormalization(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := Marshal(decomposed)
	require.NoError(t, err)
	b, err := Marshal(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshal_LineSeparatorsUnescaped(t *testing.T) {
	result, err := Marshal("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(result))

	result, err = Marshal(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(result), "literal backslash text stays escaped")
}

func TestMarshal_Marshaler(t *testing.T) {
	result, err := Marshal(map[string]any{"ttl": rawTTL(math.Inf(1)), "n": rawTTL(5)})
	require.NoError(t, err)
	assert.Equal(t, `{"n":5,"ttl":"Infinity"}`, string(result))
}

func TestMarshal_Errors(t *testing.T) {
	_, err := Marshal(math.Inf(1))
	assert.Error(t, err)

	_, err = Marshal(math.NaN())
	assert.Error(t, err)

	_, err = Marshal(map[int]any{1: 1})
	assert.Error(t, err)

	_, err = Marshal(struct{ A int }{1})
	assert.Error(t, err)

	_, err = Marshal(map[string]any{"bad": math.NaN()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestMarshal_Deterministic(t *testing.T) {
	obj := map[string]any{"c": 1, "b": []any{map[string]any{"y": 1, "x": 2}}, "a": nil}

	first, err := Marshal(obj)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
