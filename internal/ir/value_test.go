package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeName(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{nil, TypeNull},
		{Null{}, TypeNull},
		{String("x"), TypeString},
		{Number(1), TypeNumber},
		{Bool(true), TypeBoolean},
		{Date(time.Now()), TypeDate},
		{Array{}, TypeArray},
		{Object{}, TypeObject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeName(tt.value))
	}
}

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON([]byte(`{"n": 3, "f": 2.5, "s": "x", "b": true, "a": [1, null], "o": {}}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Number(3), obj["n"])
	assert.Equal(t, Number(2.5), obj["f"])
	assert.Equal(t, String("x"), obj["s"])
	assert.Equal(t, Bool(true), obj["b"])
	assert.Equal(t, Array{Number(1), Null{}}, obj["a"])
	assert.Equal(t, Object{}, obj["o"])
}

func TestParseObjectJSONRejectsNonObject(t *testing.T) {
	_, err := ParseObjectJSON([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	in := Object{
		"title": String("Draft"),
		"votes": Number(10),
		"tags":  Array{String("a"), String("b")},
		"gone":  Null{},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"gone":null,"tags":["a","b"],"title":"Draft","votes":10}`, string(data))

	var out Object
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, Equal(in, out))
}

func TestObjectGetAndHas(t *testing.T) {
	obj := Object{"a": Number(1), "b": Null{}}

	assert.Equal(t, Number(1), obj.Get("a"))
	assert.Equal(t, Null{}, obj.Get("b"))
	assert.Equal(t, Null{}, obj.Get("missing"))

	assert.True(t, obj.Has("a"))
	assert.False(t, obj.Has("b"))
	assert.False(t, obj.Has("missing"))
}

func TestObjectMergeDoesNotAlias(t *testing.T) {
	base := Object{"list": Array{Number(1)}, "state": String("off")}
	merged := base.Merge(Object{"state": String("on")})

	assert.Equal(t, String("off"), base["state"])
	assert.Equal(t, String("on"), merged["state"])

	merged["list"].(Array)[0] = Number(9)
	assert.Equal(t, Number(1), base["list"].(Array)[0])
}

func TestEqual(t *testing.T) {
	now := time.Now()
	assert.True(t, Equal(Null{}, nil))
	assert.True(t, Equal(Number(1), Number(1)))
	assert.False(t, Equal(Number(1), String("1")))
	assert.True(t, Equal(Date(now), Date(now.UTC())))
	assert.True(t, Equal(Array{String("a")}, Array{String("a")}))
	assert.False(t, Equal(Object{"a": Number(1)}, Object{"a": Number(2)}))
}

func TestFromAnyAndToAny(t *testing.T) {
	v, err := FromAny(map[string]any{"n": 1, "list": []any{"x", true}})
	require.NoError(t, err)
	assert.Equal(t, Object{"n": Number(1), "list": Array{String("x"), Bool(true)}}, v)

	back := ToAny(v)
	assert.Equal(t, map[string]any{"n": float64(1), "list": []any{"x", true}}, back)

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestPropertyChangeUnmarshal(t *testing.T) {
	var c PropertyChange
	require.NoError(t, json.Unmarshal([]byte(`{"property":"state","value":"on","previous":"off"}`), &c))
	assert.Equal(t, "state", c.Property)
	assert.Equal(t, String("on"), c.Value)
	assert.Equal(t, String("off"), c.Previous)
}
