package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSON_InfersTopLevelSchema(t *testing.T) {
	e := FromJSON(map[string]any{
		"name":   "reader",
		"size":   float64(1024),
		"active": true,
	})

	require.Equal(t, KindJSON, e.Kind)
	require.Contains(t, e.Schema, "name")
	assert.Equal(t, TypeString, e.Schema["name"].Type)
	assert.Equal(t, TypeInteger, e.Schema["size"].Type)
	assert.Equal(t, TypeBoolean, e.Schema["active"].Type)
}

func TestIsBatch(t *testing.T) {
	single := FromJSON(map[string]any{"a": 1})
	assert.False(t, single.IsBatch())

	one := FromJSON([]any{map[string]any{"a": 1}})
	assert.False(t, one.IsBatch())

	many := FromJSON([]any{1, 2, 3})
	assert.True(t, many.IsBatch())
	assert.Equal(t, 3, many.BatchSize())
}

func TestAsArray_WrapsSingleObject(t *testing.T) {
	e := FromJSON(map[string]any{"a": 1})
	arr, err := e.AsArray()
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.Equal(t, map[string]any{"a": 1}, arr[0])
}

func TestAsArray_PassesThroughExistingArray(t *testing.T) {
	e := FromJSON([]any{1, 2})
	arr, err := e.AsArray()
	require.NoError(t, err)
	assert.Len(t, arr, 2)
}

func TestAsArray_RejectsNonJSON(t *testing.T) {
	e := FromText("hi")
	_, err := e.AsArray()
	assert.Error(t, err)
}

func TestConversions_TextBinaryRoundTrip(t *testing.T) {
	e := FromText("hello")
	b, err := e.ToBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestConversions_EmptyIsZeroValue(t *testing.T) {
	e := Empty()
	text, err := e.ToText()
	require.NoError(t, err)
	assert.Equal(t, "", text)

	bin, err := e.ToBinary()
	require.NoError(t, err)
	assert.Nil(t, bin)
}

func TestCanonicalYAML_TrimsTrailingWhitespace(t *testing.T) {
	e := FromJSON(map[string]any{"a": 1})
	out, err := e.CanonicalYAML()
	require.NoError(t, err)
	assert.NotContains(t, out, "\n\n")
	assert.Equal(t, len(out), len(trimTrailing(out)))
}

func TestBatchSize_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, Empty().BatchSize())
}
