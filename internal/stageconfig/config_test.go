package stageconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetString(t *testing.T) {
	c := Config{"path": "/tmp/x"}
	v, err := c.GetString("path")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", v)

	_, err = c.GetString("missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGetBool_Coercion(t *testing.T) {
	c := Config{"a": "yes", "b": "0", "c": true, "d": "maybe"}
	a, err := c.GetBool("a")
	require.NoError(t, err)
	assert.True(t, a)

	b, err := c.GetBool("b")
	require.NoError(t, err)
	assert.False(t, b)

	cv, err := c.GetBool("c")
	require.NoError(t, err)
	assert.True(t, cv)

	_, err = c.GetBool("d")
	var wt *WrongTypeError
	assert.ErrorAs(t, err, &wt)
}

func TestGetBoolOr_DefaultsOnMissing(t *testing.T) {
	c := Config{}
	assert.True(t, c.GetBoolOr("x", true))
	assert.False(t, c.GetBoolOr("x", false))
}

func TestGetNumber_FromString(t *testing.T) {
	c := Config{"n": "42.5"}
	n, err := c.GetNumber("n")
	require.NoError(t, err)
	assert.Equal(t, 42.5, n)
}

func TestGetIntOr(t *testing.T) {
	c := Config{"n": float64(7)}
	assert.Equal(t, 7, c.GetIntOr("n", 0))
	assert.Equal(t, 3, c.GetIntOr("missing", 3))
}

func TestGetMapping_AcceptsPlainMap(t *testing.T) {
	c := Config{"opts": map[string]any{"x": 1}}
	m, err := c.GetMapping("opts")
	require.NoError(t, err)
	assert.Equal(t, 1, m["x"])
}

func TestGetSequence(t *testing.T) {
	c := Config{"items": []any{"a", "b"}}
	seq, err := c.GetSequence("items")
	require.NoError(t, err)
	assert.Len(t, seq, 2)
}
