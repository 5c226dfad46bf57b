package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/envelope"
)

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("BASE_PATH", "/data")

	r := New()
	out, err := r.ResolveValue("${BASE_PATH}/input.json")
	require.NoError(t, err)
	assert.Equal(t, "/data/input.json", out)
}

func TestEnvDefault(t *testing.T) {
	r := New()
	out, err := r.ResolveValue("${MISSING_VAR:-x}/y")
	require.NoError(t, err)
	assert.Equal(t, "x/y", out)
}

func TestEnvMissingNoDefault(t *testing.T) {
	r := New()
	_, err := r.ResolveValue("${DEFINITELY_MISSING_VAR}")
	var notFound *EnvVarNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStageReference(t *testing.T) {
	r := New()
	r.AddStepOutput("reader", envelope.FromJSON(map[string]any{
		"metadata": map[string]any{
			"path": "/some/file.json",
			"size": float64(1024),
		},
	}))

	out, err := r.ResolveValue("Out: ${reader.metadata.path}")
	require.NoError(t, err)
	assert.Equal(t, "Out: /some/file.json", out)

	out, err = r.ResolveValue("Size: ${reader.metadata.size}")
	require.NoError(t, err)
	assert.Equal(t, "Size: 1024", out)
}

func TestStepReferenceMissingStep(t *testing.T) {
	r := New()
	_, err := r.ResolveValue("${ghost.field}")
	var notFound *StepNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveValue_TraversesNestedStructures(t *testing.T) {
	t.Setenv("BASE_PATH", "/data")
	r := New()

	in := map[string]any{
		"input": map[string]any{
			"path": "${BASE_PATH}/input.json",
			"options": map[string]any{
				"format": "json",
			},
		},
		"list": []any{"${BASE_PATH}/a", "${BASE_PATH}/b"},
	}

	out, err := r.ResolveValue(in)
	require.NoError(t, err)

	m := out.(map[string]any)
	input := m["input"].(map[string]any)
	assert.Equal(t, "/data/input.json", input["path"])

	list := m["list"].([]any)
	assert.Equal(t, "/data/a", list[0])
	assert.Equal(t, "/data/b", list[1])
}

func TestResolveValue_NonStringScalarsUnchanged(t *testing.T) {
	r := New()
	out, err := r.ResolveValue(float64(42))
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)

	out, err = r.ResolveValue(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolveString_IdempotentWhenNoReferences(t *testing.T) {
	r := New()
	out, err := r.resolveString("plain text, no refs")
	require.NoError(t, err)
	assert.Equal(t, "plain text, no refs", out)

	again, err := r.resolveString(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestEnvVars_CachedValueTakesPrecedence(t *testing.T) {
	t.Setenv("SHARED_VAR", "from-env")
	r := New()
	r.CacheEnvVar("SHARED_VAR", "from-cache")

	out, err := r.ResolveValue("${SHARED_VAR}")
	require.NoError(t, err)
	assert.Equal(t, "from-cache", out)
}

func TestMultipleReferences_RightToLeftSubstitution(t *testing.T) {
	t.Setenv("A", "1")
	t.Setenv("B", "22")
	r := New()

	out, err := r.ResolveValue("${A}-${B}-${A}")
	require.NoError(t, err)
	assert.Equal(t, "1-22-1", out)
}
