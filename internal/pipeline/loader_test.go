package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/pipeline"
)

func TestLoad_ParsesStepsAndMetadata(t *testing.T) {
	yamlDoc := []byte(`
pipeline:
  - name: read_file
    config:
      path: /tmp/in.json
    retry_attempts: 2
  - name: parse_json
    id: parser
    continue_on_error: true
    timeout_seconds: 30
metadata:
  name: demo
  version: "1.0"
`)

	decl, err := pipeline.Load(yamlDoc)
	require.NoError(t, err)
	require.Len(t, decl.Pipeline, 2)

	assert.Equal(t, "read_file", decl.Pipeline[0].Name)
	assert.Equal(t, "read_file", decl.Pipeline[0].StepID())
	assert.EqualValues(t, 2, decl.Pipeline[0].RetryAttempts)

	assert.Equal(t, "parser", decl.Pipeline[1].StepID())
	assert.True(t, decl.Pipeline[1].ContinueOnError)
	require.NotNil(t, decl.Pipeline[1].TimeoutSeconds)
	assert.EqualValues(t, 30, *decl.Pipeline[1].TimeoutSeconds)

	require.NotNil(t, decl.Metadata)
	assert.Equal(t, "demo", decl.Metadata.Name)
}

func TestLoad_MissingNameIsError(t *testing.T) {
	_, err := pipeline.Load([]byte(`
pipeline:
  - config:
      path: /tmp
`))
	require.Error(t, err)
}

func TestLoad_DefaultsContinueOnErrorFalseAndRetryZero(t *testing.T) {
	decl, err := pipeline.Load([]byte(`
pipeline:
  - name: read_file
`))
	require.NoError(t, err)
	step := decl.Pipeline[0]
	assert.False(t, step.ContinueOnError)
	assert.EqualValues(t, 0, step.RetryAttempts)
	assert.Nil(t, step.TimeoutSeconds)
}
