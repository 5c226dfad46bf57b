package event_test

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/event"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestNDJSONEmitter_EmitsOneJSONLinePerEvent(t *testing.T) {
	out := captureStdout(t, func() {
		e := event.NewNDJSONEmitter()
		e.Emit(event.Event{PipelineID: "p1", StepID: "s1", State: event.StateStarted, Timestamp: time.Now()})
		e.Emit(event.Event{PipelineID: "p1", StepID: "s1", State: event.StateCompleted, Timestamp: time.Now()})
	})

	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "p1", decoded.PipelineID)
	assert.Equal(t, event.StateStarted, decoded.State)
}

func TestProgressOnlyEmitter_SuppressesJSON(t *testing.T) {
	out := captureStdout(t, func() {
		e := event.NewProgressOnlyEmitter()
		e.Emit(event.Event{PipelineID: "p1", State: event.StateStarted, Timestamp: time.Now()})
	})
	assert.Empty(t, out)
}

func TestNDJSONEmitter_ConcurrentEmitIsSafe(t *testing.T) {
	e := event.NewNDJSONEmitter()
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			e.Emit(event.Event{PipelineID: "p1", State: event.StateRunning, Timestamp: time.Now()})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
