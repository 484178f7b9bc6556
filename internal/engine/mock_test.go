// ABOUTME: Tests for the scripted engine used across the test suite
// ABOUTME: Verifies chunk ordering, terminal chunks, and unavailability

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptText_StreamsInOrder(t *testing.T) {
	eng := ScriptText("test-model", "The fine ", "is Rs. 1000.")

	ch, err := eng.Stream(context.Background(), Request{Prompt: "helmet fine?"})
	require.NoError(t, err)

	var deltas []string
	var final *Result
	for chunk := range ch {
		if chunk.Final != nil {
			final = chunk.Final
			continue
		}
		deltas = append(deltas, chunk.Delta)
	}

	assert.Equal(t, []string{"The fine ", "is Rs. 1000."}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "The fine is Rs. 1000.", final.Text)
	assert.Equal(t, "test-model", final.Model)
}

func TestScriptError_TerminatesWithError(t *testing.T) {
	eng := ScriptError("model overloaded", "partial ")

	ch, err := eng.Stream(context.Background(), Request{})
	require.NoError(t, err)

	var last Chunk
	for chunk := range ch {
		last = chunk
	}
	assert.Equal(t, "model overloaded", last.Err)
}

func TestScripted_Unavailable(t *testing.T) {
	eng := &Scripted{Unavailable: true}
	assert.False(t, eng.IsAvailable())

	_, err := eng.Stream(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = eng.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestScripted_Generate(t *testing.T) {
	eng := ScriptText("test-model", "full answer")

	result, err := eng.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "full answer", result.Text)
}
