// ABOUTME: Generation engine abstraction for streaming and one-shot completion
// ABOUTME: Defines the chunk sequence contract the orchestrator consumes

package engine

import (
	"context"
	"errors"
)

// Engine errors
var (
	ErrUnavailable = errors.New("generation engine unavailable")
)

// Turn is one prior exchange element given to the engine as context.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request carries the prompt and conversation context for one generation.
type Request struct {
	Prompt  string
	History []Turn
}

// Result is the final outcome of a generation.
type Result struct {
	Text       string
	Model      string
	TokenCount int
}

// Chunk is one element of a streaming generation. Exactly one of the
// terminal fields is set on the last chunk: Final on success, Err on
// failure. Non-terminal chunks carry only Delta.
type Chunk struct {
	Delta string
	Final *Result
	Err   string
}

// Engine produces model completions. Stream returns an ordered channel of
// chunks terminated by a Final or Err chunk; the channel is closed after
// the terminal chunk. Generate is the non-streaming fallback.
type Engine interface {
	// IsAvailable reports whether the engine can currently serve requests.
	IsAvailable() bool

	// Stream starts a generation and returns the ordered chunk sequence.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Generate runs a generation to completion in one call.
	Generate(ctx context.Context, req Request) (*Result, error)
}
