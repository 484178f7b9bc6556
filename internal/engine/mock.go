// ABOUTME: Scripted Engine implementation for testing
// ABOUTME: Emits a fixed chunk sequence with optional pacing

package engine

import (
	"context"
	"errors"
	"time"
)

// Scripted is an Engine that replays a fixed chunk sequence. Used by tests
// to exercise the orchestrator without a live model.
type Scripted struct {
	Unavailable bool
	Chunks      []Chunk
	ChunkDelay  time.Duration // pause before each chunk, for cancellation races
}

var _ Engine = (*Scripted)(nil)

// ScriptText builds a Scripted engine that streams the given deltas and
// finishes with their concatenation.
func ScriptText(model string, deltas ...string) *Scripted {
	chunks := make([]Chunk, 0, len(deltas)+1)
	var full string
	for _, d := range deltas {
		chunks = append(chunks, Chunk{Delta: d})
		full += d
	}
	chunks = append(chunks, Chunk{Final: &Result{Text: full, Model: model, TokenCount: EstimateTokens(full)}})
	return &Scripted{Chunks: chunks}
}

// ScriptError builds a Scripted engine that streams deltas then fails.
func ScriptError(reason string, deltas ...string) *Scripted {
	chunks := make([]Chunk, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, Chunk{Delta: d})
	}
	chunks = append(chunks, Chunk{Err: reason})
	return &Scripted{Chunks: chunks}
}

func (s *Scripted) IsAvailable() bool {
	return !s.Unavailable
}

func (s *Scripted) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if s.Unavailable {
		return nil, ErrUnavailable
	}

	// Buffered so an abandoned consumer never strands this goroutine
	out := make(chan Chunk, len(s.Chunks)+1)
	go func() {
		defer close(out)
		for _, chunk := range s.Chunks {
			if s.ChunkDelay > 0 {
				select {
				case <-time.After(s.ChunkDelay):
				case <-ctx.Done():
					out <- Chunk{Err: ctx.Err().Error()}
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err().Error()}
				return
			}
		}
	}()
	return out, nil
}

func (s *Scripted) Generate(ctx context.Context, req Request) (*Result, error) {
	if s.Unavailable {
		return nil, ErrUnavailable
	}
	for _, chunk := range s.Chunks {
		if chunk.Final != nil {
			return chunk.Final, nil
		}
		if chunk.Err != "" {
			return nil, errors.New(chunk.Err)
		}
	}
	return &Result{}, nil
}
