// ABOUTME: Gemini-backed generation engine using the google.golang.org/genai SDK
// ABOUTME: Streams completions chunk by chunk with usage metadata on the final chunk

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// chunkBufferSize holds bursts from the upstream stream so slow consumers
// do not stall the SDK iterator.
const chunkBufferSize = 32

// GeminiConfig configures the Gemini engine.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
}

// Gemini implements Engine on top of the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *slog.Logger
}

var _ Engine = (*Gemini)(nil)

// NewGemini creates a Gemini engine. Returns an engine with no client when
// the API key is empty; IsAvailable reports false in that case so callers
// can degrade instead of failing at startup.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gemini{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
	}

	if cfg.APIKey == "" {
		g.logger.Warn("no Gemini API key configured, engine unavailable")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	g.client = client
	g.logger.Info("Gemini engine initialized", "model", cfg.Model)
	return g, nil
}

// IsAvailable reports whether the engine has a usable client.
func (g *Gemini) IsAvailable() bool {
	return g.client != nil
}

func (g *Gemini) contents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	return contents
}

func (g *Gemini) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   g.cfg.MaxTokens,
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
}

// Stream starts a streaming generation. Chunks are forwarded in upstream
// order; the terminal chunk carries either the accumulated Result or an
// error string. The channel is closed after the terminal chunk.
func (g *Gemini) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if !g.IsAvailable() {
		return nil, ErrUnavailable
	}

	out := make(chan Chunk, chunkBufferSize)

	go func() {
		defer close(out)

		var accumulated string
		var tokenCount int

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.Model, g.contents(req), g.generateConfig()) {
			if err != nil {
				g.logger.Error("stream failed", "error", err)
				select {
				case out <- Chunk{Err: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			if resp.UsageMetadata != nil {
				tokenCount = int(resp.UsageMetadata.TotalTokenCount)
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			accumulated += delta

			select {
			case out <- Chunk{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}

		// Guarded so an abandoned consumer never strands this goroutine.
		select {
		case out <- Chunk{Final: &Result{
			Text:       accumulated,
			Model:      g.cfg.Model,
			TokenCount: tokenCount,
		}}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// Generate runs a non-streaming generation.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	if !g.IsAvailable() {
		return nil, ErrUnavailable
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, g.contents(req), g.generateConfig())
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	result := &Result{
		Text:  resp.Text(),
		Model: g.cfg.Model,
	}
	if resp.UsageMetadata != nil {
		result.TokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}
