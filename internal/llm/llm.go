// Package llm wraps the language-model providers behind one small client
// interface so the itinerary pipeline never depends on a vendor SDK.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lvtu-ai/travel-planner/config"
)

// StreamChunk is one incremental delivery from a streaming generation.
// Err is set at most once, as the last chunk before the channel closes.
type StreamChunk struct {
	Token string
	Err   error
}

// Client is the generation capability the pipeline consumes.
// GenerateStream returns a channel that closes when the stream ends; callers
// falling back to Generate on a stream-open error is expected usage.
type Client interface {
	Provider() string
	Model() string
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
}

// NewClient builds the configured provider.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Client, error) {
	switch cfg.LLM.Provider {
	case "", "deepseek":
		return NewDeepseekClient(cfg, logger), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}
}
