package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"

	"github.com/lvtu-ai/travel-planner/config"
)

// GeminiClient wraps the google genai SDK.
type GeminiClient struct {
	client      *genai.Client
	logger      *slog.Logger
	model       string
	temperature float32
}

func NewGeminiClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY environment variable is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.LLM.Gemini.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		client:      client,
		logger:      logger.With(slog.String("component", "GeminiClient")),
		model:       model,
		temperature: cfg.LLM.Gemini.Temperature,
	}, nil
}

func (c *GeminiClient) Provider() string { return "gemini" }
func (c *GeminiClient) Model() string    { return c.model }

func (c *GeminiClient) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](c.temperature)}
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.generateConfig())
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return result.Text(), nil
}

func (c *GeminiClient) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	chat, err := c.client.Chats.Create(ctx, c.model, c.generateConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: prompt}) {
			if err != nil {
				select {
				case ch <- StreamChunk{Err: fmt.Errorf("gemini: stream recv: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case ch <- StreamChunk{Token: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}
