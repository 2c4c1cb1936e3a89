package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lvtu-ai/travel-planner/config"
)

// DeepseekClient talks to DeepSeek through its OpenAI-compatible API.
type DeepseekClient struct {
	client      *openai.Client
	logger      *slog.Logger
	model       string
	temperature float32
	maxTokens   int
}

func NewDeepseekClient(cfg *config.Config, logger *slog.Logger) *DeepseekClient {
	oc := openai.DefaultConfig(os.Getenv("DEEPSEEK_API_KEY"))
	if cfg.LLM.Deepseek.BaseURL != "" {
		oc.BaseURL = cfg.LLM.Deepseek.BaseURL
	}
	model := cfg.LLM.Deepseek.Model
	if model == "" {
		model = "deepseek-chat"
	}
	return &DeepseekClient{
		client:      openai.NewClientWithConfig(oc),
		logger:      logger.With(slog.String("component", "DeepseekClient")),
		model:       model,
		temperature: cfg.LLM.Deepseek.Temperature,
		maxTokens:   cfg.LLM.Deepseek.MaxTokens,
	}
}

func (c *DeepseekClient) Provider() string { return "deepseek" }
func (c *DeepseekClient) Model() string    { return c.model }

func (c *DeepseekClient) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
}

func (c *DeepseekClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, false))
	if err != nil {
		return "", fmt.Errorf("deepseek: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("deepseek: api returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *DeepseekClient) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	if err != nil {
		return nil, fmt.Errorf("deepseek: open stream: %w", err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() {
			if err := stream.Close(); err != nil {
				c.logger.WarnContext(ctx, "Failed to close completion stream", slog.Any("error", err))
			}
		}()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- StreamChunk{Err: fmt.Errorf("deepseek: stream recv: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Token: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
