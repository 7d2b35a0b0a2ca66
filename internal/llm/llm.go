package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examprep/internal/llm/prompts"
	"github.com/pavelanni/examprep/internal/model"
)

// Client wraps an OpenAI-compatible API client and generates exams.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new LLM client. A zero timeout disables the per-call deadline.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Ping checks that the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// GenerateExam asks the model for an exam document. The returned text is not
// validated here.
func (c *Client) GenerateExam(ctx context.Context, req model.GenerationRequest) (string, error) {
	prompt, err := prompts.BuildExamPrompt(req)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: "Generate the exam now."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM exam response", "bytes", len(raw), "finish_reason", resp.Choices[0].FinishReason)
	return raw, nil
}
