package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ai-diet-planner/internal/config"
	"ai-diet-planner/internal/shared"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient talks to Groq through its OpenAI-compatible endpoint.
type GroqClient struct {
	client *openai.Client
	model  string
}

// NewGroqClient creates a new Groq API client.
func NewGroqClient(cfg *config.Config) *GroqClient {
	return newGroqClient(cfg.GroqAPIKey, groqBaseURL, cfg.GroqModel)
}

func newGroqClient(apiKey, baseURL, model string) *GroqClient {
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	return &GroqClient{client: openai.NewClientWithConfig(oc), model: model}
}

// GenerateContent sends a prompt to the Groq model and returns the generated text.
func (c *GroqClient) GenerateContent(ctx context.Context, prompt string, opts Options) (ContentResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return ContentResponse{}, classifyGroqError(err)
	}

	if len(resp.Choices) == 0 {
		return ContentResponse{}, NewFatalError(fmt.Errorf("no choices in groq response"))
	}

	return ContentResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Model:            c.model,
		},
	}, nil
}

func classifyGroqError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("groq", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus("groq", reqErr.HTTPStatusCode, err)
	}
	return NewTransientError(fmt.Errorf("failed to send request: %w", err))
}
