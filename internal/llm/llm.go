package llm

import (
	"context"

	"ai-diet-planner/internal/shared"
)

// Options controls a single model invocation.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string, opts Options) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// TextGeneratorFunc adapts a function to TextGenerator.
type TextGeneratorFunc func(ctx context.Context, prompt string, opts Options) (ContentResponse, error)

func (f TextGeneratorFunc) GenerateContent(ctx context.Context, prompt string, opts Options) (ContentResponse, error) {
	return f(ctx, prompt, opts)
}
