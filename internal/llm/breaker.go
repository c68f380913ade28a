package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerGenerator guards a TextGenerator with a circuit breaker. Only
// transient failures count towards tripping; fatal errors are the caller's
// problem and leave the breaker closed.
type BreakerGenerator struct {
	next    TextGenerator
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGenerator opens after 5 consecutive transient failures and
// probes again after 30 seconds.
func NewBreakerGenerator(name string, next TextGenerator, logger *slog.Logger) *BreakerGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerGenerator{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsFatal(err) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *BreakerGenerator) GenerateContent(ctx context.Context, prompt string, opts Options) (ContentResponse, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.GenerateContent(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ContentResponse{}, NewTransientError(fmt.Errorf("model unavailable: %w", err))
		}
		return ContentResponse{}, err
	}
	return out.(ContentResponse), nil
}

// Close closes the wrapped generator when it holds resources.
func (b *BreakerGenerator) Close() error {
	if c, ok := b.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
