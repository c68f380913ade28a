package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a single model invocation.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// AgentMeta holds operational metadata for one model-backed step, such as
// the generation of a single plan section.
type AgentMeta struct {
	AgentName string
	UserID    string
	Usage     TokenUsage
	Latency   time.Duration
}

// Tokens returns the total token count, falling back to the sum of prompt
// and completion tokens when the provider did not report a total.
func (u TokenUsage) Tokens() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
