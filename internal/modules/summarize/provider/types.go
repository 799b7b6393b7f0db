// Package provider hosts the rate-limited, breaker-guarded pool of external
// summarization providers.
package provider

import "context"

// Prompt is the provider-agnostic call input.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
	RequestID string
}

// Reply is the provider-agnostic call output.
type Reply struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// FailKind classifies a provider failure. The core never depends on
// vendor-specific error fields beyond this.
type FailKind string

const (
	FailRateLimited  FailKind = "rate_limited"
	FailTimeout      FailKind = "timeout"
	FailInvalidInput FailKind = "invalid_input"
	FailUpstream     FailKind = "upstream_error"
)

// CallError is the typed error a Client returns.
type CallError struct {
	Kind    FailKind
	Message string
	cause   error
}

func (e *CallError) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *CallError) Unwrap() error { return e.cause }

// Retryable reports whether the failure is worth another attempt.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case FailRateLimited, FailTimeout, FailUpstream:
		return true
	}
	return false
}

// Client is one configured provider endpoint.
type Client interface {
	Name() string
	Model() string
	Summarize(ctx context.Context, prompt Prompt) (*Reply, error)
}

// UsageRecord is emitted for every successful provider call.
type UsageRecord struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	RequestID    string `json:"request_id,omitempty"`
}

// UsageSink receives usage records. Implementations must not block the
// calling worker for long.
type UsageSink interface {
	Record(ctx context.Context, usage UsageRecord)
}
