package models

import "time"

// SummarizeMethod selects one of the four summarization strategies.
type SummarizeMethod string

const (
	MethodExtractive SummarizeMethod = "extractive"
	MethodRanked     SummarizeMethod = "ranked"
	MethodGenerative SummarizeMethod = "generative"
	MethodComposite  SummarizeMethod = "composite"
)

// Valid reports whether m is a known method.
func (m SummarizeMethod) Valid() bool {
	switch m {
	case MethodExtractive, MethodRanked, MethodGenerative, MethodComposite:
		return true
	}
	return false
}

// SummaryStyle tunes the tone of generative output.
type SummaryStyle string

const (
	StyleConcise   SummaryStyle = "concise"
	StyleBalanced  SummaryStyle = "balanced"
	StyleTechnical SummaryStyle = "technical"
)

// Sentiment is the coarse sentiment label attached to key takeaways.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// SummaryOptions is the bounded set of knobs a caller may set.
type SummaryOptions struct {
	MaxLength     int          `json:"max_length"`
	Style         SummaryStyle `json:"style"`
	FocusAreas    []string     `json:"focus_areas,omitempty"`
	Language      string       `json:"language,omitempty"` // BCP-47
	SyncPreferred bool         `json:"sync_preferred,omitempty"`
}

// SummarizeRequest is immutable after creation; RequestID doubles as the
// idempotency key and the ledger correlation id.
type SummarizeRequest struct {
	RequestID string          `json:"request_id"`
	UserID    string          `json:"user_id"`
	Payload   string          `json:"payload"`
	Method    SummarizeMethod `json:"method"`
	Options   SummaryOptions  `json:"options"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
}

// SummaryResult is what a strategy produces.
type SummaryResult struct {
	Summary      string    `json:"summary"`
	Confidence   float64   `json:"confidence"`
	KeyTakeaways []string  `json:"key_takeaways,omitempty"`
	Sentiment    Sentiment `json:"sentiment"`
	MethodUsed   string    `json:"method_used"`
	TokensUsed   int       `json:"tokens_used"`
	ProcessingMS int64     `json:"processing_ms"`
	Cached       bool      `json:"cached"`
}
