package strategy

import (
	"context"
	"strings"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/provider"
	"github.com/tldrify/core/internal/pkg/errkind"
)

// Invoker is the slice of the provider pool the generative strategy needs.
type Invoker interface {
	Summarize(ctx context.Context, prompt provider.Prompt) (*provider.Reply, error)
}

// Generative summarizes through an external LLM provider.
type Generative struct {
	invoker Invoker
}

func NewGenerative(invoker Invoker) *Generative {
	return &Generative{invoker: invoker}
}

func (g *Generative) Run(ctx context.Context, text string, opts models.SummaryOptions) (*models.SummaryResult, error) {
	if g.invoker == nil {
		return nil, errkind.New(errkind.ProviderError, "no provider configured")
	}

	systemPrompt, prompt := buildGenerativePrompt(text, opts)
	reply, err := g.invoker.Summarize(ctx, provider.Prompt{
		System:    systemPrompt,
		User:      prompt,
		MaxTokens: maxTokensFor(opts.MaxLength),
		RequestID: requestIDFrom(ctx),
	})
	if err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(reply.Text)
	if summary == "" {
		return nil, errkind.New(errkind.ProviderError, "provider returned no content")
	}
	summary = truncateAtWordBoundary(summary, opts.MaxLength)

	sentences := usableSentences(text)
	scores := make([]float64, len(sentences))
	freq := wordFrequencies(text)
	for i, s := range sentences {
		scores[i] = keywordScore(s, freq)
	}

	return &models.SummaryResult{
		Summary:      summary,
		Confidence:   confidenceGenerative,
		KeyTakeaways: takeaways(sentences, scores, maxTakeaways),
		Sentiment:    detectSentiment(text),
		MethodUsed:   string(models.MethodGenerative),
		TokensUsed:   reply.InputTokens + reply.OutputTokens,
	}, nil
}

// maxTokensFor sizes the provider output budget from the character budget.
func maxTokensFor(maxLength int) int {
	tokens := maxLength / 3
	if tokens < 100 {
		tokens = 100
	}
	return tokens
}

type requestIDKey struct{}

// WithRequestID tags ctx so provider usage records correlate to a request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
