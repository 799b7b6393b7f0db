// Package strategy implements the four summarization strategies and the
// registry that routes a method to its implementation.
package strategy

import (
	"context"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
	"go.uber.org/zap"
)

// Confidence conventions per method.
const (
	confidenceExtractive = 0.7
	confidenceRanked     = 0.85
	confidenceGenerative = 0.95
	confidenceComposite  = 0.90
)

const maxTakeaways = 5

// Strategy produces a summary from text and options.
type Strategy interface {
	Run(ctx context.Context, text string, opts models.SummaryOptions) (*models.SummaryResult, error)
}

// Registry holds one strategy per method.
type Registry struct {
	byMethod map[models.SummarizeMethod]Strategy
}

// NewRegistry wires the four strategies. invoker may be nil, in which case
// generative (and the generative leg of composite) fails with ProviderError.
func NewRegistry(invoker Invoker, logger *zap.Logger) *Registry {
	extractive := Extractive{}
	ranked := Ranked{}
	generative := NewGenerative(invoker)

	return &Registry{byMethod: map[models.SummarizeMethod]Strategy{
		models.MethodExtractive: extractive,
		models.MethodRanked:     ranked,
		models.MethodGenerative: generative,
		models.MethodComposite:  NewComposite(extractive, ranked, generative, logger),
	}}
}

// Run dispatches to the strategy for method and stamps processing time.
func (r *Registry) Run(ctx context.Context, method models.SummarizeMethod, text string, opts models.SummaryOptions) (*models.SummaryResult, error) {
	s, ok := r.byMethod[method]
	if !ok {
		return nil, errkind.Newf(errkind.Validation, "unknown method %q", method)
	}

	start := time.Now()
	result, err := s.Run(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	result.ProcessingMS = time.Since(start).Milliseconds()
	return result, nil
}

// Synchronous reports whether a method never suspends on provider I/O.
func Synchronous(method models.SummarizeMethod) bool {
	return method == models.MethodExtractive || method == models.MethodRanked
}
