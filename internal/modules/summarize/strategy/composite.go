package strategy

import (
	"context"
	"strings"

	"github.com/tldrify/core/internal/models"
	"go.uber.org/zap"
)

const compositePartialShare = 0.4

// Composite runs extractive, ranked and generative with a reduced budget
// and merges their output by weighted round-robin. A generative failure
// degrades the merge instead of failing the request.
type Composite struct {
	extractive Strategy
	ranked     Strategy
	generative Strategy
	logger     *zap.Logger
}

func NewComposite(extractive, ranked, generative Strategy, logger *zap.Logger) *Composite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composite{
		extractive: extractive,
		ranked:     ranked,
		generative: generative,
		logger:     logger.Named("Composite"),
	}
}

func (c *Composite) Run(ctx context.Context, text string, opts models.SummaryOptions) (*models.SummaryResult, error) {
	partialOpts := opts
	partialOpts.MaxLength = int(float64(opts.MaxLength) * compositePartialShare)
	if partialOpts.MaxLength < 50 {
		partialOpts.MaxLength = 50
	}

	type partial struct {
		name   string
		weight float64
		result *models.SummaryResult
	}
	partials := []partial{
		{name: "extractive", weight: 0.3},
		{name: "ranked", weight: 0.4},
		{name: "generative", weight: 0.3},
	}
	runs := []Strategy{c.extractive, c.ranked, c.generative}

	var lastErr error
	degraded := false
	tokensUsed := 0
	for i := range partials {
		result, err := runs[i].Run(ctx, text, partialOpts)
		if err != nil {
			c.logger.Warn("partial strategy failed",
				zap.String("strategy", partials[i].name),
				zap.Error(err),
			)
			lastErr = err
			if partials[i].name == "generative" {
				degraded = true
			}
			continue
		}
		partials[i].result = result
		tokensUsed += result.TokensUsed
	}

	sources := make([][]string, 0, len(partials))
	weights := make([]float64, 0, len(partials))
	for _, p := range partials {
		if p.result == nil {
			continue
		}
		sources = append(sources, splitSentences(p.result.Summary))
		weights = append(weights, p.weight)
	}
	if len(sources) == 0 {
		return nil, lastErr
	}

	summary := mergeWeighted(sources, weights, opts.MaxLength)

	methodUsed := string(models.MethodComposite)
	if degraded {
		methodUsed += " (degraded)"
	}

	sentences := usableSentences(text)
	scores := make([]float64, len(sentences))
	freq := wordFrequencies(text)
	for i, s := range sentences {
		scores[i] = keywordScore(s, freq)
	}

	return &models.SummaryResult{
		Summary:      summary,
		Confidence:   confidenceComposite,
		KeyTakeaways: takeaways(sentences, scores, maxTakeaways),
		Sentiment:    detectSentiment(text),
		MethodUsed:   methodUsed,
		TokensUsed:   tokensUsed,
	}, nil
}

// mergeWeighted interleaves sentence lists by weighted round-robin,
// deduplicating case-insensitively and stopping at maxLength.
func mergeWeighted(sources [][]string, weights []float64, maxLength int) string {
	cursors := make([]int, len(sources))
	credits := make([]float64, len(sources))
	seen := make(map[string]bool)

	var parts []string
	total := 0
	for {
		remaining := false
		for i := range sources {
			if cursors[i] < len(sources[i]) {
				remaining = true
				credits[i] += weights[i]
			}
		}
		if !remaining {
			break
		}

		// Pick the source with the most accumulated credit.
		best := -1
		for i := range sources {
			if cursors[i] >= len(sources[i]) {
				continue
			}
			if best == -1 || credits[i] > credits[best] {
				best = i
			}
		}
		credits[best]--

		sentence := sources[best][cursors[best]]
		cursors[best]++

		key := strings.ToLower(strings.TrimSpace(strings.TrimRight(sentence, ".!?…")))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		length := len([]rune(sentence)) + 1
		if len(parts) > 0 && total+length > maxLength {
			break
		}
		parts = append(parts, sentence)
		total += length
	}

	return truncateAtWordBoundary(joinSentences(parts), maxLength)
}
