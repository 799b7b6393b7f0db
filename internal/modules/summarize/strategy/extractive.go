package strategy

import (
	"context"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
)

// Extractive selects high-scoring sentences by keyword frequency, position
// and length. Deterministic, no network.
type Extractive struct{}

func (Extractive) Run(_ context.Context, text string, opts models.SummaryOptions) (*models.SummaryResult, error) {
	sentences := usableSentences(text)
	if len(sentences) == 0 {
		// Nothing survived the length filter; summarize the raw text.
		return &models.SummaryResult{
			Summary:    truncateAtWordBoundary(text, opts.MaxLength),
			Confidence: confidenceExtractive,
			Sentiment:  detectSentiment(text),
			MethodUsed: string(models.MethodExtractive),
		}, nil
	}

	freq := wordFrequencies(text)
	scores := make([]float64, len(sentences))
	for i, s := range sentences {
		length := float64(len([]rune(s)))
		lengthScore := length / 100
		if lengthScore > 1 {
			lengthScore = 1
		}
		positionScore := 1 - float64(i)/float64(len(sentences))
		scores[i] = 1.0*keywordScore(s, freq) + 0.5*positionScore + lengthScore
	}

	summary := selectToFit(sentences, scores, opts.MaxLength)
	if summary == "" {
		return nil, errkind.New(errkind.Internal, "extractive produced empty summary")
	}

	return &models.SummaryResult{
		Summary:      summary,
		Confidence:   confidenceExtractive,
		KeyTakeaways: takeaways(sentences, scores, maxTakeaways),
		Sentiment:    detectSentiment(text),
		MethodUsed:   string(models.MethodExtractive),
	}, nil
}

// selectToFit takes sentences in score order until the concatenation would
// overflow maxLength, re-orders the picks by original position, and
// truncates at a word boundary. At least the top sentence is always kept,
// so a tiny maxLength still yields non-empty output.
func selectToFit(sentences []string, scores []float64, maxLength int) string {
	type candidate struct {
		idx   int
		score float64
	}
	order := make([]candidate, len(sentences))
	for i := range sentences {
		order[i] = candidate{i, scores[i]}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j].score > order[j-1].score; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	picked := make(map[int]bool)
	total := 0
	for _, c := range order {
		length := len([]rune(sentences[c.idx])) + 1
		if len(picked) > 0 && total+length > maxLength {
			continue
		}
		picked[c.idx] = true
		total += length
		if total >= maxLength {
			break
		}
	}

	var parts []string
	for i, s := range sentences {
		if picked[i] {
			parts = append(parts, s)
		}
	}
	return truncateAtWordBoundary(joinSentences(parts), maxLength)
}

func joinSentences(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
