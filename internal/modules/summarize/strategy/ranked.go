package strategy

import (
	"context"
	"math"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
)

const (
	rankDamping    = 0.85
	rankIterations = 100
	rankEpsilon    = 1e-4
)

// Ranked scores sentences with a PageRank-style iteration over the cosine
// similarity graph. Deterministic, no network.
type Ranked struct{}

func (Ranked) Run(_ context.Context, text string, opts models.SummaryOptions) (*models.SummaryResult, error) {
	sentences := usableSentences(text)
	if len(sentences) == 0 {
		return &models.SummaryResult{
			Summary:    truncateAtWordBoundary(text, opts.MaxLength),
			Confidence: confidenceRanked,
			Sentiment:  detectSentiment(text),
			MethodUsed: string(models.MethodRanked),
		}, nil
	}

	sim := similarityMatrix(sentences)
	scores := pageRank(sim)

	summary := selectToFit(sentences, scores, opts.MaxLength)
	if summary == "" {
		return nil, errkind.New(errkind.Internal, "ranked produced empty summary")
	}

	return &models.SummaryResult{
		Summary:      summary,
		Confidence:   confidenceRanked,
		KeyTakeaways: takeaways(sentences, scores, maxTakeaways),
		Sentiment:    detectSentiment(text),
		MethodUsed:   string(models.MethodRanked),
	}, nil
}

// similarityMatrix computes symmetric cosine similarity over bag-of-words.
func similarityMatrix(sentences []string) [][]float64 {
	bags := make([]map[string]int, len(sentences))
	norms := make([]float64, len(sentences))
	for i, s := range sentences {
		bag := make(map[string]int)
		for _, w := range tokenizeWords(s) {
			bag[w]++
		}
		var sq float64
		for _, c := range bag {
			sq += float64(c * c)
		}
		bags[i] = bag
		norms[i] = math.Sqrt(sq)
	}

	sim := make([][]float64, len(sentences))
	for i := range sim {
		sim[i] = make([]float64, len(sentences))
	}
	for i := 0; i < len(sentences); i++ {
		for j := i + 1; j < len(sentences); j++ {
			if norms[i] == 0 || norms[j] == 0 {
				continue
			}
			var dot float64
			for w, c := range bags[i] {
				dot += float64(c * bags[j][w])
			}
			v := dot / (norms[i] * norms[j])
			sim[i][j] = v
			sim[j][i] = v
		}
	}
	return sim
}

// pageRank iterates s_i ← (1-d) + d·Σ_j (w_ji / Σ_k w_jk)·s_j until
// convergence or the iteration cap.
func pageRank(sim [][]float64) []float64 {
	n := len(sim)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1
	}

	rowSums := make([]float64, n)
	for j := 0; j < n; j++ {
		for k := 0; k < n; k++ {
			rowSums[j] += sim[j][k]
		}
	}

	for iter := 0; iter < rankIterations; iter++ {
		next := make([]float64, n)
		maxDelta := 0.0
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				if rowSums[j] == 0 {
					continue
				}
				sum += sim[j][i] / rowSums[j] * scores[j]
			}
			next[i] = (1 - rankDamping) + rankDamping*sum
			if d := math.Abs(next[i] - scores[i]); d > maxDelta {
				maxDelta = d
			}
		}
		scores = next
		if maxDelta < rankEpsilon {
			break
		}
	}
	return scores
}
