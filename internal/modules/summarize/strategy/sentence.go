package strategy

import (
	"strings"
	"unicode"

	"github.com/tldrify/core/internal/models"
)

const minSentenceLength = 10

// splitSentences tokenizes text on [.!?]+ boundaries, keeping the trailing
// punctuation with each sentence.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Swallow the rest of the punctuation run.
			for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
				i++
				b.WriteRune(runes[i])
			}
			flush()
		}
	}
	flush()
	return sentences
}

// usableSentences drops sentences shorter than minSentenceLength characters.
func usableSentences(text string) []string {
	all := splitSentences(text)
	out := make([]string, 0, len(all))
	for _, s := range all {
		if len([]rune(s)) >= minSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

// tokenizeWords lowercases and splits on non-letter/digit runs.
func tokenizeWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// wordFrequencies builds a frequency map over words longer than 3
// characters, normalized by the most frequent word.
func wordFrequencies(text string) map[string]float64 {
	counts := make(map[string]int)
	max := 0
	for _, w := range tokenizeWords(text) {
		if len(w) <= 3 {
			continue
		}
		counts[w]++
		if counts[w] > max {
			max = counts[w]
		}
	}
	freq := make(map[string]float64, len(counts))
	if max == 0 {
		return freq
	}
	for w, c := range counts {
		freq[w] = float64(c) / float64(max)
	}
	return freq
}

// keywordScore averages the normalized frequency of a sentence's words.
func keywordScore(sentence string, freq map[string]float64) float64 {
	words := tokenizeWords(sentence)
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += freq[w]
	}
	return sum / float64(len(words))
}

// truncateAtWordBoundary cuts s to at most max runes, ending at the last
// word boundary and appending "…". Short inputs pass through unchanged.
func truncateAtWordBoundary(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	cut := runes[:max-1] // leave room for the ellipsis
	idx := len(cut)
	for idx > 0 && !unicode.IsSpace(cut[idx-1]) {
		idx--
	}
	if idx == 0 {
		// No boundary inside the window; hard cut.
		idx = len(cut)
	}
	return strings.TrimRight(string(cut[:idx]), " \t\n") + "…"
}

// takeaways returns up to n short highlights from the scored sentences.
func takeaways(sentences []string, scores []float64, n int) []string {
	type ranked struct {
		idx   int
		score float64
	}
	order := make([]ranked, len(sentences))
	for i := range sentences {
		order[i] = ranked{i, scores[i]}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j].score > order[j-1].score; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	if n > len(order) {
		n = len(order)
	}
	out := make([]string, 0, n)
	for _, r := range order[:n] {
		t := strings.TrimRight(sentences[r.idx], ".!?")
		out = append(out, truncateAtWordBoundary(t, 120))
	}
	return out
}

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "positive": {}, "success": {},
	"successful": {}, "improve": {}, "improved": {}, "growth": {}, "gain": {},
	"benefit": {}, "strong": {}, "best": {}, "effective": {}, "advantage": {},
	"progress": {}, "win": {}, "bright": {}, "happy": {}, "efficient": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "poor": {}, "negative": {}, "failure": {}, "fail": {},
	"failed": {}, "decline": {}, "loss": {}, "risk": {}, "problem": {},
	"weak": {}, "worst": {}, "harm": {}, "damage": {}, "crisis": {},
	"threat": {}, "drop": {}, "cold": {}, "sad": {}, "inefficient": {},
}

// detectSentiment counts lexicon hits and picks the dominant polarity.
func detectSentiment(text string) models.Sentiment {
	pos, neg := 0, 0
	for _, w := range tokenizeWords(text) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}
