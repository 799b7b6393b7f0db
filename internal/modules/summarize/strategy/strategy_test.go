package strategy

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/provider"
	"github.com/tldrify/core/internal/pkg/errkind"
)

const sampleText = `The migration to the new storage engine finished ahead of schedule. Throughput improved by forty percent once the index rebuild completed.
Latency dropped across every region we serve. The team documented each rollout step so future migrations can follow the same playbook.
Customer reports confirmed the improvement within the first week. Support tickets about slow queries fell to nearly zero.`

func defaultOpts() models.SummaryOptions {
	return models.SummaryOptions{MaxLength: 200, Style: models.StyleBalanced}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second!! Third? Trailing bit")
	want := []string{"First one.", "Second!!", "Third?", "Trailing bit"}
	if len(got) != len(want) {
		t.Fatalf("splitSentences = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUsableSentencesDropsShort(t *testing.T) {
	got := usableSentences("Ok. This sentence is long enough to keep.")
	if len(got) != 1 || !strings.HasPrefix(got[0], "This sentence") {
		t.Fatalf("usableSentences = %q", got)
	}
}

func TestTruncateAtWordBoundary(t *testing.T) {
	s := "The quick brown fox jumps over the lazy dog"

	got := truncateAtWordBoundary(s, 20)
	if utf8.RuneCountInString(got) > 20 {
		t.Fatalf("truncated %q exceeds 20 runes", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated %q lacks ellipsis", got)
	}
	if strings.Contains(got, "bro…") {
		t.Fatalf("truncated %q cut mid-word", got)
	}

	if truncateAtWordBoundary(s, 100) != s {
		t.Fatal("short input was modified")
	}

	// A single long word forces a hard cut but stays non-empty.
	got = truncateAtWordBoundary("Supercalifragilisticexpialidocious", 10)
	if got == "" || utf8.RuneCountInString(got) > 10 {
		t.Fatalf("hard cut = %q", got)
	}
}

func TestDetectSentiment(t *testing.T) {
	if s := detectSentiment("great success and strong growth this quarter"); s != models.SentimentPositive {
		t.Fatalf("positive text = %s", s)
	}
	if s := detectSentiment("the failure caused damage and loss"); s != models.SentimentNegative {
		t.Fatalf("negative text = %s", s)
	}
	if s := detectSentiment("the meeting is on tuesday afternoon"); s != models.SentimentNeutral {
		t.Fatalf("neutral text = %s", s)
	}
}

func TestExtractiveDeterministic(t *testing.T) {
	ctx := context.Background()
	e := Extractive{}

	first, err := e.Run(ctx, sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := e.Run(ctx, sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Summary != second.Summary {
		t.Fatal("extractive output is not deterministic")
	}

	if first.Summary == "" || utf8.RuneCountInString(first.Summary) > 200 {
		t.Fatalf("summary = %q, want non-empty within max_length", first.Summary)
	}
	if first.Confidence != confidenceExtractive {
		t.Fatalf("confidence = %v, want %v", first.Confidence, confidenceExtractive)
	}
	if first.MethodUsed != string(models.MethodExtractive) {
		t.Fatalf("method_used = %q", first.MethodUsed)
	}
	if len(first.KeyTakeaways) == 0 || len(first.KeyTakeaways) > maxTakeaways {
		t.Fatalf("takeaways = %d, want 1..%d", len(first.KeyTakeaways), maxTakeaways)
	}
	if first.TokensUsed != 0 {
		t.Fatalf("tokens_used = %d, want 0 for offline strategy", first.TokensUsed)
	}
}

func TestExtractiveTinyBudgetStillProduces(t *testing.T) {
	opts := defaultOpts()
	opts.MaxLength = 50 // below the first sentence's length

	result, err := Extractive{}.Run(context.Background(), sampleText, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary == "" {
		t.Fatal("tiny budget produced empty summary")
	}
	if utf8.RuneCountInString(result.Summary) > 50 {
		t.Fatalf("summary %q exceeds budget", result.Summary)
	}
	if !strings.HasSuffix(result.Summary, "…") {
		t.Fatalf("summary %q lacks truncation ellipsis", result.Summary)
	}
}

func TestRankedSummarizes(t *testing.T) {
	result, err := Ranked{}.Run(context.Background(), sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary == "" || utf8.RuneCountInString(result.Summary) > 200 {
		t.Fatalf("summary = %q", result.Summary)
	}
	if result.Confidence != confidenceRanked {
		t.Fatalf("confidence = %v, want %v", result.Confidence, confidenceRanked)
	}
}

type fakeInvoker struct {
	reply  *provider.Reply
	err    error
	prompt provider.Prompt
	calls  int
}

func (f *fakeInvoker) Summarize(_ context.Context, prompt provider.Prompt) (*provider.Reply, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func TestGenerativeUsesProviderReply(t *testing.T) {
	invoker := &fakeInvoker{reply: &provider.Reply{
		Text:         "  The storage migration went well and customers noticed. ",
		InputTokens:  120,
		OutputTokens: 30,
	}}

	result, err := NewGenerative(invoker).Run(context.Background(), sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary != "The storage migration went well and customers noticed." {
		t.Fatalf("summary = %q", result.Summary)
	}
	if result.Confidence != confidenceGenerative {
		t.Fatalf("confidence = %v", result.Confidence)
	}
	if result.TokensUsed != 150 {
		t.Fatalf("tokens_used = %d, want 150", result.TokensUsed)
	}

	// The prompt carries the content and a token budget.
	if !strings.Contains(invoker.prompt.User, "storage engine") {
		t.Fatal("prompt lacks the payload")
	}
	if invoker.prompt.MaxTokens < 100 {
		t.Fatalf("max tokens = %d", invoker.prompt.MaxTokens)
	}
}

func TestGenerativeWithoutProviderFails(t *testing.T) {
	_, err := NewGenerative(nil).Run(context.Background(), sampleText, defaultOpts())
	if errkind.KindOf(err) != errkind.ProviderError {
		t.Fatalf("kind = %v, want ProviderError", errkind.KindOf(err))
	}
}

func TestGenerativeEmptyReplyFails(t *testing.T) {
	invoker := &fakeInvoker{reply: &provider.Reply{Text: "   "}}
	_, err := NewGenerative(invoker).Run(context.Background(), sampleText, defaultOpts())
	if errkind.KindOf(err) != errkind.ProviderError {
		t.Fatalf("kind = %v, want ProviderError", errkind.KindOf(err))
	}
}

func TestCompositeMergesPartials(t *testing.T) {
	invoker := &fakeInvoker{reply: &provider.Reply{
		Text: "A generative view of the migration results.", OutputTokens: 12,
	}}
	registry := NewRegistry(invoker, nil)

	result, err := registry.Run(context.Background(), models.MethodComposite, sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary == "" || utf8.RuneCountInString(result.Summary) > 200 {
		t.Fatalf("summary = %q", result.Summary)
	}
	if result.Confidence != confidenceComposite {
		t.Fatalf("confidence = %v", result.Confidence)
	}
	if result.MethodUsed != string(models.MethodComposite) {
		t.Fatalf("method_used = %q", result.MethodUsed)
	}
	if invoker.calls != 1 {
		t.Fatalf("generative calls = %d, want 1", invoker.calls)
	}
}

func TestCompositeDegradesWithoutGenerative(t *testing.T) {
	invoker := &fakeInvoker{err: errkind.New(errkind.ProviderError, "provider down")}
	registry := NewRegistry(invoker, nil)

	result, err := registry.Run(context.Background(), models.MethodComposite, sampleText, defaultOpts())
	if err != nil {
		t.Fatalf("Run: %v (degraded composite must still succeed)", err)
	}
	if result.Summary == "" {
		t.Fatal("degraded composite produced empty summary")
	}
	if !strings.Contains(result.MethodUsed, "degraded") {
		t.Fatalf("method_used = %q, want degraded marker", result.MethodUsed)
	}
}

func TestMergeWeightedDeduplicates(t *testing.T) {
	sources := [][]string{
		{"Shared sentence about results.", "Alpha detail."},
		{"SHARED sentence about results.", "Beta detail."},
	}
	merged := mergeWeighted(sources, []float64{0.5, 0.5}, 500)
	if strings.Count(strings.ToLower(merged), "shared sentence") != 1 {
		t.Fatalf("merged = %q, want case-insensitive dedup", merged)
	}
}

func TestRegistryUnknownMethod(t *testing.T) {
	_, err := NewRegistry(nil, nil).Run(context.Background(), "telepathy", sampleText, defaultOpts())
	if errkind.KindOf(err) != errkind.Validation {
		t.Fatalf("kind = %v, want Validation", errkind.KindOf(err))
	}
}

func TestBuildGenerativePrompt(t *testing.T) {
	opts := defaultOpts()
	opts.Style = models.StyleTechnical
	opts.FocusAreas = []string{"latency", "throughput"}
	opts.Language = "fr"

	system, user := buildGenerativePrompt("Document body here.", opts)
	if !strings.Contains(system, "technical") {
		t.Fatal("system prompt ignores style")
	}
	if !strings.Contains(system, "latency, throughput") {
		t.Fatal("system prompt ignores focus areas")
	}
	if !strings.Contains(user, "TARGET_LANGUAGE: French") {
		t.Fatalf("user prompt = %q, want French target", user)
	}
	if !strings.Contains(user, "Document body here.") {
		t.Fatal("user prompt lacks content")
	}
}

func TestLanguageName(t *testing.T) {
	cases := []struct{ tag, want string }{
		{"", "English"},
		{"en-US", "English"},
		{"pt-BR", "Portuguese"},
		{"zh-Hant", "Chinese"},
		{"xx-invalid!!", "English"},
	}
	for _, tc := range cases {
		if got := languageName(tc.tag); got != tc.want {
			t.Errorf("languageName(%q) = %q, want %q", tc.tag, got, tc.want)
		}
	}
}
