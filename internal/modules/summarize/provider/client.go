package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"github.com/tldrify/core/internal/config"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

func newClient(cfg config.ProviderConfig) (Client, error) {
	switch normalizeProviderType(cfg.Type) {
	case "anthropic", "openai":
		return newJetifyClient(cfg)
	case "openai-compatible", "openaicompatible":
		return newCompatClient(cfg), nil
	case "mock":
		return NewMockClient(cfg.ID, MockStep{Reply: &Reply{Text: "mock summary"}}), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

func normalizeProviderType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	return t
}

// jetifyClient drives OpenAI and Anthropic through the jetify language
// model abstraction.
type jetifyClient struct {
	name  string
	model string
	lm    jetapi.LanguageModel
}

func newJetifyClient(cfg config.ProviderConfig) (*jetifyClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("api key is empty")
	}
	modelID := strings.TrimSpace(cfg.Model)
	endpoint := strings.TrimSpace(cfg.Endpoint)

	if normalizeProviderType(cfg.Type) == "anthropic" {
		if modelID == "" {
			modelID = "claude-haiku-4-5-20251001"
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		lm := jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client))
		return &jetifyClient{name: cfg.ID, model: modelID, lm: lm}, nil
	}

	if modelID == "" {
		modelID = "gpt-4o-mini"
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}
	client := openaiclient.NewClient(opts...)
	lm := jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client))
	return &jetifyClient{name: cfg.ID, model: modelID, lm: lm}, nil
}

func (c *jetifyClient) Name() string  { return c.name }
func (c *jetifyClient) Model() string { return c.model }

func (c *jetifyClient) Summarize(ctx context.Context, prompt Prompt) (*Reply, error) {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: prompt.System})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt.User)})

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}

	resp, err := jetai.GenerateText(ctx, messages,
		jetai.WithModel(c.lm),
		jetai.WithMaxOutputTokens(maxTokens),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &CallError{Kind: FailTimeout, Message: "generation timed out", cause: err}
		}
		return nil, &CallError{Kind: FailUpstream, Message: "generation failed", cause: err}
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, &CallError{Kind: FailUpstream, Message: err.Error()}
	}

	reply := &Reply{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if reply.InputTokens == 0 && reply.OutputTokens == 0 {
		// Some gateways omit usage; estimate so billing records stay sane.
		reply.InputTokens = estimateTokens(prompt.System + prompt.User)
		reply.OutputTokens = estimateTokens(text)
	}
	return reply, nil
}

func extractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from provider")
	}
	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}
	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from provider")
	}
	return text, nil
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// compatClient speaks the bare OpenAI chat-completions wire format for
// self-hosted or gateway deployments.
type compatClient struct {
	name     string
	model    string
	endpoint string
	apiKey   string
	http     *http.Client
}

func newCompatClient(cfg config.ProviderConfig) *compatClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &compatClient{
		name:     cfg.ID,
		model:    model,
		endpoint: normalizeCompatEndpoint(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		http:     &http.Client{},
	}
}

func (c *compatClient) Name() string  { return c.name }
func (c *compatClient) Model() string { return c.model }

func (c *compatClient) Summarize(ctx context.Context, prompt Prompt) (*Reply, error) {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": prompt.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt.User})

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model":      c.model,
		"messages":   messages,
		"max_tokens": maxTokens,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: FailInvalidInput, Message: "build request", cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &CallError{Kind: FailTimeout, Message: "request timed out", cause: err}
		}
		return nil, &CallError{Kind: FailUpstream, Message: "request failed", cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Kind: FailUpstream, Message: "read response", cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &CallError{Kind: FailRateLimited, Message: "provider rate limited"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &CallError{Kind: FailUpstream, Message: strings.TrimSpace(string(respBody))}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &CallError{Kind: FailInvalidInput, Message: strings.TrimSpace(string(respBody))}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &CallError{Kind: FailUpstream, Message: "invalid response body", cause: err}
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, &CallError{Kind: FailUpstream, Message: "empty response from provider"}
	}

	reply := &Reply{
		Text:         result.Choices[0].Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}
	if reply.InputTokens == 0 && reply.OutputTokens == 0 {
		reply.InputTokens = estimateTokens(prompt.System + prompt.User)
		reply.OutputTokens = estimateTokens(reply.Text)
	}
	return reply, nil
}

func normalizeCompatEndpoint(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "https://api.openai.com"
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	}
	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/v1")
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		if path == "" {
			path = "/v1"
		} else {
			path += "/v1"
		}
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
