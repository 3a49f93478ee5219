package lats

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/latsforge/latsforge/internal/llm"
	"github.com/latsforge/latsforge/internal/llm/providers"
)

// retryDelays is the exact sleep schedule between the three total attempts:
// none before the first, 2s before the second, 4s before the third.
var retryDelays = []time.Duration{0, 2 * time.Second, 4 * time.Second}

const maxAttempts = 3

// LMClient wraps the configured ApiHandler with the search's own retry
// contract and JSON extraction, independent of whatever retry machinery
// the handler itself may already apply.
type LMClient struct {
	provider  string
	apiKey    string
	baseURL   string
	modelID   string
	sleep     func(time.Duration)
	newHandler func(options llm.ApiHandlerOptions) (llm.ApiHandler, error)
}

// NewLMClient builds a client for one configured provider/model pair.
func NewLMClient(provider, apiKey, baseURL, modelID string) *LMClient {
	return &LMClient{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    baseURL,
		modelID:    modelID,
		sleep:      time.Sleep,
		newHandler: providers.BuildApiHandler,
	}
}

func (c *LMClient) buildOptions(temperature float64, maxTokens int) llm.ApiHandlerOptions {
	opts := llm.ApiHandlerOptions{
		APIKey:  c.apiKey,
		ModelID: c.modelID,
		ModelInfo: &llm.ModelInfo{
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		},
		OnRetryAttempt: func(attempt, maxRetries int, delay time.Duration, err error) error {
			log.Debug("LM provider retry", "attempt", attempt, "maxRetries", maxRetries, "delay", delay, "err", err)
			return nil
		},
	}
	switch strings.ToLower(c.provider) {
	case "anthropic":
		opts.AnthropicBaseURL = c.baseURL
	case "openai":
		opts.OpenAIBaseURL = c.baseURL
	case "gemini":
		opts.GeminiBaseURL = c.baseURL
	case "openrouter":
		opts.OpenRouterAPIKey = c.apiKey
		opts.OpenRouterModelID = c.modelID
	case "bedrock":
		opts.AWSAccessKey = c.apiKey
	}
	return opts
}

// isRetryable classifies an error per §7's retry triggers: HTTP 429, any
// HTTP >= 400 status, timeout, or any transport error. Since the wrapped
// handler reports these as plain errors, this treats every error from the
// handler/stream as retryable, matching "any transport error".
func isRetryable(err error) bool {
	return err != nil
}

// Generate calls the configured model with prompt, returning its full text.
// Retry contract: three attempts total, sleeping 2s then 4s between them
// (exponential with base 2). After three failed attempts it returns the
// last error.
func (c *LMClient) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int, systemMessage string) (string, int, int, error) {
	options := c.buildOptions(temperature, maxTokens)

	messages := []llm.Message{{
		Role:    "user",
		Content: []llm.ContentBlock{llm.TextBlock{Text: prompt}},
	}}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if retryDelays[attempt] > 0 {
			c.sleep(retryDelays[attempt])
		}

		handler, err := c.newHandler(options)
		if err != nil {
			return "", 0, 0, fmt.Errorf("build LM handler: %w", err)
		}

		text, promptTokens, completionTokens, err := c.attempt(ctx, handler, systemMessage, messages)
		if err == nil {
			return text, promptTokens, completionTokens, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return "", 0, 0, fmt.Errorf("LM generation failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *LMClient) attempt(ctx context.Context, handler llm.ApiHandler, systemMessage string, messages []llm.Message) (string, int, int, error) {
	stream, err := handler.CreateMessage(ctx, systemMessage, messages)
	if err != nil {
		return "", 0, 0, err
	}

	processor := llm.NewStreamProcessor(ctx)
	collector, err := processor.ProcessStream(stream)
	if err != nil {
		return "", 0, 0, err
	}

	text := collector.GetFullText()
	promptTokens := approxTokens(joinTexts(messages))
	completionTokens := approxTokens(text)
	if collector.Usage != nil && collector.Usage.InputTokens+collector.Usage.OutputTokens > 0 {
		promptTokens = collector.Usage.InputTokens
		completionTokens = collector.Usage.OutputTokens
	}
	return text, promptTokens, completionTokens, nil
}

func joinTexts(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		for _, c := range m.Content {
			if t, ok := c.(llm.TextBlock); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return b.String()
}

// approxTokens implements the search's own rough token accounting:
// ceil(len(text)/4), used when the provider does not report real usage.
func approxTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

var (
	jsonFencedBlock   = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	jsonPlainBlock    = regexp.MustCompile("(?s)```\\s*(.*?)```")
	jsonGreedyArrayOr = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
)

// ExtractJSON applies the four-step extraction cascade: trimmed whole-text
// parse, a ```json fenced block, an untagged fenced block, then a greedy
// top-level object/array match. It returns an error only if every step
// fails to produce parseable JSON.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if m := jsonFencedBlock.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	if m := jsonPlainBlock.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	if m := jsonGreedyArrayOr.FindString(text); m != "" {
		candidate := strings.TrimSpace(m)
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("no JSON found in LM response")
}
