// Package summarize generates paper summaries, keywords, and review
// documents via the OpenAI Chat Completions API. It backs the summarize and
// generate pipeline stages.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/observability"
)

// Default values for the summarization client.
const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1024
	defaultMaxKeywords = 10
	defaultMaxRetries  = 3
	defaultRetryDelay  = 2 * time.Second
	defaultTimeout     = 60 * time.Second

	summaryTemperature = 0.2
)

// Config holds the parameters needed to create a summarization client.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the chat completion model (e.g. "gpt-4o-mini").
	Model string
	// BaseURL is an optional API base URL override (tests, proxies).
	BaseURL string
	// MaxTokens caps generated output length.
	MaxTokens int
	// MaxKeywords caps extracted keyword count.
	MaxKeywords int
	// MaxRetries is the retry budget per call.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// Timeout is the HTTP timeout per attempt.
	Timeout time.Duration
	// HTTPClient optionally overrides the transport (tests).
	HTTPClient *http.Client
}

// Client calls the OpenAI Chat Completions API with bounded retries.
type Client struct {
	client      openai.Client
	model       string
	maxTokens   int
	maxKeywords int
	maxRetries  uint
	retryDelay  time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// NewClient creates a summarization client.
func NewClient(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = defaultMaxKeywords
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// SDK-level retries are disabled: retry-go owns the retry loop so
		// attempts are counted and logged in one place.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxKeywords: cfg.MaxKeywords,
		maxRetries:  uint(cfg.MaxRetries),
		retryDelay:  cfg.RetryDelay,
		logger:      observability.WithComponent(logger, "summarize"),
		metrics:     metrics,
	}
}

// GenerateSummary produces a concise summary of a paper from its title and
// abstract or extracted text.
func (c *Client) GenerateSummary(ctx context.Context, title, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text to summarize for %q", title)
	}

	system := "You are a research assistant. Summarize scientific papers accurately and concisely. " +
		"Cover the problem addressed, the approach, and the key findings in at most three paragraphs. " +
		"Do not speculate beyond the provided text."
	user := fmt.Sprintf("Title: %s\n\n%s", title, text)

	content, err := c.complete(ctx, "summary", system, user)
	if err != nil {
		return "", err
	}

	c.metrics.RecordSummaryGenerated()
	return strings.TrimSpace(content), nil
}

// ExtractKeywords extracts up to the configured number of research keywords
// from the given text. The model is asked for a JSON array; fenced or
// prefixed output is tolerated.
func (c *Client) ExtractKeywords(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text to extract keywords from")
	}

	system := fmt.Sprintf("You are a research assistant. Extract at most %d research keywords "+
		"from the provided text. Respond with only a JSON array of strings, no other text.", c.maxKeywords)

	content, err := c.complete(ctx, "keywords", system, text)
	if err != nil {
		return nil, err
	}

	keywords, err := parseKeywords(content)
	if err != nil {
		return nil, fmt.Errorf("parse keyword response: %w", err)
	}
	if len(keywords) > c.maxKeywords {
		keywords = keywords[:c.maxKeywords]
	}

	return keywords, nil
}

// GenerateReview composes a short review document for a paper from its
// summary and the titles of related papers. Used by the generate stage.
func (c *Client) GenerateReview(ctx context.Context, title, summary string, relatedTitles []string) (string, error) {
	if strings.TrimSpace(summary) == "" {
		summary = "(no summary available)"
	}

	system := "You are a research assistant writing a brief literature review entry. " +
		"Given a paper's summary and a list of related papers, write a short review " +
		"situating the paper among its citations and references. Be factual and concise."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Paper: %s\n\nSummary:\n%s\n", title, summary)
	if len(relatedTitles) > 0 {
		sb.WriteString("\nRelated papers:\n")
		for _, t := range relatedTitles {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}

	content, err := c.complete(ctx, "review", system, sb.String())
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}

// complete runs one chat completion with bounded retries and records
// request metrics per attempt outcome.
func (c *Client) complete(ctx context.Context, operation, system, user string) (string, error) {
	var content string

	err := retry.Do(
		func() error {
			start := time.Now()
			resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: openai.ChatModel(c.model),
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(user),
				},
				MaxTokens:   openai.Int(int64(c.maxTokens)),
				Temperature: openai.Float(summaryTemperature),
			})
			if err != nil {
				c.metrics.RecordLLMRequestFailed(operation, c.model, "request")
				return err
			}
			if len(resp.Choices) == 0 {
				c.metrics.RecordLLMRequestFailed(operation, c.model, "empty_response")
				return fmt.Errorf("completion returned no choices")
			}

			c.metrics.RecordLLMRequest(operation, c.model, time.Since(start).Seconds())
			content = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Warn().
				Uint("attempt", attempt+1).
				Str("operation", operation).
				Err(err).
				Msg("completion attempt failed, retrying")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", operation, err)
	}

	return content, nil
}

// parseKeywords decodes a JSON string array, stripping markdown code fences
// the model sometimes wraps around its output.
func parseKeywords(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var keywords []string
	if err := json.Unmarshal([]byte(content), &keywords); err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return cleaned, nil
}
