package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/sources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit for unauthenticated requests.
	// With an API key, this can be increased.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default maximum number of results per request.
	DefaultPageSize = 100

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// paperFields is the list of fields to request for a paper.
	paperFields = "paperId,title,abstract,year,venue,citationCount,referenceCount,isOpenAccess,openAccessPdf"

	// sourceName is the stable identifier for this source.
	sourceName = "semantic_scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	// Authenticated requests have higher rate limits.
	APIKey string

	// Timeout is the HTTP request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// Retry controls backoff on transport errors, 429s, and 5xx
	// responses. Zero fields fall back to sources.DefaultRetryPolicy.
	Retry sources.RetryPolicy

	// PageSize is the maximum number of results per neighbor or search
	// request. Defaults to DefaultPageSize if zero.
	PageSize int
}

// Client implements the sources.Source interface for Semantic Scholar.
type Client struct {
	httpClient *sources.HTTPClient
	config     Config
}

// Compile-time check that Client implements sources.Source.
var _ sources.Source = (*Client)(nil)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	// Apply defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}

	// Create HTTP client if not provided
	if httpClient == nil {
		httpClient = sources.NewHTTPClient(sources.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			Retry:        cfg.Retry,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Name returns the stable identifier for this source.
func (c *Client) Name() string {
	return sourceName
}

// GetPaper retrieves a paper's metadata by its Semantic Scholar ID.
func (c *Client) GetPaper(ctx context.Context, id string) (*domain.Paper, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "paper ID is required")
	}

	paperURL := fmt.Sprintf("%s/paper/%s?fields=%s", c.config.BaseURL, url.PathEscape(id), paperFields)

	var result PaperResult
	if err := c.getJSON(ctx, paperURL, id, &result); err != nil {
		return nil, err
	}

	return c.convertToPaper(result), nil
}

// GetCitations retrieves papers that cite the given paper, capped at limit.
func (c *Client) GetCitations(ctx context.Context, id string, limit int) ([]*domain.Paper, error) {
	return c.getNeighbors(ctx, id, "citations", limit)
}

// GetReferences retrieves papers the given paper cites, capped at limit.
func (c *Client) GetReferences(ctx context.Context, id string, limit int) ([]*domain.Paper, error) {
	return c.getNeighbors(ctx, id, "references", limit)
}

// getNeighbors fetches one page of a paper's citations or references list.
func (c *Client) getNeighbors(ctx context.Context, id, endpoint string, limit int) ([]*domain.Paper, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "paper ID is required")
	}
	if limit <= 0 || limit > c.config.PageSize {
		limit = c.config.PageSize
	}

	neighborsURL := fmt.Sprintf("%s/paper/%s/%s?fields=%s&limit=%d",
		c.config.BaseURL, url.PathEscape(id), endpoint, paperFields, limit)

	var resp NeighborsResponse
	if err := c.getJSON(ctx, neighborsURL, id, &resp); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(resp.Data))
	for _, edge := range resp.Data {
		result := edge.CitingPaper
		if result == nil {
			result = edge.CitedPaper
		}
		// The API returns null neighbors for papers it cannot resolve.
		if result == nil || result.PaperID == "" {
			continue
		}
		papers = append(papers, c.convertToPaper(*result))
	}

	return papers, nil
}

// Search queries Semantic Scholar by free text, capped at limit.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]*domain.Paper, error) {
	if query == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}
	if limit <= 0 || limit > c.config.PageSize {
		limit = c.config.PageSize
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	searchURL := baseURL.JoinPath("paper", "search")

	q := searchURL.Query()
	q.Set("query", query)
	q.Set("fields", paperFields)
	q.Set("limit", strconv.Itoa(limit))
	searchURL.RawQuery = q.Encode()

	var resp SearchResponse
	if err := c.getJSON(ctx, searchURL.String(), query, &resp); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(resp.Data))
	for _, result := range resp.Data {
		if result.PaperID == "" {
			continue
		}
		papers = append(papers, c.convertToPaper(result))
	}

	return papers, nil
}

// getJSON executes a GET request and decodes the JSON response into out.
// notFoundID names the entity in the error when the API returns 404.
func (c *Client) getJSON(ctx context.Context, requestURL, notFoundID string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.NewNotFoundError("paper", notFoundID)
	}

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// handleErrorResponse checks for API errors and returns appropriate error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewRateLimitError(sourceName, 0)
	}

	// Read the error body (limit to 1MB to prevent resource exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewSourceAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	// Try to parse as JSON error
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message == "" {
			message = string(body)
		}
		return domain.NewSourceAPIError(sourceName, resp.StatusCode, message, nil)
	}

	// Return raw body as error message
	return domain.NewSourceAPIError(sourceName, resp.StatusCode, string(body), nil)
}

// convertToPaper converts a single API paper result to a domain paper.
// Stage statuses default to pending; the caller owns pipeline state.
func (c *Client) convertToPaper(result PaperResult) *domain.Paper {
	paper := &domain.Paper{
		SourceID:       result.PaperID,
		Title:          result.Title,
		Abstract:       result.Abstract,
		Year:           result.Year,
		Venue:          result.Venue,
		CitationCount:  result.CitationCount,
		ReferenceCount: result.ReferenceCount,
		CrawlStatus:    domain.StagePending,
		SummaryStatus:  domain.StagePending,
		GenerateStatus: domain.StagePending,
	}

	if result.OpenAccessPDF != nil && result.OpenAccessPDF.URL != "" {
		paper.PDFURL = result.OpenAccessPDF.URL
	}

	return paper
}
