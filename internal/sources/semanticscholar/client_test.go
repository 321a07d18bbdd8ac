package semanticscholar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citegraph-service/internal/domain"
)

// newTestClient creates a client pointed at a test server with retries and
// rate limiting effectively disabled.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:   srv.URL,
		RateLimit: 1000,
		BurstSize: 1000,
	}, nil)

	return client, srv
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{}, nil)

	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
	assert.Equal(t, DefaultPageSize, client.config.PageSize)
	assert.Equal(t, sourceName, client.Name())
}

func TestClient_GetPaper(t *testing.T) {
	ctx := context.Background()

	t.Run("returns converted paper", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/abc123", r.URL.Path)
			assert.Contains(t, r.URL.Query().Get("fields"), "citationCount")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"paperId": "abc123",
				"title": "Attention Is All You Need",
				"abstract": "The dominant sequence transduction models...",
				"year": 2017,
				"venue": "NeurIPS",
				"citationCount": 95000,
				"referenceCount": 40,
				"isOpenAccess": true,
				"openAccessPdf": {"url": "https://example.com/p.pdf", "status": "GREEN"}
			}`))
		})

		paper, err := client.GetPaper(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "abc123", paper.SourceID)
		assert.Equal(t, "Attention Is All You Need", paper.Title)
		assert.Equal(t, 2017, paper.Year)
		assert.Equal(t, 95000, paper.CitationCount)
		assert.Equal(t, "https://example.com/p.pdf", paper.PDFURL)
		assert.Equal(t, domain.StagePending, paper.CrawlStatus)
	})

	t.Run("maps 404 to not found", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		paper, err := client.GetPaper(ctx, "missing")
		assert.Nil(t, paper)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("rejects empty ID", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := client.GetPaper(ctx, "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("surfaces API errors with status", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error": "forbidden"}`))
		})

		_, err := client.GetPaper(ctx, "abc123")
		var apiErr *domain.SourceAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "forbidden", apiErr.Message)
	})
}

func TestClient_GetCitations(t *testing.T) {
	ctx := context.Background()

	t.Run("unwraps citing papers and skips unresolved neighbors", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/abc123/citations", r.URL.Path)
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"offset": 0,
				"data": [
					{"citingPaper": {"paperId": "cite1", "title": "Citing One", "year": 2020}},
					{"citingPaper": {"paperId": "", "title": "Unresolved"}},
					{"citingPaper": {"paperId": "cite2", "title": "Citing Two", "year": 2021}}
				]
			}`))
		})

		papers, err := client.GetCitations(ctx, "abc123", 50)
		require.NoError(t, err)
		require.Len(t, papers, 2)
		assert.Equal(t, "cite1", papers[0].SourceID)
		assert.Equal(t, "cite2", papers[1].SourceID)
	})

	t.Run("clamps limit to configured page size", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "100", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"data": []}`))
		})

		_, err := client.GetCitations(ctx, "abc123", 5000)
		require.NoError(t, err)
	})
}

func TestClient_GetReferences(t *testing.T) {
	ctx := context.Background()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/abc123/references", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"offset": 0,
			"data": [
				{"citedPaper": {"paperId": "ref1", "title": "Reference One", "year": 2014, "citationCount": 300}}
			]
		}`))
	})

	papers, err := client.GetReferences(ctx, "abc123", 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "ref1", papers[0].SourceID)
	assert.Equal(t, 300, papers[0].CitationCount)
}

func TestClient_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("returns matching papers", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/search", r.URL.Path)
			assert.Equal(t, "attention transformers", r.URL.Query().Get("query"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"total": 1,
				"offset": 0,
				"data": [{"paperId": "abc123", "title": "Attention Is All You Need", "year": 2017}]
			}`))
		})

		papers, err := client.Search(ctx, "attention transformers", 10)
		require.NoError(t, err)
		require.Len(t, papers, 1)
		assert.Equal(t, "abc123", papers[0].SourceID)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := client.Search(ctx, "", 10)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
