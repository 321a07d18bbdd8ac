package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/recovery"
	"github.com/helixir/citegraph-service/internal/repository"
)

// Response types for JSON serialization.

type seedCrawlResponse struct {
	QueueID  int64  `json:"queue_id"`
	PaperID  string `json:"paper_id"`
	TaskType string `json:"task_type"`
	Priority int    `json:"priority"`
	MaxHops  int    `json:"max_hops"`
	// Created is false when an active crawl entry already existed for the
	// paper and the request deduplicated onto it.
	Created bool `json:"created"`
}

type paperResponse struct {
	SourceID       string     `json:"source_id"`
	Title          string     `json:"title,omitempty"`
	Abstract       string     `json:"abstract,omitempty"`
	Year           int        `json:"year,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	CitationCount  int        `json:"citation_count"`
	ReferenceCount int        `json:"reference_count"`
	PDFURL         string     `json:"pdf_url,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`
	Review         string     `json:"review,omitempty"`
	CrawlStatus    string     `json:"crawl_status"`
	SummaryStatus  string     `json:"summary_status"`
	GenerateStatus string     `json:"generate_status"`
	CrawlDepth     int        `json:"crawl_depth"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type relationResponse struct {
	SourcePaperID  string    `json:"source_paper_id"`
	TargetPaperID  string    `json:"target_paper_id"`
	RelationType   string    `json:"relation_type"`
	HopCount       int       `json:"hop_count"`
	RelevanceScore float64   `json:"relevance_score"`
	CreatedAt      time.Time `json:"created_at"`
}

type listRelationsResponse struct {
	Relations  []relationResponse `json:"relations"`
	TotalCount int64              `json:"total_count"`
}

type queueStatsResponse struct {
	Stats []repository.QueueStat `json:"stats"`
}

type recoveryStatsResponse struct {
	Actions []recovery.ActionStats `json:"actions"`
}

func domainPaperToResponse(p *domain.Paper) paperResponse {
	return paperResponse{
		SourceID:       p.SourceID,
		Title:          p.Title,
		Abstract:       p.Abstract,
		Year:           p.Year,
		Venue:          p.Venue,
		CitationCount:  p.CitationCount,
		ReferenceCount: p.ReferenceCount,
		PDFURL:         p.PDFURL,
		Summary:        p.Summary,
		Keywords:       p.Keywords,
		Review:         p.Review,
		CrawlStatus:    string(p.CrawlStatus),
		SummaryStatus:  string(p.SummaryStatus),
		GenerateStatus: string(p.GenerateStatus),
		CrawlDepth:     p.CrawlDepth,
		ErrorMessage:   p.ErrorMessage,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func domainRelationToResponse(rel *domain.PaperRelation) relationResponse {
	return relationResponse{
		SourcePaperID:  rel.SourcePaperID,
		TargetPaperID:  rel.TargetPaperID,
		RelationType:   string(rel.Type),
		HopCount:       rel.HopCount,
		RelevanceScore: rel.RelevanceScore,
		CreatedAt:      rel.CreatedAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
