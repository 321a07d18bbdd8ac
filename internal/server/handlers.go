package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/citegraph-service/internal/crawler"
	"github.com/helixir/citegraph-service/internal/domain"
)

var validate = validator.New()

// seedCrawlRequest is the body of POST /papers/{paperID}/crawl. A nil
// MaxHops means the caller omitted it and the configured default applies.
type seedCrawlRequest struct {
	MaxHops *int `json:"max_hops" validate:"omitempty,min=1,max=10"`
}

// handleSeedCrawl implements POST /api/v1/papers/{paperID}/crawl. It
// creates a stub paper row, enqueues the seed crawl at top priority, and
// publishes the dispatch. Seeding an already-queued paper deduplicates
// onto the existing entry.
func (s *Server) handleSeedCrawl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paperID := strings.TrimSpace(chi.URLParam(r, "paperID"))
	if paperID == "" {
		writeError(w, http.StatusBadRequest, "paper ID is required")
		return
	}

	var req seedCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "max_hops must be between 1 and 10")
		return
	}

	maxHops := s.defaultMaxHops
	if req.MaxHops != nil {
		maxHops = *req.MaxHops
	}

	// The stub row lets stage bookkeeping attach to the paper before its
	// metadata arrives from the source.
	if _, err := s.papers.Upsert(ctx, &domain.Paper{SourceID: paperID, CrawlDepth: 0}); err != nil {
		writeDomainError(w, err)
		return
	}

	entry, created, err := s.queue.Enqueue(ctx, paperID, domain.TaskCrawl, crawler.QueuePriority(0), domain.TaskParameters{
		HopCount: 0,
		MaxHops:  maxHops,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if created {
		if err := s.publisher.Publish(ctx, entry); err != nil {
			// The entry is queued; the sweep will dispatch it.
			s.logger.Warn().Err(err).
				Int64("queue_id", entry.ID).
				Str("paper_id", paperID).
				Msg("seed dispatch failed, sweep will recover it")
		}
	}

	writeJSON(w, http.StatusAccepted, seedCrawlResponse{
		QueueID:  entry.ID,
		PaperID:  paperID,
		TaskType: string(entry.TaskType),
		Priority: entry.Priority,
		MaxHops:  maxHops,
		Created:  created,
	})
}

// handleGetPaper implements GET /api/v1/papers/{paperID}.
func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	paper, err := s.papers.GetBySourceID(r.Context(), paperID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainPaperToResponse(paper))
}

// handleGetRelations implements GET /api/v1/papers/{paperID}/relations.
func (s *Server) handleGetRelations(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	limit, offset := parsePagination(r)

	relations, total, err := s.relations.ListForPaper(r.Context(), paperID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]relationResponse, len(relations))
	for i, rel := range relations {
		responses[i] = domainRelationToResponse(rel)
	}

	writeJSON(w, http.StatusOK, listRelationsResponse{
		Relations:  responses,
		TotalCount: total,
	})
}

// handleQueueStats implements GET /api/v1/queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queueStatsResponse{Stats: stats})
}

// handleRecoveryStats implements GET /api/v1/recovery/stats.
func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	if s.recovery == nil {
		writeJSON(w, http.StatusOK, recoveryStatsResponse{Actions: nil})
		return
	}

	writeJSON(w, http.StatusOK, recoveryStatsResponse{Actions: s.recovery.Stats()})
}

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
