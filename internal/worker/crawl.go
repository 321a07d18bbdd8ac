package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/repository"
)

// Expander runs one graph expansion. Satisfied by crawler.Orchestrator.
type Expander interface {
	Expand(ctx context.Context, paperID string, hopCount, maxHops int) ([]*domain.QueueEntry, error)
}

// CrawlStage executes crawl tasks: it drives the orchestrator's expansion
// and keeps the paper's crawl stage status in step with the outcome.
type CrawlStage struct {
	orchestrator Expander
	papers       repository.PaperRepository
	logger       zerolog.Logger
}

var _ Executor = (*CrawlStage)(nil)

// NewCrawlStage creates the crawl stage executor.
func NewCrawlStage(orchestrator Expander, papers repository.PaperRepository, logger zerolog.Logger) *CrawlStage {
	return &CrawlStage{
		orchestrator: orchestrator,
		papers:       papers,
		logger:       observability.WithComponent(logger, "crawl_stage"),
	}
}

// TaskType implements Executor.
func (s *CrawlStage) TaskType() domain.TaskType {
	return domain.TaskCrawl
}

// Execute expands the paper's citation neighborhood. Returned entries are
// the next-hop crawl tasks the expansion enqueued.
//
// The paper row may not exist yet when the entry came from seed ingestion;
// the running-status update is therefore best-effort, while the expansion
// itself upserts the row before the final status write.
func (s *CrawlStage) Execute(ctx context.Context, entry *domain.QueueEntry) ([]*domain.QueueEntry, error) {
	if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskCrawl, domain.StageRunning, ""); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.StageExecutionError{Stage: domain.TaskCrawl, PaperID: entry.PaperID, Cause: err}
	}

	followups, err := s.orchestrator.Expand(ctx, entry.PaperID, entry.Parameters.HopCount, entry.Parameters.MaxHops)
	if err != nil {
		if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskCrawl, domain.StageFailed, err.Error()); statusErr != nil {
			s.logger.Warn().Err(statusErr).
				Str("paper_id", entry.PaperID).
				Msg("failed to record crawl failure on paper")
		}
		return nil, &domain.StageExecutionError{Stage: domain.TaskCrawl, PaperID: entry.PaperID, Cause: err}
	}

	if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskCrawl, domain.StageCompleted, ""); err != nil {
		return nil, &domain.StageExecutionError{Stage: domain.TaskCrawl, PaperID: entry.PaperID, Cause: err}
	}

	return followups, nil
}
