package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/repository"
)

// relatedTitleLimit caps how many neighbor titles feed the review prompt.
const relatedTitleLimit = 10

// ReviewGenerator composes a review document from a paper's summary and its
// neighborhood. Satisfied by summarize.Client.
type ReviewGenerator interface {
	GenerateReview(ctx context.Context, title, summary string, relatedTitles []string) (string, error)
}

// GenerateStage executes generate tasks: it gathers the paper's citation
// neighborhood, asks the review generator for a review document, and
// persists it as the pipeline's final output for the paper.
type GenerateStage struct {
	papers    repository.PaperRepository
	relations repository.RelationRepository
	llm       ReviewGenerator
	logger    zerolog.Logger
}

var _ Executor = (*GenerateStage)(nil)

// NewGenerateStage creates the generate stage executor.
func NewGenerateStage(papers repository.PaperRepository, relations repository.RelationRepository, llm ReviewGenerator, logger zerolog.Logger) *GenerateStage {
	return &GenerateStage{
		papers:    papers,
		relations: relations,
		llm:       llm,
		logger:    observability.WithComponent(logger, "generate_stage"),
	}
}

// TaskType implements Executor.
func (s *GenerateStage) TaskType() domain.TaskType {
	return domain.TaskGenerate
}

// Execute generates the review document for one paper.
func (s *GenerateStage) Execute(ctx context.Context, entry *domain.QueueEntry) ([]*domain.QueueEntry, error) {
	paper, err := s.papers.GetBySourceID(ctx, entry.PaperID)
	if err != nil {
		return nil, s.fail(entry.PaperID, fmt.Errorf("load paper: %w", err))
	}

	if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskGenerate, domain.StageRunning, ""); err != nil {
		return nil, s.fail(entry.PaperID, err)
	}

	relatedTitles, err := s.relatedTitles(ctx, entry.PaperID)
	if err != nil {
		if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskGenerate, domain.StageFailed, err.Error()); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("paper_id", entry.PaperID).Msg("failed to record generate failure")
		}
		return nil, s.fail(entry.PaperID, err)
	}

	// Papers without a PDF source skip summarize; fall back to the
	// abstract so their review is grounded in whatever text exists.
	summary := strings.TrimSpace(paper.Summary)
	if summary == "" {
		summary = strings.TrimSpace(paper.Abstract)
	}

	review, err := s.llm.GenerateReview(ctx, paper.Title, summary, relatedTitles)
	if err != nil {
		if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskGenerate, domain.StageFailed, err.Error()); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("paper_id", entry.PaperID).Msg("failed to record generate failure")
		}
		return nil, s.fail(entry.PaperID, err)
	}

	if err := s.papers.SetReview(ctx, entry.PaperID, review); err != nil {
		return nil, s.fail(entry.PaperID, fmt.Errorf("persist review: %w", err))
	}

	return nil, nil
}

// relatedTitles resolves the titles of papers connected to the given one,
// in either edge direction. Neighbors missing from the store are skipped;
// the graph can reference papers whose own crawl never ran.
func (s *GenerateStage) relatedTitles(ctx context.Context, paperID string) ([]string, error) {
	relations, _, err := s.relations.ListForPaper(ctx, paperID, relatedTitleLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}

	titles := make([]string, 0, len(relations))
	for _, relation := range relations {
		neighborID := relation.SourcePaperID
		if neighborID == paperID {
			neighborID = relation.TargetPaperID
		}

		neighbor, err := s.papers.GetBySourceID(ctx, neighborID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load neighbor %s: %w", neighborID, err)
		}
		if title := strings.TrimSpace(neighbor.Title); title != "" {
			titles = append(titles, title)
		}
	}

	return titles, nil
}

func (s *GenerateStage) fail(paperID string, err error) error {
	return &domain.StageExecutionError{Stage: domain.TaskGenerate, PaperID: paperID, Cause: err}
}
