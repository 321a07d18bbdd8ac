package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/pdf"
	"github.com/helixir/citegraph-service/internal/repository"
)

// Summarizer produces summaries and keywords from paper text. Satisfied by
// summarize.Client.
type Summarizer interface {
	GenerateSummary(ctx context.Context, title, text string) (string, error)
	ExtractKeywords(ctx context.Context, text string) ([]string, error)
}

// PDFVerifier checks that a paper's PDF source serves a usable document.
// Satisfied by pdf.Verifier.
type PDFVerifier interface {
	Verify(ctx context.Context, url string) (*pdf.VerifyResult, error)
}

// SummarizeStage executes summarize tasks: it verifies the paper's PDF
// source, calls the summarization client on the title and abstract, and
// persists summary and keywords.
//
// A PDF source that fails verification is treated the same as having no
// PDF source at all: the stage is marked skipped and the pipeline falls
// back to the abstract for review generation.
type SummarizeStage struct {
	papers repository.PaperRepository
	pdfs   PDFVerifier
	llm    Summarizer
	logger zerolog.Logger
}

var _ Executor = (*SummarizeStage)(nil)

// NewSummarizeStage creates the summarize stage executor. The PDF
// verifier is optional; nil skips source verification.
func NewSummarizeStage(papers repository.PaperRepository, pdfs PDFVerifier, llm Summarizer, logger zerolog.Logger) *SummarizeStage {
	return &SummarizeStage{
		papers: papers,
		pdfs:   pdfs,
		llm:    llm,
		logger: observability.WithComponent(logger, "summarize_stage"),
	}
}

// TaskType implements Executor.
func (s *SummarizeStage) TaskType() domain.TaskType {
	return domain.TaskSummarize
}

// Execute summarizes one paper.
func (s *SummarizeStage) Execute(ctx context.Context, entry *domain.QueueEntry) ([]*domain.QueueEntry, error) {
	paper, err := s.papers.GetBySourceID(ctx, entry.PaperID)
	if err != nil {
		return nil, s.fail(entry.PaperID, fmt.Errorf("load paper: %w", err))
	}

	// Gating normally prevents this, but the PDF source can disappear
	// between enqueue and execution (a later upsert never clears it, but
	// operators can). Mirror the gating outcome instead of erroring.
	if !paper.HasPDFSource() {
		if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageSkipped, ""); err != nil {
			return nil, s.fail(entry.PaperID, fmt.Errorf("mark summarize skipped: %w", err))
		}
		s.logger.Info().Str("paper_id", entry.PaperID).Msg("no PDF source, summarize skipped")
		return nil, nil
	}

	if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageRunning, ""); err != nil {
		return nil, s.fail(entry.PaperID, err)
	}

	if s.pdfs != nil {
		result, err := s.pdfs.Verify(ctx, paper.PDFURL)
		if err != nil {
			// A cancelled context is a transient failure and stays
			// retryable; everything else means the source is unusable.
			if ctx.Err() != nil {
				return nil, s.fail(entry.PaperID, fmt.Errorf("verify PDF source: %w", err))
			}
			if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageSkipped, err.Error()); statusErr != nil {
				return nil, s.fail(entry.PaperID, fmt.Errorf("mark summarize skipped: %w", statusErr))
			}
			s.logger.Warn().Err(err).
				Str("paper_id", entry.PaperID).
				Str("pdf_url", paper.PDFURL).
				Msg("PDF source failed verification, summarize skipped")
			return nil, nil
		}
		s.logger.Debug().
			Str("paper_id", entry.PaperID).
			Int64("size_bytes", result.SizeBytes).
			Msg("PDF source verified")
	}

	text := strings.TrimSpace(paper.Abstract)
	if text == "" {
		err := fmt.Errorf("paper has no abstract text to summarize")
		if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageFailed, err.Error()); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("paper_id", entry.PaperID).Msg("failed to record summarize failure")
		}
		return nil, s.fail(entry.PaperID, err)
	}

	summary, err := s.llm.GenerateSummary(ctx, paper.Title, text)
	if err != nil {
		if statusErr := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageFailed, err.Error()); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("paper_id", entry.PaperID).Msg("failed to record summarize failure")
		}
		return nil, s.fail(entry.PaperID, err)
	}

	// Keywords are best-effort; a summary without keywords still completes
	// the stage.
	keywords, err := s.llm.ExtractKeywords(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Str("paper_id", entry.PaperID).Msg("keyword extraction failed")
		keywords = nil
	}

	if err := s.papers.SetSummary(ctx, entry.PaperID, summary, keywords); err != nil {
		return nil, s.fail(entry.PaperID, fmt.Errorf("persist summary: %w", err))
	}

	return nil, nil
}

func (s *SummarizeStage) fail(paperID string, err error) error {
	return &domain.StageExecutionError{Stage: domain.TaskSummarize, PaperID: paperID, Cause: err}
}
