package repository

import (
	"context"

	"github.com/helixir/citegraph-service/internal/domain"
)

// PaperRepository handles paper persistence and per-stage status tracking.
// Papers are keyed by their bibliographic source identifier, so the same
// paper discovered along multiple traversal paths converges on one row.
type PaperRepository interface {
	// Upsert inserts a new paper or merges metadata into an existing one
	// based on source_id. Metadata merging never degrades existing data:
	// empty incoming fields leave the stored value untouched, counts keep
	// the maximum, and crawl_depth keeps the minimum distance from a seed.
	// Stage status columns are not modified by Upsert.
	// Returns the stored paper reflecting the merged state.
	// Returns domain.ErrInvalidInput if the paper has no source ID.
	Upsert(ctx context.Context, paper *domain.Paper) (*domain.Paper, error)

	// BulkUpsert merges multiple papers in a single network roundtrip
	// using the same semantics as Upsert. Returned papers are in input
	// order. Returns domain.ErrInvalidInput if any paper has no source ID.
	BulkUpsert(ctx context.Context, papers []*domain.Paper) ([]*domain.Paper, error)

	// GetBySourceID retrieves a paper by its source identifier.
	// Returns domain.ErrNotFound if no matching paper exists.
	GetBySourceID(ctx context.Context, sourceID string) (*domain.Paper, error)

	// List retrieves papers matching the filter criteria.
	// Returns the matching papers and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter PaperFilter) ([]*domain.Paper, int64, error)

	// UpdateStageStatus sets the status column for one pipeline stage.
	// The errorMessage replaces any previous stage error; pass "" to clear it.
	// A failed transition also increments the paper's retry_count.
	// Returns domain.ErrNotFound if the paper does not exist.
	UpdateStageStatus(ctx context.Context, sourceID string, stage domain.TaskType, status domain.StageStatus, errorMessage string) error

	// SetSummary stores the generated summary and extracted keywords and
	// marks the summarize stage completed.
	// Returns domain.ErrNotFound if the paper does not exist.
	SetSummary(ctx context.Context, sourceID string, summary string, keywords []string) error

	// SetReview stores the generated review document and marks the
	// generate stage completed.
	// Returns domain.ErrNotFound if the paper does not exist.
	SetReview(ctx context.Context, sourceID string, review string) error
}

// PaperFilter specifies criteria for listing papers.
type PaperFilter struct {
	// CrawlStatus filters by crawl stage status (optional).
	CrawlStatus *domain.StageStatus

	// SummaryStatus filters by summarize stage status (optional).
	SummaryStatus *domain.StageStatus

	// GenerateStatus filters by generate stage status (optional).
	GenerateStatus *domain.StageStatus

	// HasPDF filters to papers that have a PDF URL available (optional).
	// When true, only papers with PDFURL set are returned.
	// When false, only papers without PDFURL are returned.
	// When nil, no filtering is applied.
	HasPDF *bool

	// MaxCrawlDepth filters to papers at or below a hop distance (optional).
	MaxCrawlDepth *int

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *PaperFilter) Validate() error {
	if f.CrawlStatus != nil && !f.CrawlStatus.Valid() {
		return domain.NewValidationError("crawl_status", "unknown stage status")
	}
	if f.SummaryStatus != nil && !f.SummaryStatus.Valid() {
		return domain.NewValidationError("summary_status", "unknown stage status")
	}
	if f.GenerateStatus != nil && !f.GenerateStatus.Valid() {
		return domain.NewValidationError("generate_status", "unknown stage status")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
