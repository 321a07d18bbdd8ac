package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/citegraph-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// paperUpsertQuery merges incoming metadata without degrading stored data:
// NULLIF collapses empty strings so they fall back to the stored value,
// counts keep the maximum seen across sources, and crawl_depth keeps the
// minimum distance from a seed. Stage status columns are untouched.
const paperUpsertQuery = `
	INSERT INTO papers (
		source_id, title, abstract, publication_year, venue,
		citation_count, reference_count, pdf_url, crawl_depth,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10
	)
	ON CONFLICT (source_id) DO UPDATE SET
		title = COALESCE(NULLIF(EXCLUDED.title, ''), papers.title),
		abstract = COALESCE(NULLIF(EXCLUDED.abstract, ''), papers.abstract),
		publication_year = COALESCE(NULLIF(EXCLUDED.publication_year, 0), papers.publication_year),
		venue = COALESCE(NULLIF(EXCLUDED.venue, ''), papers.venue),
		citation_count = GREATEST(EXCLUDED.citation_count, papers.citation_count),
		reference_count = GREATEST(EXCLUDED.reference_count, papers.reference_count),
		pdf_url = COALESCE(NULLIF(EXCLUDED.pdf_url, ''), papers.pdf_url),
		crawl_depth = LEAST(EXCLUDED.crawl_depth, papers.crawl_depth),
		updated_at = NOW()
	RETURNING source_id, title, abstract, publication_year, venue,
		citation_count, reference_count, pdf_url, summary, keywords, review,
		crawl_status, summary_status, generate_status, crawl_depth,
		retry_count, error_message, created_at, updated_at`

// Upsert inserts a new paper or merges metadata into an existing one based
// on source_id.
func (r *PgPaperRepository) Upsert(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	if paper == nil {
		return nil, domain.NewValidationError("paper", "paper cannot be nil")
	}
	if err := paper.Validate(); err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx, paperUpsertQuery,
		paper.SourceID,
		paper.Title,
		paper.Abstract,
		paper.Year,
		paper.Venue,
		paper.CitationCount,
		paper.ReferenceCount,
		paper.PDFURL,
		paper.CrawlDepth,
		time.Now().UTC(),
	)

	stored, err := scanPaper(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert paper: %w", err)
	}

	return stored, nil
}

// BulkUpsert merges multiple papers in a single network roundtrip.
// Uses pgx.Batch to send all upserts at once, reducing latency compared to
// individual queries when an expansion discovers many neighbors.
func (r *PgPaperRepository) BulkUpsert(ctx context.Context, papers []*domain.Paper) ([]*domain.Paper, error) {
	if len(papers) == 0 {
		return []*domain.Paper{}, nil
	}

	for i, paper := range papers {
		if paper == nil {
			return nil, domain.NewValidationError("paper", fmt.Sprintf("paper at index %d is nil", i))
		}
		if err := paper.Validate(); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, paper := range papers {
		batch.Queue(paperUpsertQuery,
			paper.SourceID,
			paper.Title,
			paper.Abstract,
			paper.Year,
			paper.Venue,
			paper.CitationCount,
			paper.ReferenceCount,
			paper.PDFURL,
			paper.CrawlDepth,
			now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	results := make([]*domain.Paper, len(papers))
	for i := range papers {
		stored, err := scanPaper(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("failed to upsert paper at index %d: %w", i, err)
		}
		results[i] = stored
	}

	return results, nil
}

// GetBySourceID retrieves a paper by its source identifier.
func (r *PgPaperRepository) GetBySourceID(ctx context.Context, sourceID string) (*domain.Paper, error) {
	if sourceID == "" {
		return nil, domain.NewValidationError("source_id", "source ID is required")
	}

	query := `
		SELECT source_id, title, abstract, publication_year, venue,
			citation_count, reference_count, pdf_url, summary, keywords, review,
			crawl_status, summary_status, generate_status, crawl_depth,
			retry_count, error_message, created_at, updated_at
		FROM papers
		WHERE source_id = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", sourceID)
		}
		return nil, fmt.Errorf("failed to get paper by source ID: %w", err)
	}

	return paper, nil
}

// List retrieves papers matching the filter criteria.
func (r *PgPaperRepository) List(ctx context.Context, filter PaperFilter) ([]*domain.Paper, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.CrawlStatus != nil {
		conditions = append(conditions, fmt.Sprintf("crawl_status = $%d", argIndex))
		args = append(args, *filter.CrawlStatus)
		argIndex++
	}

	if filter.SummaryStatus != nil {
		conditions = append(conditions, fmt.Sprintf("summary_status = $%d", argIndex))
		args = append(args, *filter.SummaryStatus)
		argIndex++
	}

	if filter.GenerateStatus != nil {
		conditions = append(conditions, fmt.Sprintf("generate_status = $%d", argIndex))
		args = append(args, *filter.GenerateStatus)
		argIndex++
	}

	if filter.HasPDF != nil {
		if *filter.HasPDF {
			conditions = append(conditions, "pdf_url IS NOT NULL AND pdf_url != ''")
		} else {
			conditions = append(conditions, "(pdf_url IS NULL OR pdf_url = '')")
		}
	}

	if filter.MaxCrawlDepth != nil {
		conditions = append(conditions, fmt.Sprintf("crawl_depth <= $%d", argIndex))
		args = append(args, *filter.MaxCrawlDepth)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM papers %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count papers: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT source_id, title, abstract, publication_year, venue,
			citation_count, reference_count, pdf_url, summary, keywords, review,
			crawl_status, summary_status, generate_status, crawl_depth,
			retry_count, error_message, created_at, updated_at
		FROM papers
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	papers := make([]*domain.Paper, 0, filter.Limit)
	for rows.Next() {
		paper, err := scanPaperFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, paper)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating papers: %w", err)
	}

	return papers, totalCount, nil
}

// stageStatusColumns maps pipeline stages to their status columns. Keeping
// the mapping explicit avoids interpolating caller input into SQL.
var stageStatusColumns = map[domain.TaskType]string{
	domain.TaskCrawl:     "crawl_status",
	domain.TaskSummarize: "summary_status",
	domain.TaskGenerate:  "generate_status",
}

// UpdateStageStatus sets the status column for one pipeline stage. A
// failed transition also increments the paper's retry_count so failure
// accumulation is visible on the paper itself.
func (r *PgPaperRepository) UpdateStageStatus(ctx context.Context, sourceID string, stage domain.TaskType, status domain.StageStatus, errorMessage string) error {
	if sourceID == "" {
		return domain.NewValidationError("source_id", "source ID is required")
	}
	column, ok := stageStatusColumns[stage]
	if !ok {
		return domain.NewValidationError("stage", "unknown task type")
	}
	if !status.Valid() {
		return domain.NewValidationError("status", "unknown stage status")
	}

	query := fmt.Sprintf(`
		UPDATE papers
		SET %s = $1,
			error_message = $2,
			retry_count = retry_count + CASE WHEN $1 = 'failed' THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE source_id = $3`, column)

	result, err := r.db.Exec(ctx, query, status, errorMessage, sourceID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", sourceID)
	}

	return nil
}

// SetSummary stores the generated summary and extracted keywords and marks
// the summarize stage completed.
func (r *PgPaperRepository) SetSummary(ctx context.Context, sourceID string, summary string, keywords []string) error {
	if sourceID == "" {
		return domain.NewValidationError("source_id", "source ID is required")
	}

	query := `
		UPDATE papers
		SET summary = $1, keywords = $2, summary_status = $3, updated_at = NOW()
		WHERE source_id = $4`

	result, err := r.db.Exec(ctx, query, summary, keywords, domain.StageCompleted, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", sourceID)
	}

	return nil
}

// SetReview stores the generated review document and marks the generate
// stage completed.
func (r *PgPaperRepository) SetReview(ctx context.Context, sourceID string, review string) error {
	if sourceID == "" {
		return domain.NewValidationError("source_id", "source ID is required")
	}

	query := `
		UPDATE papers
		SET review = $1, generate_status = $2, updated_at = NOW()
		WHERE source_id = $3`

	result, err := r.db.Exec(ctx, query, review, domain.StageCompleted, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set review: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", sourceID)
	}

	return nil
}

// paperScanDest holds the destination pointers for scanning a Paper row.
type paperScanDest struct {
	paper domain.Paper
}

// destinations returns the slice of pointers for Scan operations.
func (d *paperScanDest) destinations() []interface{} {
	return []interface{}{
		&d.paper.SourceID, &d.paper.Title, &d.paper.Abstract, &d.paper.Year, &d.paper.Venue,
		&d.paper.CitationCount, &d.paper.ReferenceCount, &d.paper.PDFURL, &d.paper.Summary, &d.paper.Keywords, &d.paper.Review,
		&d.paper.CrawlStatus, &d.paper.SummaryStatus, &d.paper.GenerateStatus, &d.paper.CrawlDepth,
		&d.paper.RetryCount, &d.paper.ErrorMessage, &d.paper.CreatedAt, &d.paper.UpdatedAt,
	}
}

// scanPaper scans a single row into a Paper.
func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var dest paperScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.paper, nil
}

// scanPaperFromRows scans the current row from pgx.Rows into a Paper.
func scanPaperFromRows(rows pgx.Rows) (*domain.Paper, error) {
	var dest paperScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.paper, nil
}
