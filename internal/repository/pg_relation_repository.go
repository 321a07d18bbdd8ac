package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/citegraph-service/internal/domain"
)

// Compile-time interface verification.
var _ RelationRepository = (*PgRelationRepository)(nil)

// PgRelationRepository is a PostgreSQL implementation of RelationRepository.
type PgRelationRepository struct {
	db DBTX
}

// NewPgRelationRepository creates a new PostgreSQL relation repository.
func NewPgRelationRepository(db DBTX) *PgRelationRepository {
	return &PgRelationRepository{db: db}
}

// Record persists a citation graph edge. The (source, target, type) unique
// constraint makes re-discovery along another traversal path a no-op.
func (r *PgRelationRepository) Record(ctx context.Context, relation *domain.PaperRelation) (bool, error) {
	if relation == nil {
		return false, domain.NewValidationError("relation", "relation cannot be nil")
	}
	if err := relation.Validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO paper_relations (
			source_paper_id, target_paper_id, relation_type,
			hop_count, relevance_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_paper_id, target_paper_id, relation_type) DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		relation.SourcePaperID,
		relation.TargetPaperID,
		relation.Type,
		relation.HopCount,
		relation.RelevanceScore,
		time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Foreign key violation: one of the endpoint papers is missing.
			if pgErr.Code == "23503" {
				return false, domain.NewNotFoundError("paper", relation.SourcePaperID+" or "+relation.TargetPaperID)
			}
			// Check constraint violation: self-referencing edge slipped past validation.
			if pgErr.Code == "23514" {
				return false, domain.NewValidationError("target_paper_id", "relation cannot reference itself")
			}
		}
		return false, fmt.Errorf("failed to record relation: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListForPaper retrieves all edges touching a paper, in either direction.
func (r *PgRelationRepository) ListForPaper(ctx context.Context, sourceID string, limit, offset int) ([]*domain.PaperRelation, int64, error) {
	if sourceID == "" {
		return nil, 0, domain.NewValidationError("source_id", "source ID is required")
	}
	applyPaginationDefaults(&limit, &offset)

	var totalCount int64
	countQuery := `
		SELECT COUNT(*)
		FROM paper_relations
		WHERE source_paper_id = $1 OR target_paper_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, sourceID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count relations: %w", err)
	}

	query := `
		SELECT source_paper_id, target_paper_id, relation_type,
			hop_count, relevance_score, created_at
		FROM paper_relations
		WHERE source_paper_id = $1 OR target_paper_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, sourceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list relations: %w", err)
	}
	defer rows.Close()

	relations := make([]*domain.PaperRelation, 0, limit)
	for rows.Next() {
		var rel domain.PaperRelation
		if err := rows.Scan(
			&rel.SourcePaperID, &rel.TargetPaperID, &rel.Type,
			&rel.HopCount, &rel.RelevanceScore, &rel.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, &rel)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating relations: %w", err)
	}

	return relations, totalCount, nil
}

// CountForPaper returns the number of edges touching a paper.
func (r *PgRelationRepository) CountForPaper(ctx context.Context, sourceID string) (int64, error) {
	if sourceID == "" {
		return 0, domain.NewValidationError("source_id", "source ID is required")
	}

	var count int64
	query := `
		SELECT COUNT(*)
		FROM paper_relations
		WHERE source_paper_id = $1 OR target_paper_id = $1`
	if err := r.db.QueryRow(ctx, query, sourceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}

	return count, nil
}
