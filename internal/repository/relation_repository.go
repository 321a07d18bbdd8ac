package repository

import (
	"context"

	"github.com/helixir/citegraph-service/internal/domain"
)

// RelationRepository manages directed citation graph edges between papers.
type RelationRepository interface {
	// Record persists a citation graph edge. Re-recording an existing
	// (source, target, type) edge is a no-op; the stored hop count and
	// relevance score from the first discovery win.
	// Returns true if a new edge was inserted, false if it already existed.
	// Returns domain.ErrInvalidInput for self-referencing or invalid edges.
	// Returns domain.ErrNotFound if either endpoint paper does not exist.
	Record(ctx context.Context, relation *domain.PaperRelation) (bool, error)

	// ListForPaper retrieves all edges touching a paper, in either
	// direction, ordered by creation time.
	ListForPaper(ctx context.Context, sourceID string, limit, offset int) ([]*domain.PaperRelation, int64, error)

	// CountForPaper returns the number of edges touching a paper.
	CountForPaper(ctx context.Context, sourceID string) (int64, error)
}
