// Package sources provides clients for bibliographic graph APIs.
//
// This package defines the foundational abstractions that source
// implementations must follow. The crawler traverses the citation graph
// exclusively through the Source interface, so the bibliographic backend
// can be swapped or faked in tests without touching expansion logic.
//
// Example usage:
//
//	src := semanticscholar.NewClient(cfg, nil)
//	paper, err := src.GetPaper(ctx, "649def34f8be52c8b66281af98ae884c09aef38b")
//	refs, err := src.GetReferences(ctx, paper.SourceID, 100)
package sources

import (
	"context"

	"github.com/helixir/citegraph-service/internal/domain"
)

// Source defines the interface for a bibliographic graph API client.
//
// Implementations should:
//   - Respect context cancellation
//   - Apply rate limiting before each request
//   - Transform source-specific responses to domain.Paper
//   - Return domain.ErrNotFound for unknown paper IDs
//   - Return domain.ErrRateLimited when the upstream throttles
type Source interface {
	// GetPaper retrieves a paper's metadata by its source identifier.
	GetPaper(ctx context.Context, id string) (*domain.Paper, error)

	// GetCitations retrieves papers that cite the given paper, capped at
	// limit. The returned papers carry metadata only; the caller decides
	// whether to persist them and record edges.
	GetCitations(ctx context.Context, id string, limit int) ([]*domain.Paper, error)

	// GetReferences retrieves papers the given paper cites, capped at limit.
	GetReferences(ctx context.Context, id string, limit int) ([]*domain.Paper, error)

	// Search queries the source by free text, capped at limit. Used to
	// resolve seed papers submitted by title instead of identifier.
	Search(ctx context.Context, query string, limit int) ([]*domain.Paper, error)

	// Name returns a stable identifier for this source, used in logs,
	// metrics labels, and error values.
	Name() string
}
