package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/citegraph-service/internal/database"
)

// PgCounterStore is a PostgreSQL-backed CounterStore shared by all service
// instances.
type PgCounterStore struct {
	db database.DBTX
}

// Compile-time interface verification.
var _ CounterStore = (*PgCounterStore)(nil)

// NewPgCounterStore creates a PostgreSQL counter store.
func NewPgCounterStore(db database.DBTX) *PgCounterStore {
	return &PgCounterStore{db: db}
}

// Admit implements CounterStore as a single statement, so the count and the
// conditional record share one snapshot and concurrent callers cannot race
// between them.
//
// The DELETE is garbage collection only: CTEs in one statement see the same
// snapshot, so the count filters by the cutoff itself rather than relying on
// the pruning having happened.
func (s *PgCounterStore) Admit(ctx context.Context, bucket string, window time.Duration, threshold int) (int, bool, error) {
	query := `
		WITH pruned AS (
			DELETE FROM rate_limit_events
			WHERE bucket = $1 AND called_at < NOW() - $2::interval
		),
		current AS (
			SELECT COUNT(*) AS cnt
			FROM rate_limit_events
			WHERE bucket = $1 AND called_at >= NOW() - $2::interval
		),
		recorded AS (
			INSERT INTO rate_limit_events (bucket, called_at)
			SELECT $1, NOW() FROM current WHERE cnt < $3
			RETURNING 1
		)
		SELECT current.cnt, EXISTS (SELECT 1 FROM recorded)
		FROM current`

	interval := fmt.Sprintf("%f seconds", window.Seconds())

	var count int64
	var recorded bool
	if err := s.db.QueryRow(ctx, query, bucket, interval, threshold).Scan(&count, &recorded); err != nil {
		return 0, false, fmt.Errorf("rate limit admission for bucket %s: %w", bucket, err)
	}

	return int(count), recorded, nil
}
