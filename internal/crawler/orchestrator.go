package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/repository"
	"github.com/helixir/citegraph-service/internal/sources"
)

// Enqueuer feeds newly discovered papers into the processing queue.
// Satisfied by queue.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, paperID string, taskType domain.TaskType, priority int, params domain.TaskParameters) (*domain.QueueEntry, bool, error)
}

// Orchestrator performs one expansion step of the citation graph crawl.
//
// Recursion lives in the queue, not the call stack: each Expand handles a
// single paper and enqueues crawl entries for its qualifying neighbors, so
// an interrupted crawl resumes from persisted state.
type Orchestrator struct {
	source    sources.Source
	papers    repository.PaperRepository
	relations repository.RelationRepository
	queue     Enqueuer
	cfg       config.CrawlerConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewOrchestrator creates a crawl orchestrator.
func NewOrchestrator(
	source sources.Source,
	papers repository.PaperRepository,
	relations repository.RelationRepository,
	queue Enqueuer,
	cfg config.CrawlerConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.NeighborPageSize <= 0 {
		cfg.NeighborPageSize = 100
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.1
	}

	return &Orchestrator{
		source:    source,
		papers:    papers,
		relations: relations,
		queue:     queue,
		cfg:       cfg,
		logger:    observability.WithComponent(logger, "crawler"),
		metrics:   metrics,
	}
}

// Expand fetches one paper's metadata, persists it, and — while the hop
// budget lasts — walks its citation and reference lists, recording edges and
// enqueueing crawl entries for neighbors that clear the score threshold.
//
// A missing paper is terminal: the error wraps domain.ErrNotFound and no
// state is written. A failed neighbor-list fetch is logged and skipped; it
// never fails the expansion. The returned entries are the crawl tasks
// enqueued for next-hop neighbors, for the caller to publish.
//
// Expand does not touch the paper's crawl stage status; the worker owns
// stage bookkeeping around the call.
func (o *Orchestrator) Expand(ctx context.Context, paperID string, hopCount, maxHops int) ([]*domain.QueueEntry, error) {
	logger := observability.WithPaperContext(o.logger, paperID, hopCount)
	o.metrics.RecordCrawlStarted()
	o.metrics.RecordCrawlDepth(hopCount)

	paper, err := o.source.GetPaper(ctx, paperID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn().Msg("paper not found at source, expansion abandoned")
		}
		return nil, fmt.Errorf("fetch paper %s: %w", paperID, err)
	}

	paper.CrawlDepth = hopCount
	if _, err := o.papers.Upsert(ctx, paper); err != nil {
		return nil, fmt.Errorf("persist paper %s: %w", paperID, err)
	}

	if hopCount >= maxHops {
		logger.Debug().Int("max_hops", maxHops).Msg("hop budget exhausted, not expanding further")
		return nil, nil
	}

	var enqueued []*domain.QueueEntry

	citations, err := o.source.GetCitations(ctx, paperID, o.cfg.NeighborPageSize)
	if err != nil {
		logger.Warn().Err(err).Msg("citation list fetch failed, skipping")
	} else {
		entries, err := o.expandNeighbors(ctx, paper, citations, domain.RelationCitation, hopCount, maxHops)
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, entries...)
	}

	references, err := o.source.GetReferences(ctx, paperID, o.cfg.NeighborPageSize)
	if err != nil {
		logger.Warn().Err(err).Msg("reference list fetch failed, skipping")
	} else {
		entries, err := o.expandNeighbors(ctx, paper, references, domain.RelationReference, hopCount, maxHops)
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, entries...)
	}

	logger.Info().
		Int("citations", len(citations)).
		Int("references", len(references)).
		Int("enqueued", len(enqueued)).
		Msg("expansion complete")

	return enqueued, nil
}

// expandNeighbors persists one neighbor list: upserts the papers, records
// the edges, and enqueues crawl entries for neighbors clearing the score
// threshold.
func (o *Orchestrator) expandNeighbors(
	ctx context.Context,
	paper *domain.Paper,
	neighbors []*domain.Paper,
	relationType domain.RelationType,
	hopCount, maxHops int,
) ([]*domain.QueueEntry, error) {
	if len(neighbors) == 0 {
		return nil, nil
	}

	neighborHop := hopCount + 1

	kept := make([]*domain.Paper, 0, len(neighbors))
	for _, n := range neighbors {
		if n.SourceID == "" || n.SourceID == paper.SourceID {
			continue
		}
		n.CrawlDepth = neighborHop
		kept = append(kept, n)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	if _, err := o.papers.BulkUpsert(ctx, kept); err != nil {
		return nil, fmt.Errorf("persist %s neighbors of %s: %w", relationType, paper.SourceID, err)
	}
	o.metrics.RecordPapersDiscovered(len(kept))

	var enqueued []*domain.QueueEntry
	for _, neighbor := range kept {
		score := PriorityScore(neighbor.CitationCount, neighbor.Year, hopCount)

		relation := o.buildRelation(paper.SourceID, neighbor.SourceID, relationType, neighborHop, score)
		inserted, err := o.relations.Record(ctx, relation)
		if err != nil {
			return enqueued, fmt.Errorf("record %s edge %s -> %s: %w",
				relationType, relation.SourcePaperID, relation.TargetPaperID, err)
		}
		if inserted {
			o.metrics.RecordRelationRecorded(string(relationType))
		}

		if score <= o.cfg.ScoreThreshold {
			o.metrics.RecordPaperSkippedByScore()
			continue
		}

		entry, created, err := o.queue.Enqueue(ctx, neighbor.SourceID, domain.TaskCrawl, QueuePriority(hopCount), domain.TaskParameters{
			HopCount: neighborHop,
			MaxHops:  maxHops,
		})
		if err != nil {
			return enqueued, fmt.Errorf("enqueue crawl for neighbor %s: %w", neighbor.SourceID, err)
		}
		if created {
			enqueued = append(enqueued, entry)
		}
	}

	return enqueued, nil
}

// buildRelation orients an edge: citations point the citing neighbor at the
// expanded paper, references point the expanded paper at the cited neighbor.
func (o *Orchestrator) buildRelation(paperID, neighborID string, relationType domain.RelationType, hopCount int, score float64) *domain.PaperRelation {
	relation := &domain.PaperRelation{
		Type:           relationType,
		HopCount:       hopCount,
		RelevanceScore: score,
	}

	if relationType == domain.RelationCitation {
		relation.SourcePaperID = neighborID
		relation.TargetPaperID = paperID
	} else {
		relation.SourcePaperID = paperID
		relation.TargetPaperID = neighborID
	}

	return relation
}
