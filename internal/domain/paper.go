// Package domain defines the core entities of the citation graph service:
// papers, the relation edges between them, and the persistent processing
// queue entries that drive the crawl/summarize/generate pipeline.
package domain

import (
	"strings"
	"time"
)

// StageStatus describes the state of one pipeline stage for a paper.
type StageStatus string

// Stage status values.
const (
	// StagePending means the stage has not started yet.
	StagePending StageStatus = "pending"
	// StageRunning means a worker is currently executing the stage.
	StageRunning StageStatus = "running"
	// StageCompleted means the stage finished successfully.
	StageCompleted StageStatus = "completed"
	// StageFailed means the stage failed permanently.
	StageFailed StageStatus = "failed"
	// StageSkipped means the stage is not applicable for this paper
	// (e.g., summarize for a paper without a PDF source).
	StageSkipped StageStatus = "skipped"
)

// Valid returns true if s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageRunning, StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// Paper represents an academic paper discovered by the crawler.
//
// SourceID is the bibliographic source identifier and the primary key;
// a paper is created on first discovery (seed ingestion or neighbor
// expansion) and is never deleted by the pipeline.
type Paper struct {
	SourceID       string
	Title          string
	Abstract       string
	Year           int
	Venue          string
	CitationCount  int
	ReferenceCount int
	PDFURL         string

	// Summary and Keywords are produced by the summarize stage.
	Summary  string
	Keywords []string

	// Review is the structured review document produced by the generate
	// stage from the summary and the paper's citation neighborhood.
	Review string

	// Per-stage pipeline status.
	CrawlStatus    StageStatus
	SummaryStatus  StageStatus
	GenerateStatus StageStatus

	// CrawlDepth is the distance from the nearest seed paper. Always >= 0.
	CrawlDepth int

	RetryCount   int
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPDFSource reports whether a PDF source is known for the paper.
// Stage gating uses this to decide whether summarize applies.
func (p *Paper) HasPDFSource() bool {
	return strings.TrimSpace(p.PDFURL) != ""
}

// Validate checks the paper's invariants.
func (p *Paper) Validate() error {
	if strings.TrimSpace(p.SourceID) == "" {
		return NewValidationError("source_id", "source ID is required")
	}
	if p.CrawlDepth < 0 {
		return NewValidationError("crawl_depth", "crawl depth must be >= 0")
	}
	return nil
}
