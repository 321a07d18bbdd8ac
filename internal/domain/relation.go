package domain

import (
	"strings"
	"time"
)

// RelationType identifies the direction of a citation graph edge.
type RelationType string

// Relation type values.
const (
	// RelationCitation is an edge from a citing paper to the cited paper,
	// discovered via the cited paper's citation list.
	RelationCitation RelationType = "citation"
	// RelationReference is an edge from a paper to one of the papers in
	// its reference list.
	RelationReference RelationType = "reference"
)

// Valid returns true if t is a known relation type.
func (t RelationType) Valid() bool {
	return t == RelationCitation || t == RelationReference
}

// PaperRelation is a directed edge in the citation graph. The tuple
// (SourcePaperID, TargetPaperID, Type) is unique; re-discovering the same
// edge from a different traversal path is a no-op.
type PaperRelation struct {
	SourcePaperID string
	TargetPaperID string
	Type          RelationType

	// HopCount is the distance from the originating seed at discovery
	// time. Always >= 1 (a relation is only created during expansion).
	HopCount int

	// RelevanceScore is the priority score computed for the discovered
	// neighbor at insertion time. Purely informational.
	RelevanceScore float64

	CreatedAt time.Time
}

// Validate checks the relation's invariants. Self-referencing edges are
// rejected here before they ever reach the database constraint.
func (r *PaperRelation) Validate() error {
	if strings.TrimSpace(r.SourcePaperID) == "" {
		return NewValidationError("source_paper_id", "source paper ID is required")
	}
	if strings.TrimSpace(r.TargetPaperID) == "" {
		return NewValidationError("target_paper_id", "target paper ID is required")
	}
	if r.SourcePaperID == r.TargetPaperID {
		return NewValidationError("target_paper_id", "relation cannot reference itself")
	}
	if !r.Type.Valid() {
		return NewValidationError("relation_type", "unknown relation type")
	}
	if r.HopCount < 1 {
		return NewValidationError("hop_count", "hop count must be >= 1")
	}
	return nil
}
