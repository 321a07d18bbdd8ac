// Package crawler implements the citation graph expansion: starting from a
// seed paper it walks citation and reference lists outward, bounded by a hop
// limit and a relevance score threshold, persisting papers and edges and
// feeding newly discovered papers back into the processing queue.
package crawler

import "math"

// Scoring constants. A neighbor's relevance combines how cited it is and how
// recent it is, attenuated by its distance from the seed.
const (
	// citationSaturation is the citation count at which the citation
	// component of the score saturates at 1.0.
	citationSaturation = 100.0

	// citationWeight and yearWeight blend the two score components.
	citationWeight = 0.5
	yearWeight     = 0.3

	// yearBaseline and yearRange linearly map publication years onto
	// [0, 1]: papers from yearBaseline score 0, papers yearRange years
	// later score 1.
	yearBaseline = 1990
	yearRange    = 34.0

	// hopDecayBase halves a neighbor's score for every hop separating it
	// from the seed paper.
	hopDecayBase = 0.5
)

// PriorityScore computes the relevance score of a neighbor discovered at the
// given hop distance from the seed. The citation component contributes at
// most 0.5 before decay; the recency component is a linear ramp from the
// baseline year and is deliberately left uncapped so very recent papers get
// a small edge over the rest.
func PriorityScore(citationCount, year, hopCount int) float64 {
	citationScore := math.Min(float64(citationCount)/citationSaturation, 1.0)
	yearScore := math.Max(0, float64(year-yearBaseline)/yearRange)
	decay := math.Pow(hopDecayBase, float64(hopCount))

	return (citationScore*citationWeight + yearScore*yearWeight) * decay
}

// QueuePriority maps a hop distance onto a queue priority: seed papers
// dispatch first and each additional hop lowers the priority by 10, floored
// at zero.
func QueuePriority(hopCount int) int {
	priority := 100 - hopCount*10
	if priority < 0 {
		return 0
	}
	return priority
}
