// Package ranking scores a query vector against every corpus entry and
// returns the top matches by cosine similarity.
package ranking

import "github.com/hyperjump/mitsuke/internal/models"

// SkipReason says why a corpus entry was left out of a ranking.
type SkipReason int

const (
	// SkipDimensionMismatch means the entry's element count differs from the query's.
	SkipDimensionMismatch SkipReason = iota
	// SkipNonFinite means the entry holds NaN or Inf values.
	SkipNonFinite
)

// String returns a string representation of the skip reason.
func (r SkipReason) String() string {
	switch r {
	case SkipDimensionMismatch:
		return string(models.KindDimensionMismatch)
	case SkipNonFinite:
		return "non_finite"
	default:
		return "unknown"
	}
}

// Skip records one corpus entry that was not scored.
type Skip struct {
	Index      int
	ID         string
	Reason     SkipReason
	Dimensions int
}

// Options controls a single Rank call.
type Options struct {
	TopK int
	// TextQuery and ImageQuery are the pre-combination query vectors. Sub-scores
	// are computed only when IncludeSubScores is set and both are present.
	TextQuery        []float32
	ImageQuery       []float32
	IncludeSubScores bool
}

// Ranking is the outcome of a Rank call.
type Ranking struct {
	Results []*models.SearchResult
	// Valid is the number of entries that were scored.
	Valid int
	// Reshaped counts nested entries that were flattened to match the query.
	Reshaped int
	Skipped  []Skip
}
