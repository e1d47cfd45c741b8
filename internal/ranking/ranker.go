package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// Ranker performs exhaustive cosine-similarity ranking over a corpus.
type Ranker struct {
	config *RankingConfig
}

// NewRanker creates a new Ranker with the given configuration.
func NewRanker(config *RankingConfig) *Ranker {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()
	return &Ranker{config: config}
}

type entryScore struct {
	score    float64
	valid    bool
	reshaped bool
	reason   SkipReason
}

// Rank scores query against every entry of c and returns the best
// min(opts.TopK, valid) entries, highest similarity first. Equal scores keep
// corpus order. Incompatible entries are skipped and reported, never fatal.
// Scoring is sharded across workers; each worker writes only its own slots.
func (r *Ranker) Rank(ctx context.Context, query []float32, c *corpus.Corpus, opts Options) (*Ranking, error) {
	if len(query) == 0 {
		return nil, models.NewError(models.KindInvalidInput, "rank", errors.New("empty query vector"))
	}
	queryNorm := vector.L2Norm(query)
	if math.IsNaN(queryNorm) || math.IsInf(queryNorm, 0) {
		return nil, models.NewError(models.KindInvalidInput, "rank", errors.New("query vector is not finite"))
	}

	n := c.Len()
	scores := make([]entryScore, n)
	shards := r.config.shards(n)
	size := (n + shards - 1) / shards

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += size {
		start, end := start, min(start+size, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				scores[i] = scoreEntry(query, queryNorm, c.Entry(i), c.Norm(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}

	ranking := &Ranking{}
	order := make([]int, 0, n)
	for i := range scores {
		if !scores[i].valid {
			e := c.Entry(i)
			ranking.Skipped = append(ranking.Skipped, Skip{Index: i, ID: e.ID, Reason: scores[i].reason, Dimensions: len(e.Vector)})
			continue
		}
		if scores[i].reshaped {
			ranking.Reshaped++
		}
		order = append(order, i)
	}
	ranking.Valid = len(order)

	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]].score > scores[order[b]].score
	})

	k := max(0, min(opts.TopK, len(order)))
	withSubScores := opts.IncludeSubScores && len(opts.TextQuery) > 0 && len(opts.ImageQuery) > 0
	textNorm, imageNorm := vector.L2Norm(opts.TextQuery), vector.L2Norm(opts.ImageQuery)

	ranking.Results = make([]*models.SearchResult, k)
	for rank, idx := range order[:k] {
		e := c.Entry(idx)
		res := &models.SearchResult{
			ID:                 e.ID,
			Rank:               rank + 1,
			CombinedSimilarity: scores[idx].score,
		}
		if withSubScores {
			res.TextSimilarity = subScore(opts.TextQuery, textNorm, e.Vector, c.Norm(idx))
			res.ImageSimilarity = subScore(opts.ImageQuery, imageNorm, e.Vector, c.Norm(idx))
		}
		ranking.Results[rank] = res
	}
	return ranking, nil
}

// scoreEntry scores one entry. Nested entries are compared in flattened form
// when their element count matches the query.
func scoreEntry(query []float32, queryNorm float64, e *models.CorpusEntry, norm float64) entryScore {
	if len(e.Vector) != len(query) || e.Elements() != len(query) {
		return entryScore{reason: SkipDimensionMismatch}
	}
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return entryScore{reason: SkipNonFinite}
	}
	return entryScore{
		score:    vector.CosineWithNorms(query, e.Vector, queryNorm, norm),
		valid:    true,
		reshaped: len(e.Shape) > 1,
	}
}

func subScore(query []float32, queryNorm float64, v []float32, norm float64) *float64 {
	if len(query) != len(v) {
		return nil
	}
	s := vector.CosineWithNorms(query, v, queryNorm, norm)
	return &s
}
