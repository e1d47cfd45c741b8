package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/ranking"
	"github.com/hyperjump/mitsuke/pkg/utils"
)

// Engine runs multimodal similarity search.
type Engine struct {
	generator embedding.Generator
	corpus    *corpus.Cache
	ranker    *ranking.Ranker
	config    *config.SearchConfig
	logger    *zap.Logger
}

// Status describes the engine's corpus for status endpoints.
type Status struct {
	CorpusSource string      `json:"corpus_source"`
	CorpusLoaded bool        `json:"corpus_loaded"`
	Entries      int         `json:"entries"`
	Dimensions   map[int]int `json:"dimensions,omitempty"`
	LoadedAt     *time.Time  `json:"loaded_at,omitempty"`
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	generator embedding.Generator,
	cache *corpus.Cache,
	ranker *ranking.Ranker,
	cfg *config.SearchConfig,
	logger *zap.Logger,
) *Engine {
	if ranker == nil {
		ranker = ranking.NewRanker(&ranking.RankingConfig{Workers: cfg.Workers})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator: generator,
		corpus:    cache,
		ranker:    ranker,
		config:    cfg,
		logger:    logger,
	}
}

// Search embeds the query's text and image, combines them under the image
// weight and ranks the corpus against the result.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	queryID := uuid.NewString()
	if err := query.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	var warnings []string
	weight, warning := ResolveWeight(query.ImageWeight, e.config.ImageWeightOrDefault())
	if warning != "" {
		warnings = append(warnings, warning)
		e.logger.Warn("image weight adjusted",
			zap.String("query_id", queryID),
			zap.Float64("applied", weight),
			zap.String("warning", warning))
	}

	corp, err := e.corpus.Get(ctx)
	if err != nil {
		return nil, err
	}

	textVec, imageVec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	combined, weight, err := Combine(textVec, imageVec, weight)
	if err != nil {
		return nil, err
	}

	opts := ranking.Options{
		TopK:             query.TopK,
		IncludeSubScores: query.IncludeSubScores || e.config.IncludeSubScores,
	}
	if textVec != nil && imageVec != nil {
		opts.TextQuery = textVec.Values
		opts.ImageQuery = imageVec.Values
	}
	ranked, err := e.ranker.Rank(ctx, combined.Values, corp, opts)
	if err != nil {
		return nil, err
	}

	if len(ranked.Skipped) > 0 {
		first := ranked.Skipped[0]
		e.logger.Warn("corpus entries skipped",
			zap.String("query_id", queryID),
			zap.Int("skipped", len(ranked.Skipped)),
			zap.Int("query_dimensions", len(combined.Values)),
			zap.String("first_id", first.ID),
			zap.String("first_reason", first.Reason.String()),
			zap.Int("first_dimensions", first.Dimensions))
	}
	if ranked.Reshaped > 0 {
		e.logger.Debug("nested corpus entries flattened",
			zap.String("query_id", queryID),
			zap.Int("reshaped", ranked.Reshaped))
	}

	response := &models.SearchResponse{
		Results:     ranked.Results,
		Total:       ranked.Valid,
		Skipped:     len(ranked.Skipped),
		ImageWeight: weight,
		Warnings:    warnings,
		QueryTime:   time.Since(startTime).Milliseconds(),
		QueryID:     queryID,
	}
	e.logger.Info("search completed",
		zap.String("query_id", queryID),
		zap.String("text", utils.Truncate(query.Text, 80)),
		zap.Bool("image", query.HasImage()),
		zap.Float64("image_weight", weight),
		zap.Int("top_k", query.TopK),
		zap.Int("results", len(response.Results)),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}

// embedQuery generates the text and image vectors concurrently. The first
// failure cancels the other modality.
func (e *Engine) embedQuery(ctx context.Context, query *models.SearchQuery) (textVec, imageVec *models.EmbeddingVector, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errChan = make(chan error, 2)
		wg      sync.WaitGroup
	)
	if query.HasText() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.generator.Generate(ctx, models.ModalityText, []byte(query.Text))
			if err != nil {
				errChan <- err
				cancel()
				return
			}
			textVec = v
		}()
	}
	if query.HasImage() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.generator.Generate(ctx, models.ModalityImage, query.Image)
			if err != nil {
				errChan <- err
				cancel()
				return
			}
			imageVec = v
		}()
	}

	wg.Wait()
	close(errChan)
	// The first error is the cause; a sibling cancelled by it reports context.Canceled.
	if err, ok := <-errChan; ok {
		return nil, nil, err
	}
	return textVec, imageVec, nil
}

// Embed generates a single embedding for one modality.
func (e *Engine) Embed(ctx context.Context, modality models.Modality, payload []byte) (*models.EmbeddingVector, error) {
	if modality != models.ModalityText && modality != models.ModalityImage {
		return nil, models.NewError(models.KindInvalidInput, "embed", fmt.Errorf("unsupported modality %q", modality))
	}
	return e.generator.Generate(ctx, modality, payload)
}

// Warm loads the corpus ahead of the first search.
func (e *Engine) Warm(ctx context.Context) error {
	_, err := e.corpus.Get(ctx)
	return err
}

// Status reports the corpus state without triggering a load.
func (e *Engine) Status() *Status {
	st := &Status{CorpusSource: e.corpus.Source()}
	if c := e.corpus.Loaded(); c != nil {
		loadedAt := c.LoadedAt()
		st.CorpusLoaded = true
		st.Entries = c.Len()
		st.Dimensions = c.Dimensions()
		st.LoadedAt = &loadedAt
	}
	return st
}
