package ranking

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/models"
)

func newCorpus(entries ...models.CorpusEntry) *corpus.Corpus {
	return corpus.New("test", entries)
}

func TestNewRanker(t *testing.T) {
	ranker := NewRanker(nil)
	if ranker.config == nil || ranker.config.Workers <= 0 || ranker.config.MinShardSize != 512 {
		t.Fatalf("unexpected defaults: %+v", ranker.config)
	}
	ranker = NewRanker(&RankingConfig{Workers: 3})
	if ranker.config.Workers != 3 {
		t.Errorf("Workers = %d, want 3", ranker.config.Workers)
	}
}

func TestRanker_Rank_scenario(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "a", Vector: []float32{1, 0}},
		models.CorpusEntry{ID: "b", Vector: []float32{0, 1}},
		models.CorpusEntry{ID: "c", Vector: []float32{1, 1}},
	)
	got, err := NewRanker(nil).Rank(context.Background(), []float32{1, 0}, c, Options{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got.Results))
	}
	if got.Results[0].ID != "a" || math.Abs(got.Results[0].CombinedSimilarity-1) > 1e-6 {
		t.Errorf("first = %+v, want a (1.0)", got.Results[0])
	}
	if got.Results[1].ID != "c" || math.Abs(got.Results[1].CombinedSimilarity-0.7071) > 1e-4 {
		t.Errorf("second = %+v, want c (0.7071)", got.Results[1])
	}
	if got.Results[0].Rank != 1 || got.Results[1].Rank != 2 {
		t.Errorf("ranks = %d,%d", got.Results[0].Rank, got.Results[1].Rank)
	}
	if got.Valid != 3 || len(got.Skipped) != 0 {
		t.Errorf("Valid = %d, Skipped = %v", got.Valid, got.Skipped)
	}
}

func TestRanker_Rank_resultCount(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "a", Vector: []float32{1, 0}},
		models.CorpusEntry{ID: "b", Vector: []float32{0, 1}},
		models.CorpusEntry{ID: "bad", Vector: []float32{1, 0, 0}},
		models.CorpusEntry{ID: "c", Vector: []float32{1, 1}},
	)
	ranker := NewRanker(nil)
	for _, topK := range []int{-1, 0, 1, 2, 3, 4, 100} {
		got, err := ranker.Rank(context.Background(), []float32{0.3, 0.7}, c, Options{TopK: topK})
		if err != nil {
			t.Fatal(err)
		}
		want := max(0, min(topK, 3))
		if len(got.Results) != want {
			t.Errorf("topK=%d: got %d results, want %d", topK, len(got.Results), want)
		}
	}
}

func TestRanker_Rank_skipsWrongDimension(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "v1", Vector: []float32{1, 0, 0}},
		models.CorpusEntry{ID: "short", Vector: []float32{1, 0}},
		models.CorpusEntry{ID: "v2", Vector: []float32{0, 1, 0}},
		models.CorpusEntry{ID: "v3", Vector: []float32{0, 0, 1}},
	)
	got, err := NewRanker(nil).Rank(context.Background(), []float32{1, 1, 1}, c, Options{TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got.Results))
	}
	for _, r := range got.Results {
		if r.ID == "short" {
			t.Error("wrong-dimension entry must not be ranked")
		}
	}
	if len(got.Skipped) != 1 || got.Skipped[0].ID != "short" || got.Skipped[0].Reason != SkipDimensionMismatch {
		t.Errorf("Skipped = %+v", got.Skipped)
	}
	if got.Skipped[0].Reason.String() != "dimension_mismatch" {
		t.Errorf("reason string = %s", got.Skipped[0].Reason)
	}
}

func TestRanker_Rank_reshapesNestedEntries(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "nested", Vector: []float32{0, 1}, Shape: []int{1, 2}},
		models.CorpusEntry{ID: "flat", Vector: []float32{1, 0}},
	)
	got, err := NewRanker(nil).Rank(context.Background(), []float32{0, 1}, c, Options{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got.Results[0].ID != "nested" {
		t.Errorf("first = %s, want nested", got.Results[0].ID)
	}
	if got.Reshaped != 1 {
		t.Errorf("Reshaped = %d, want 1", got.Reshaped)
	}
}

func TestRanker_Rank_skipsNonFinite(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "nan", Vector: []float32{float32(math.NaN()), 1}},
		models.CorpusEntry{ID: "ok", Vector: []float32{1, 1}},
	)
	got, err := NewRanker(nil).Rank(context.Background(), []float32{1, 0}, c, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 1 || got.Results[0].ID != "ok" {
		t.Errorf("results = %+v", got.Results)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].Reason != SkipNonFinite {
		t.Errorf("Skipped = %+v", got.Skipped)
	}
}

func TestRanker_Rank_tiesKeepCorpusOrder(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "first", Vector: []float32{2, 0}},
		models.CorpusEntry{ID: "low", Vector: []float32{0, 1}},
		models.CorpusEntry{ID: "second", Vector: []float32{1, 0}},
		models.CorpusEntry{ID: "third", Vector: []float32{5, 0}},
		models.CorpusEntry{ID: "zero", Vector: []float32{0, 0}},
	)
	got, err := NewRanker(nil).Rank(context.Background(), []float32{1, 0}, c, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third", "low", "zero"}
	for i, id := range want {
		if got.Results[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got.Results[i].ID, id)
		}
	}
	if got.Results[4].CombinedSimilarity != 0 {
		t.Errorf("zero vector similarity = %v, want 0", got.Results[4].CombinedSimilarity)
	}
}

func TestRanker_Rank_subScores(t *testing.T) {
	c := newCorpus(
		models.CorpusEntry{ID: "a", Vector: []float32{1, 0}},
		models.CorpusEntry{ID: "b", Vector: []float32{0, 1}},
	)
	text := []float32{1, 0}
	image := []float32{0, 1}
	combined := []float32{1, 1}
	ranker := NewRanker(nil)

	got, err := ranker.Rank(context.Background(), combined, c, Options{TopK: 2, TextQuery: text, ImageQuery: image, IncludeSubScores: true})
	if err != nil {
		t.Fatal(err)
	}
	a := got.Results[0]
	if a.ID != "a" || a.TextSimilarity == nil || a.ImageSimilarity == nil {
		t.Fatalf("first = %+v", a)
	}
	if math.Abs(*a.TextSimilarity-1) > 1e-6 || math.Abs(*a.ImageSimilarity) > 1e-6 {
		t.Errorf("sub-scores = %v/%v, want 1/0", *a.TextSimilarity, *a.ImageSimilarity)
	}

	got, err = ranker.Rank(context.Background(), text, c, Options{TopK: 2, TextQuery: text, IncludeSubScores: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Results[0].TextSimilarity != nil || got.Results[0].ImageSimilarity != nil {
		t.Error("sub-scores need both query modalities")
	}
}

func TestRanker_Rank_shardedMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := make([]models.CorpusEntry, 5000)
	for i := range entries {
		v := make([]float32, 16)
		for j := range v {
			v[j] = float32(rng.Intn(5) - 2)
		}
		if i%97 == 0 {
			v = v[:8]
		}
		entries[i] = models.CorpusEntry{ID: fmt.Sprintf("e%d", i), Vector: v}
	}
	c := newCorpus(entries...)
	query := make([]float32, 16)
	for j := range query {
		query[j] = float32(rng.Intn(5) - 2)
	}
	query[0] = 1

	seq, err := NewRanker(&RankingConfig{Workers: 1}).Rank(context.Background(), query, c, Options{TopK: 200})
	if err != nil {
		t.Fatal(err)
	}
	par, err := NewRanker(&RankingConfig{Workers: 8, MinShardSize: 100}).Rank(context.Background(), query, c, Options{TopK: 200})
	if err != nil {
		t.Fatal(err)
	}
	if seq.Valid != par.Valid || len(seq.Skipped) != len(par.Skipped) {
		t.Fatalf("valid %d/%d skipped %d/%d", seq.Valid, par.Valid, len(seq.Skipped), len(par.Skipped))
	}
	for i := range seq.Results {
		if seq.Results[i].ID != par.Results[i].ID {
			t.Fatalf("position %d: %s vs %s", i, seq.Results[i].ID, par.Results[i].ID)
		}
	}
}

func TestRanker_Rank_emptyInputs(t *testing.T) {
	ranker := NewRanker(nil)
	if _, err := ranker.Rank(context.Background(), nil, newCorpus(), Options{TopK: 1}); err == nil {
		t.Error("expected error for empty query")
	}
	got, err := ranker.Rank(context.Background(), []float32{1}, newCorpus(), Options{TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 0 || got.Valid != 0 {
		t.Errorf("empty corpus: %+v", got)
	}
}

func TestRanker_Rank_cancelled(t *testing.T) {
	entries := make([]models.CorpusEntry, 4096)
	for i := range entries {
		entries[i] = models.CorpusEntry{ID: fmt.Sprint(i), Vector: []float32{1, 0}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRanker(nil).Rank(ctx, []float32{1, 0}, newCorpus(entries...), Options{TopK: 1}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func BenchmarkRanker_Rank(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	entries := make([]models.CorpusEntry, 20000)
	for i := range entries {
		v := make([]float32, 256)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		entries[i] = models.CorpusEntry{ID: fmt.Sprintf("img-%05d.jpg", i), Vector: v}
	}
	c := newCorpus(entries...)
	query := entries[42].Vector
	ranker := NewRanker(nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ranker.Rank(context.Background(), query, c, Options{TopK: 10}); err != nil {
			b.Fatal(err)
		}
	}
}
