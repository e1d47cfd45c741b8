package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/ranking"
	"github.com/hyperjump/mitsuke/internal/storage"
)

const e2eDimensions = 16

// fixtureCaptions are embedded with the mock backend to build a corpus whose
// nearest neighbour for each caption is known.
var fixtureCaptions = map[string]string{
	"bike.jpg":     "a red bicycle leaning on a wall",
	"cat.jpg":      "a cat sleeping on a sofa",
	"harbor.jpg":   "boats in a harbor at sunset",
	"mountain.jpg": "snow on a mountain ridge",
	"ramen.jpg":    "a bowl of ramen with egg",
}

func TestE2E_SQLiteCorpusSearch(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "corpus.db")
	backend := embedding.NewMockBackend(e2eDimensions)

	var entries []models.CorpusEntry
	for _, id := range []string{"bike.jpg", "cat.jpg", "harbor.jpg", "mountain.jpg", "ramen.jpg"} {
		v, err := backend.Embed(ctx, models.ModalityText, []byte(fixtureCaptions[id]))
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, models.CorpusEntry{ID: id, Vector: v})
	}
	// A stale entry from an older model.
	entries = append(entries, models.CorpusEntry{ID: "old.jpg", Vector: make([]float32, 8)})

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Import(ctx, entries); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	adapter := embedding.NewAdapter(backend, embedding.DefaultRetryPolicy())
	gateway := embedding.NewGateway(adapter, adapter)
	defer gateway.Close()
	cfg := &config.SearchConfig{DefaultTopK: 3, MaxTopK: 10}
	engine := NewEngine(gateway, corpus.NewCache(storage.NewSQLiteLoader(dbPath), nil),
		ranking.NewRanker(&ranking.RankingConfig{Workers: 2, MinShardSize: 1}), cfg, nil)

	for id, caption := range fixtureCaptions {
		resp, err := engine.Search(ctx, &models.SearchQuery{Text: caption})
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Results) != 3 {
			t.Fatalf("%s: expected 3 results, got %d", id, len(resp.Results))
		}
		if resp.Results[0].ID != id {
			t.Errorf("query %q: first = %s, want %s", caption, resp.Results[0].ID, id)
		}
		if resp.Total != 5 || resp.Skipped != 1 {
			t.Errorf("Total = %d, Skipped = %d", resp.Total, resp.Skipped)
		}
	}
}
