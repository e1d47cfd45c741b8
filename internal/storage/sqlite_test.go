package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/models"
)

func TestSQLiteStore_ImportLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "corpus.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	entries := []models.CorpusEntry{
		{ID: "z.jpg", Vector: []float32{1, 0}},
		{ID: "a.jpg", Vector: []float32{0.5, -0.25, 3, 4}, Shape: []int{2, 2}},
		{ID: "m.jpg", Vector: []float32{0, 1}},
	}
	if err := store.Import(ctx, entries); err != nil {
		t.Fatal(err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d entries", len(got))
	}
	for i := range entries {
		if got[i].ID != entries[i].ID {
			t.Errorf("entry %d id = %s, want %s (order must be preserved)", i, got[i].ID, entries[i].ID)
		}
		if len(got[i].Vector) != len(entries[i].Vector) {
			t.Fatalf("entry %d len = %d", i, len(got[i].Vector))
		}
		for j := range entries[i].Vector {
			if got[i].Vector[j] != entries[i].Vector[j] {
				t.Errorf("entry %d value %d = %v, want %v", i, j, got[i].Vector[j], entries[i].Vector[j])
			}
		}
	}
	if len(got[1].Shape) != 2 || got[1].Shape[0] != 2 || got[1].Shape[1] != 2 {
		t.Errorf("shape = %v, want [2 2]", got[1].Shape)
	}
	if got[0].Shape != nil {
		t.Errorf("flat entry shape = %v, want nil", got[0].Shape)
	}
}

func TestSQLiteStore_ImportReplaces(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Import(ctx, []models.CorpusEntry{{ID: "old", Vector: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Import(ctx, []models.CorpusEntry{{ID: "new1", Vector: []float32{1}}, {ID: "new2", Vector: []float32{2}}}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "new1" {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	loader := NewSQLiteLoader(path)
	ctx := context.Background()

	if _, err := loader.Load(ctx); !errors.Is(err, corpus.ErrCorpusAbsent) {
		t.Fatalf("missing database: err = %v, want ErrCorpusAbsent", err)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Import(ctx, []models.CorpusEntry{{ID: "a", Vector: []float32{1, 2}}}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	got, err := loader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %+v", got)
	}
	if loader.Source() != "sqlite:"+path {
		t.Errorf("Source = %s", loader.Source())
	}
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0, 1, -1, 3.5, float32(math.SmallestNonzeroFloat32)}
	got, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], vec[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestShapeEncoding(t *testing.T) {
	if s := encodeShape([]int{1, 256}); s != "1x256" {
		t.Errorf("encodeShape = %q", s)
	}
	if s := encodeShape(nil); s != "" {
		t.Errorf("encodeShape(nil) = %q", s)
	}
	shape, err := decodeShape("4x8x2")
	if err != nil || len(shape) != 3 || shape[2] != 2 {
		t.Errorf("decodeShape = %v, %v", shape, err)
	}
	if _, err := decodeShape("4xx"); err == nil {
		t.Error("expected error for malformed shape")
	}
}
