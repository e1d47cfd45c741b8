// Package storage persists corpus vectors in SQLite and reports disk usage.
package storage

import (
	"context"

	"github.com/hyperjump/mitsuke/internal/models"
)

// CorpusStore persists corpus entries in a stable order.
type CorpusStore interface {
	// Import replaces the stored corpus with entries, keeping their order.
	Import(ctx context.Context, entries []models.CorpusEntry) error
	Load(ctx context.Context) ([]models.CorpusEntry, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
