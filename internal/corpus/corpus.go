// Package corpus loads the immutable set of precomputed reference vectors
// that queries are ranked against.
package corpus

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// ErrCorpusAbsent is returned by a Loader whose source does not exist.
var ErrCorpusAbsent = errors.New("corpus source does not exist")

// Loader produces corpus entries in a stable order.
type Loader interface {
	Load(ctx context.Context) ([]models.CorpusEntry, error)
	// Source describes where entries come from, for logs and status.
	Source() string
}

// Corpus is a loaded, read-only corpus with precomputed entry norms.
// Nothing may modify it after New returns.
type Corpus struct {
	entries  []models.CorpusEntry
	norms    []float64
	source   string
	loadedAt time.Time
}

// New builds a Corpus from entries, which the Corpus takes ownership of.
func New(source string, entries []models.CorpusEntry) *Corpus {
	norms := make([]float64, len(entries))
	for i := range entries {
		norms[i] = vector.L2Norm(entries[i].Vector)
	}
	return &Corpus{
		entries:  entries,
		norms:    norms,
		source:   source,
		loadedAt: time.Now(),
	}
}

// Len returns the number of entries.
func (c *Corpus) Len() int { return len(c.entries) }

// Entry returns the i-th entry. Callers must not modify it.
func (c *Corpus) Entry(i int) *models.CorpusEntry { return &c.entries[i] }

// Norm returns the L2 norm of the i-th entry's vector.
func (c *Corpus) Norm(i int) float64 { return c.norms[i] }

// Source returns the loader description.
func (c *Corpus) Source() string { return c.source }

// LoadedAt returns when the corpus was built.
func (c *Corpus) LoadedAt() time.Time { return c.loadedAt }

// Dimensions returns how many entries have each vector length.
func (c *Corpus) Dimensions() map[int]int {
	dims := make(map[int]int)
	for i := range c.entries {
		dims[len(c.entries[i].Vector)]++
	}
	return dims
}
