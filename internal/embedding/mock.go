package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// MockBackend is a deterministic backend for development and tests. The same
// payload always yields the same unit vector, for text and image alike.
type MockBackend struct {
	dimensions int
}

// NewMockBackend returns a mock backend producing vectors of the given dimension.
func NewMockBackend(dimensions int) *MockBackend {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockBackend{dimensions: dimensions}
}

// Name implements Backend.
func (b *MockBackend) Name() string { return "mock" }

// Dimensions returns the embedding dimension.
func (b *MockBackend) Dimensions() int { return b.dimensions }

// Embed returns a deterministic embedding seeded by the payload hash.
func (b *MockBackend) Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	var h int
	switch modality {
	case models.ModalityText:
		h = HashString(string(payload))
	case models.ModalityImage:
		h = HashBytes(payload)
	default:
		return nil, ErrUnsupportedModality
	}
	emb := make([]float32, b.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h%1_000_003*(i+1)))*0.1 + 0.01)
	}
	vector.NormalizeInPlace(emb)
	return emb, nil
}

// Close is a no-op for MockBackend.
func (b *MockBackend) Close() error { return nil }
