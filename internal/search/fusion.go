// Package search merges per-modality query vectors and runs similarity search
// against the loaded corpus.
package search

import (
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// ResolveWeight returns the image weight to apply. A nil request yields
// fallback. Values outside [0,1] are clamped and NaN falls back; both cases
// return a non-empty warning.
func ResolveWeight(requested *float64, fallback float64) (float64, string) {
	if requested == nil {
		return fallback, ""
	}
	w := *requested
	switch {
	case math.IsNaN(w):
		return fallback, fmt.Sprintf("%s: image_weight is NaN, using default %g", models.KindInvalidWeight, fallback)
	case w < 0:
		return 0, fmt.Sprintf("%s: image_weight %g clamped to 0", models.KindInvalidWeight, w)
	case w > 1:
		return 1, fmt.Sprintf("%s: image_weight %g clamped to 1", models.KindInvalidWeight, w)
	}
	return w, ""
}

// Combine merges a text vector and an image vector into one unit-length query
// vector: normalize(w·normalize(image) + (1−w)·normalize(text)). With a single
// modality the result is that vector normalized and the applied weight is the
// implied endpoint (0 for text, 1 for image). The applied weight is returned.
func Combine(text, image *models.EmbeddingVector, imageWeight float64) (*models.EmbeddingVector, float64, error) {
	hasText := text != nil && len(text.Values) > 0
	hasImage := image != nil && len(image.Values) > 0

	switch {
	case !hasText && !hasImage:
		return nil, 0, models.NewError(models.KindMissingQuery, "combine", models.ErrMissingQuery)
	case !hasImage:
		return &models.EmbeddingVector{Modality: models.ModalityText, Values: vector.Normalize(text.Values)}, 0, nil
	case !hasText:
		return &models.EmbeddingVector{Modality: models.ModalityImage, Values: vector.Normalize(image.Values)}, 1, nil
	}

	if len(text.Values) != len(image.Values) {
		return nil, imageWeight, models.NewError(models.KindDimensionMismatch, "combine",
			fmt.Errorf("%w: text has %d dimensions, image has %d", models.ErrDimensionMismatch, len(text.Values), len(image.Values)))
	}
	imageWeight = math.Max(0, math.Min(1, imageWeight))

	t := vector.Normalize(text.Values)
	i := vector.Normalize(image.Values)
	merged := make([]float32, len(t))
	for k := range merged {
		merged[k] = float32(imageWeight*float64(i[k]) + (1-imageWeight)*float64(t[k]))
	}
	vector.NormalizeInPlace(merged)
	if !vector.IsFinite(merged) {
		return nil, imageWeight, models.NewError(models.KindInvalidInput, "combine", errors.New("combined vector is not finite"))
	}
	return &models.EmbeddingVector{Modality: models.ModalityCombined, Values: merged}, imageWeight, nil
}
