package search

import (
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

func vec(m models.Modality, values ...float32) *models.EmbeddingVector {
	return &models.EmbeddingVector{Modality: m, Values: values}
}

func approxEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			return false
		}
	}
	return true
}

func TestCombine_weightEndpoints(t *testing.T) {
	text := vec(models.ModalityText, 3, 4, 0)
	image := vec(models.ModalityImage, 0, 1, 1)

	got, w, err := Combine(text, image, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 || !approxEqual(got.Values, vector.Normalize(text.Values)) {
		t.Errorf("w=0: got %v (weight %v), want normalized text", got.Values, w)
	}
	if got.Modality != models.ModalityCombined {
		t.Errorf("Modality = %s", got.Modality)
	}

	got, w, err = Combine(text, image, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w != 1 || !approxEqual(got.Values, vector.Normalize(image.Values)) {
		t.Errorf("w=1: got %v (weight %v), want normalized image", got.Values, w)
	}
}

func TestCombine_unitLength(t *testing.T) {
	got, _, err := Combine(vec(models.ModalityText, 10, 0), vec(models.ModalityImage, 0, 0.1), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(vector.L2Norm(got.Values)-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", vector.L2Norm(got.Values))
	}
	// Inputs are normalized before mixing, so magnitude does not bias the result.
	if math.Abs(float64(got.Values[0]-got.Values[1])) > 1e-6 {
		t.Errorf("expected equal components, got %v", got.Values)
	}
}

func TestCombine_singleModality(t *testing.T) {
	got, w, err := Combine(vec(models.ModalityText, 2, 0), nil, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 || got.Modality != models.ModalityText || !approxEqual(got.Values, []float32{1, 0}) {
		t.Errorf("text only: %+v weight %v", got, w)
	}

	got, w, err = Combine(nil, vec(models.ModalityImage, 0, 5), 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if w != 1 || got.Modality != models.ModalityImage || !approxEqual(got.Values, []float32{0, 1}) {
		t.Errorf("image only: %+v weight %v", got, w)
	}
}

func TestCombine_errors(t *testing.T) {
	_, _, err := Combine(nil, vec(models.ModalityImage), 0.5)
	if models.KindOf(err) != models.KindMissingQuery {
		t.Errorf("neither present: kind = %s", models.KindOf(err))
	}
	_, _, err = Combine(vec(models.ModalityText, 1, 0), vec(models.ModalityImage, 1, 0, 0), 0.5)
	if models.KindOf(err) != models.KindDimensionMismatch || !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("dimension mismatch: err = %v", err)
	}
}

func TestResolveWeight(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name      string
		requested *float64
		want      float64
		warns     bool
	}{
		{"unset", nil, 0.5, false},
		{"zero", f(0), 0, false},
		{"inside", f(0.25), 0.25, false},
		{"one", f(1), 1, false},
		{"negative", f(-0.5), 0, true},
		{"above", f(1.5), 1, true},
		{"nan", f(math.NaN()), 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warning := ResolveWeight(tt.requested, 0.5)
			if got != tt.want {
				t.Errorf("weight = %v, want %v", got, tt.want)
			}
			if (warning != "") != tt.warns {
				t.Errorf("warning = %q, warns = %v", warning, tt.warns)
			}
		})
	}
}
