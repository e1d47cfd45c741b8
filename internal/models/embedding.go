package models

import "fmt"

// Modality is the input channel of a query or corpus vector.
type Modality string

const (
	ModalityText     Modality = "text"
	ModalityImage    Modality = "image"
	ModalityCombined Modality = "combined"
)

// ParseModality converts s to a Modality. Only text and image are accepted,
// since a combined vector is never produced by a provider.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityText, ModalityImage:
		return Modality(s), nil
	}
	return "", NewError(KindInvalidInput, "parse modality", fmt.Errorf("unknown modality %q", s))
}

// EmbeddingVector is a vector tagged with the modality it came from.
type EmbeddingVector struct {
	Modality Modality  `json:"modality"`
	Values   []float32 `json:"values"`
}

// Dimensions returns the vector length.
func (v *EmbeddingVector) Dimensions() int {
	if v == nil {
		return 0
	}
	return len(v.Values)
}

// CorpusEntry is one precomputed reference vector. Shape is the original
// shape when the source stored a nested array; nil means flat.
type CorpusEntry struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
	Shape  []int     `json:"shape,omitempty"`
}

// Elements returns the element count implied by Shape, or len(Vector) when flat.
func (e *CorpusEntry) Elements() int {
	if len(e.Shape) == 0 {
		return len(e.Vector)
	}
	n := 1
	for _, d := range e.Shape {
		n *= d
	}
	return n
}
