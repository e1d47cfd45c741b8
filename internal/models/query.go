package models

// SearchQuery is a multimodal search request. At least one of Text or Image
// must be set. ImageWeight is nil when the caller wants the configured default.
type SearchQuery struct {
	Text             string   `json:"text,omitempty"`
	Image            []byte   `json:"-"`
	ImageRef         string   `json:"image_ref,omitempty"`
	ImageWeight      *float64 `json:"image_weight,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	IncludeSubScores bool     `json:"include_sub_scores,omitempty"`
}

// HasText reports whether the query carries a text payload.
func (q *SearchQuery) HasText() bool { return q.Text != "" }

// HasImage reports whether the query carries an image payload.
func (q *SearchQuery) HasImage() bool { return len(q.Image) > 0 }

// Validate ensures the query has a payload and normalizes TopK into [1, maxTopK].
// defaultTopK is used when TopK is unset.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	if !q.HasText() && !q.HasImage() {
		return NewError(KindMissingQuery, "validate query", ErrMissingQuery)
	}
	if defaultTopK <= 0 {
		defaultTopK = 10
	}
	if maxTopK <= 0 {
		maxTopK = 100
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
