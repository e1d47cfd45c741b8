package models

// SearchResult is a single ranked corpus entry. TextSimilarity and
// ImageSimilarity are only set when sub-scores were requested and both
// query modalities were present.
type SearchResult struct {
	ID                 string   `json:"id"`
	Rank               int      `json:"rank"`
	CombinedSimilarity float64  `json:"combined_similarity"`
	TextSimilarity     *float64 `json:"text_similarity,omitempty"`
	ImageSimilarity    *float64 `json:"image_similarity,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	// Total is the number of corpus entries that were scored.
	Total int `json:"total"`
	// Skipped is the number of corpus entries dropped as incompatible.
	Skipped     int      `json:"skipped"`
	ImageWeight float64  `json:"image_weight"`
	Warnings    []string `json:"warnings,omitempty"`
	QueryTime   int64    `json:"query_time_ms"`
	QueryID     string   `json:"query_id"`
}
