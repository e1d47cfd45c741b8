// Package cli formats search and embedding output for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/mitsuke/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format %q (use text or json)", s)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%d entries scored, %d skipped, image weight %.2f)\n\n",
		len(response.Results), response.QueryTime, response.Total, response.Skipped, response.ImageWeight)
	for _, warning := range response.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, result := range response.Results {
		fmt.Fprintf(w, "%3d. %.4f  %s", result.Rank, result.CombinedSimilarity, result.ID)
		if result.TextSimilarity != nil && result.ImageSimilarity != nil {
			fmt.Fprintf(w, "  (text %.4f, image %.4f)", *result.TextSimilarity, *result.ImageSimilarity)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteEmbedding writes a generated vector. Text output shows the first few
// components only.
func WriteEmbedding(w io.Writer, vec *models.EmbeddingVector, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"modality":   vec.Modality,
			"dimensions": vec.Dimensions(),
			"values":     vec.Values,
		})
	}
	const preview = 8
	fmt.Fprintf(w, "modality: %s\ndimensions: %d\n", vec.Modality, vec.Dimensions())
	parts := make([]string, 0, preview)
	for i, v := range vec.Values {
		if i == preview {
			break
		}
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	suffix := ""
	if len(vec.Values) > preview {
		suffix = ", ..."
	}
	fmt.Fprintf(w, "values: [%s%s]\n", strings.Join(parts, ", "), suffix)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
