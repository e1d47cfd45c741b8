package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mitsuke/internal/models"
)

func ids(entries []models.CorpusEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestParseJSON_layouts(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantIDs []string
	}{
		{
			name:    "object of objects uses path",
			doc:     `{"k2":{"path":"img/b.jpg","embedding":[0,1]},"k1":{"embedding":[1,0]}}`,
			wantIDs: []string{"img/b.jpg", "k1"},
		},
		{
			name:    "object of arrays",
			doc:     `{"z.jpg":[1,0],"a.jpg":[0,1],"m.jpg":[1,1]}`,
			wantIDs: []string{"z.jpg", "a.jpg", "m.jpg"},
		},
		{
			name:    "parallel arrays",
			doc:     `{"image_paths":["b.png","a.png"],"embeddings":[[1,2],[3,4]]}`,
			wantIDs: []string{"b.png", "a.png"},
		},
		{
			name:    "parallel arrays with ids",
			doc:     `{"ids":["x","y"],"embeddings":[[1,2],[3,4]]}`,
			wantIDs: []string{"x", "y"},
		},
		{
			name:    "list of objects",
			doc:     `[{"id":"q","vector":[1]},{"path":"p","embedding":[2]}]`,
			wantIDs: []string{"q", "p"},
		},
		{
			name:    "list of pairs",
			doc:     `[["second",[1,2]],["first",[3,4]]]`,
			wantIDs: []string{"second", "first"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, rejected, err := ParseJSON([]byte(tt.doc))
			require.NoError(t, err)
			assert.Empty(t, rejected)
			assert.Equal(t, tt.wantIDs, ids(entries))
		})
	}
}

func TestParseJSON_skipsMalformedEntries(t *testing.T) {
	doc := `{
		"image_paths": ["ok1", "null", "text", "empty", "ragged", "ok2"],
		"embeddings": [[1, 0], null, [1, "x"], [], [[1, 2], [3]], [0, 1]]
	}`
	entries, rejected, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok1", "ok2"}, ids(entries))
	require.Len(t, rejected, 4)
	assert.Equal(t, "null", rejected[0].ID)
	assert.Equal(t, "null embedding", rejected[0].Reason)
}

func TestParseJSON_nestedKeepsShape(t *testing.T) {
	entries, _, err := ParseJSON([]byte(`{"a.jpg":[[0.5,0.5,0,0]]}`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []float32{0.5, 0.5, 0, 0}, entries[0].Vector)
	assert.Equal(t, []int{1, 4}, entries[0].Shape)
	assert.Equal(t, 4, entries[0].Elements())
}

func TestParseJSON_errors(t *testing.T) {
	for _, doc := range []string{`{not json`, `42`, `{"image_paths":["a"],"embeddings":[[1],[2]]}`} {
		_, _, err := ParseJSON([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestJSONLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "titan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":{"path":"a.jpg","embedding":[1,0]},"b":{"embedding":null}}`), 0644))

	loader := NewJSONLoader(path, nil)
	entries, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, ids(entries))
	assert.Equal(t, "json:"+path, loader.Source())
}

func TestJSONLoader_absent(t *testing.T) {
	loader := NewJSONLoader(filepath.Join(t.TempDir(), "missing.json"), nil)
	_, err := loader.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorpusAbsent)
}

func TestParseVectorText(t *testing.T) {
	e, err := parseVectorText("a", "[0.25,0.5,1]")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 1}, e.Vector)

	e, err = parseVectorText("b", "{{1,2},{3,4}}")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, e.Vector)
	assert.Equal(t, []int{2, 2}, e.Shape)

	_, err = parseVectorText("c", "not a vector")
	assert.Error(t, err)
}
