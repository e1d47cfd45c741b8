package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/models"
)

// JSONLoader reads a corpus from a JSON file. Accepted layouts, in file order:
//
//	{"<id>": {"path": "...", "embedding": [...]}, ...}   id is path when present
//	{"<path>": [...], ...}
//	{"image_paths": [...], "embeddings": [...]}          also "paths" or "ids"
//	[{"id"|"path": "...", "embedding"|"vector": [...]}, ...]
//	[["<id>", [...]], ...]
//
// Embeddings may be nested arrays of equal shape; they are flattened and the
// original shape is kept. Entries that are null, non-numeric or ragged are
// skipped and logged.
type JSONLoader struct {
	path   string
	logger *zap.Logger
}

// NewJSONLoader returns a loader for the file at path.
func NewJSONLoader(path string, logger *zap.Logger) *JSONLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLoader{path: path, logger: logger}
}

// Source implements Loader.
func (l *JSONLoader) Source() string { return "json:" + l.path }

// Load implements Loader.
func (l *JSONLoader) Load(ctx context.Context) ([]models.CorpusEntry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCorpusAbsent, l.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	entries, skipped, err := ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", l.path, err)
	}
	for _, s := range skipped {
		l.logger.Debug("skipping corpus entry", zap.String("id", s.ID), zap.String("reason", s.Reason))
	}
	if len(skipped) > 0 {
		l.logger.Warn("corpus entries skipped at load",
			zap.String("path", l.path),
			zap.Int("skipped", len(skipped)),
			zap.Int("loaded", len(entries)))
	}
	return entries, nil
}

// Rejected is an entry dropped while parsing.
type Rejected struct {
	ID     string
	Reason string
}

// ParseJSON parses a corpus document in any layout JSONLoader accepts.
func ParseJSON(data []byte) ([]models.CorpusEntry, []Rejected, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, errors.New("invalid JSON")
	}
	p := &parser{}
	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		p.parseList(root)
	case root.IsObject():
		if embs := root.Get("embeddings"); embs.IsArray() {
			ids := root.Get("image_paths")
			if !ids.Exists() {
				ids = root.Get("paths")
			}
			if !ids.Exists() {
				ids = root.Get("ids")
			}
			if ids.IsArray() {
				if err := p.parseParallel(ids, embs); err != nil {
					return nil, nil, err
				}
				break
			}
		}
		p.parseObject(root)
	default:
		return nil, nil, errors.New("corpus must be a JSON object or array")
	}
	return p.entries, p.rejected, nil
}

type parser struct {
	entries  []models.CorpusEntry
	rejected []Rejected
}

func (p *parser) add(id string, emb gjson.Result) {
	if id == "" {
		p.rejected = append(p.rejected, Rejected{ID: fmt.Sprintf("#%d", len(p.entries)+len(p.rejected)), Reason: "missing id"})
		return
	}
	values, shape, err := flatten(emb)
	if err != nil {
		p.rejected = append(p.rejected, Rejected{ID: id, Reason: err.Error()})
		return
	}
	entry := models.CorpusEntry{ID: id, Vector: values}
	if len(shape) > 1 {
		entry.Shape = shape
	}
	p.entries = append(p.entries, entry)
}

func (p *parser) parseObject(root gjson.Result) {
	root.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			id := value.Get("path").String()
			if id == "" {
				id = key.String()
			}
			p.add(id, embeddingField(value))
			return true
		}
		p.add(key.String(), value)
		return true
	})
}

func (p *parser) parseList(root gjson.Result) {
	root.ForEach(func(_, value gjson.Result) bool {
		switch {
		case value.IsObject():
			id := value.Get("id").String()
			if id == "" {
				id = value.Get("path").String()
			}
			p.add(id, embeddingField(value))
		case value.IsArray():
			pair := value.Array()
			if len(pair) != 2 || pair[0].Type != gjson.String {
				p.add("", gjson.Result{})
				return true
			}
			p.add(pair[0].String(), pair[1])
		default:
			p.add("", gjson.Result{})
		}
		return true
	})
}

func (p *parser) parseParallel(ids, embs gjson.Result) error {
	idList := ids.Array()
	embList := embs.Array()
	if len(idList) != len(embList) {
		return fmt.Errorf("%d ids but %d embeddings", len(idList), len(embList))
	}
	for i := range idList {
		p.add(idList[i].String(), embList[i])
	}
	return nil
}

func embeddingField(obj gjson.Result) gjson.Result {
	if emb := obj.Get("embedding"); emb.Exists() {
		return emb
	}
	return obj.Get("vector")
}

// flatten converts a (possibly nested) numeric array to a flat vector and its shape.
func flatten(v gjson.Result) ([]float32, []int, error) {
	if !v.IsArray() {
		if v.Type == gjson.Null || !v.Exists() {
			return nil, nil, errors.New("null embedding")
		}
		return nil, nil, errors.New("embedding is not an array")
	}
	items := v.Array()
	if len(items) == 0 {
		return nil, nil, errors.New("empty embedding")
	}
	if items[0].IsArray() {
		var (
			out   []float32
			inner []int
		)
		for i, item := range items {
			vals, shape, err := flatten(item)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				inner = shape
			} else if !slices.Equal(shape, inner) {
				return nil, nil, errors.New("ragged nested embedding")
			}
			out = append(out, vals...)
		}
		return out, append([]int{len(items)}, inner...), nil
	}
	out := make([]float32, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return nil, nil, fmt.Errorf("non-numeric element at %d", i)
		}
		out[i] = float32(item.Float())
	}
	return out, []int{len(items)}, nil
}
