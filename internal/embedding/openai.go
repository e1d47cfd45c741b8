package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hyperjump/mitsuke/internal/models"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIBackend embeds text with the OpenAI embeddings API. It has no image
// support and reports ErrUnsupportedModality for image payloads.
type OpenAIBackend struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIBackend returns an OpenAI backend. SDK-level retries are disabled;
// the Adapter owns retrying. baseURL may be empty.
func NewOpenAIBackend(apiKey, model string, dimensions int, baseURL string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is empty", ErrUnauthorized)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Embed implements Backend.
func (b *OpenAIBackend) Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	if modality != models.ModalityText {
		return nil, fmt.Errorf("openai: %w: %s", ErrUnsupportedModality, modality)
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(string(payload))},
		Model: openai.EmbeddingModel(b.model),
	}
	if b.dimensions > 0 {
		params.Dimensions = openai.Int(int64(b.dimensions))
	}
	resp, err := b.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: %w", ErrEmptyEmbedding)
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Close is a no-op for OpenAIBackend.
func (b *OpenAIBackend) Close() error { return nil }

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: openai: %w", ErrRateLimited, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: openai: %w", ErrUnauthorized, err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: openai: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("openai: %w", err)
}
