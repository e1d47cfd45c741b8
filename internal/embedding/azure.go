package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hyperjump/mitsuke/internal/models"
)

const (
	azureAPIVersion   = "2024-02-01"
	azureModelVersion = "2023-04-15"
)

// AzureVisionBackend calls the Azure AI Vision multimodal retrieval API
// (vectorizeText / vectorizeImage). Both modalities share one vector space.
type AzureVisionBackend struct {
	endpoint     string
	key          string
	modelVersion string
	client       *http.Client
}

// NewAzureVisionBackend returns an Azure backend. modelVersion may be empty.
func NewAzureVisionBackend(endpoint, key, modelVersion string, client *http.Client) (*AzureVisionBackend, error) {
	if endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if key == "" {
		return nil, fmt.Errorf("%w: azure: subscription key is empty", ErrUnauthorized)
	}
	if modelVersion == "" {
		modelVersion = azureModelVersion
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &AzureVisionBackend{
		endpoint:     strings.TrimRight(endpoint, "/"),
		key:          key,
		modelVersion: modelVersion,
		client:       client,
	}, nil
}

// Name implements Backend.
func (b *AzureVisionBackend) Name() string { return "azure" }

// Embed implements Backend.
func (b *AzureVisionBackend) Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	var (
		operation   string
		body        []byte
		contentType string
	)
	switch modality {
	case models.ModalityText:
		operation = "vectorizeText"
		contentType = "application/json"
		data, err := json.Marshal(map[string]string{"text": string(payload)})
		if err != nil {
			return nil, fmt.Errorf("azure: failed to encode request: %w", err)
		}
		body = data
	case models.ModalityImage:
		operation = "vectorizeImage"
		contentType = "application/octet-stream"
		body = payload
	default:
		return nil, ErrUnsupportedModality
	}

	q := url.Values{}
	q.Set("api-version", azureAPIVersion)
	q.Set("model-version", b.modelVersion)
	endpoint := b.endpoint + "/computervision/retrieval:" + operation + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Ocp-Apim-Subscription-Key", b.key)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, azureStatusError(resp.StatusCode, raw)
	}
	return parseFloatArray(gjson.GetBytes(raw, "vector"), "azure")
}

// Close is a no-op for AzureVisionBackend.
func (b *AzureVisionBackend) Close() error { return nil }

func azureStatusError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := gjson.GetBytes(body, "error.code").String()
	base := fmt.Errorf("azure: status %d: %s %s", status, code, msg)
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, base)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, base)
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: %w", ErrInvalidInput, base)
	}
	return base
}
