//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/mitsuke/internal/models"
)

var errONNXUnavailable = errors.New("ONNX backend requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXBackend stub type when built without CGO (see onnx.go for the real implementation).
type ONNXBackend struct{}

// NewONNXBackend returns an error when built without CGO.
func NewONNXBackend(_ string, _, _ int) (*ONNXBackend, error) {
	return nil, errONNXUnavailable
}

// Name implements Backend.
func (b *ONNXBackend) Name() string { return "onnx" }

// Embed implements Backend.
func (b *ONNXBackend) Embed(context.Context, models.Modality, []byte) ([]float32, error) {
	return nil, errONNXUnavailable
}

// Close implements Backend.
func (b *ONNXBackend) Close() error { return nil }
