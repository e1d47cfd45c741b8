// Package embedding turns text and image payloads into vectors through
// remote or local embedding backends, with bounded-time retries.
package embedding

import (
	"context"
	"errors"
	"strings"

	"github.com/hyperjump/mitsuke/internal/models"
)

// Backend is a single embedding capability. Implementations need not honor
// ctx cancellation; the Adapter enforces its own per-attempt deadline.
type Backend interface {
	Name() string
	Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error)
	Close() error
}

// Generator produces an embedding vector for one modality.
type Generator interface {
	Generate(ctx context.Context, modality models.Modality, payload []byte) (*models.EmbeddingVector, error)
}

// Sentinel errors backends wrap so the Adapter can classify failures.
var (
	ErrRateLimited         = errors.New("provider rate limited")
	ErrInvalidInput        = errors.New("invalid embedding input")
	ErrUnauthorized        = errors.New("provider rejected credentials")
	ErrUnsupportedModality = errors.New("modality not supported by backend")
	ErrAttemptTimeout      = errors.New("embedding attempt timed out")
	ErrEmptyEmbedding      = errors.New("provider returned an empty embedding")
)

// FailureKind is how the Adapter treats a failed attempt.
type FailureKind int

const (
	// FailureTransient covers network errors and 5xx responses; retried with
	// the normal backoff.
	FailureTransient FailureKind = iota
	FailureTimeout
	FailureRateLimited
	// FailureFatal is never retried.
	FailureFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureRateLimited:
		return "rate_limited"
	case FailureFatal:
		return "fatal"
	}
	return "transient"
}

// Classify maps a backend error to a FailureKind. Errors that only carry a
// throttling message ("rate limit", "429") are treated as rate limited.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureTransient
	case errors.Is(err, ErrAttemptTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnsupportedModality):
		return FailureFatal
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return FailureRateLimited
	}
	return FailureTransient
}

// fatalKind returns the reason code reported for a fatal failure.
func fatalKind(err error) models.Kind {
	if errors.Is(err, ErrUnauthorized) {
		return models.KindUnauthorized
	}
	return models.KindInvalidInput
}
