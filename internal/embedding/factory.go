package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/mitsuke/internal/config"
)

// Backend names accepted in provider configuration.
const (
	BackendMock   = "mock"
	BackendTitan  = "titan"
	BackendAzure  = "azure"
	BackendOpenAI = "openai"
	BackendONNX   = "onnx"
)

// NewBackend constructs the backend described by cfg. An ONNX backend that
// cannot start falls back to the mock backend with a warning.
func NewBackend(ctx context.Context, cfg *config.ProviderConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendMock:
		return NewMockBackend(cfg.Dimensions), nil
	case BackendTitan:
		return NewTitanBackend(ctx, TitanConfig{
			Region:       cfg.Region,
			ModelID:      cfg.Model,
			Dimensions:   cfg.Dimensions,
			Endpoint:     cfg.Endpoint,
			MaxImageSide: cfg.MaxImageSide,
		})
	case BackendAzure:
		return NewAzureVisionBackend(cfg.Endpoint, cfg.APIKey(), cfg.Model, nil)
	case BackendOpenAI:
		return NewOpenAIBackend(cfg.APIKey(), cfg.Model, cfg.Dimensions, cfg.Endpoint)
	case BackendONNX:
		b, err := NewONNXBackend(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX backend unavailable, using mock backend",
				zap.String("model_path", cfg.ModelPath),
				zap.Error(err))
			return NewMockBackend(cfg.Dimensions), nil
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
}

// PolicyFromConfig builds a RetryPolicy from retry settings.
func PolicyFromConfig(cfg *config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		PerAttemptTimeout: cfg.AttemptTimeout,
		Backoff:           ExponentialBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		RateLimitBackoff:  ExponentialBackoff(cfg.RateLimitBackoff, 2*cfg.MaxBackoff),
	}
}

// NewGatewayFromConfig builds one adapter per modality. When text and image
// use an identical provider configuration they share one backend, but each
// modality still gets its own adapter and rate limiter.
func NewGatewayFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := PolicyFromConfig(&cfg.Retry)

	textBackend, err := NewBackend(ctx, &cfg.Providers.Text, logger)
	if err != nil {
		return nil, fmt.Errorf("text provider: %w", err)
	}
	imageBackend := textBackend
	if cfg.Providers.Image != cfg.Providers.Text {
		imageBackend, err = NewBackend(ctx, &cfg.Providers.Image, logger)
		if err != nil {
			_ = textBackend.Close()
			return nil, fmt.Errorf("image provider: %w", err)
		}
	}

	newAdapter := func(b Backend) *Adapter {
		opts := []Option{WithLogger(logger)}
		if cfg.Retry.RequestsPerSecond > 0 {
			opts = append(opts, WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Retry.RequestsPerSecond), 1)))
		}
		return NewAdapter(b, policy, opts...)
	}
	text := newAdapter(textBackend)
	image := newAdapter(imageBackend)
	logger.Info("embedding providers ready",
		zap.String("text_backend", textBackend.Name()),
		zap.String("image_backend", imageBackend.Name()),
		zap.Int("max_attempts", text.Policy().MaxAttempts),
		zap.Duration("attempt_timeout", text.Policy().PerAttemptTimeout),
		zap.Duration("worst_case", text.Policy().WorstCase().Round(time.Millisecond)))
	return NewGateway(text, image), nil
}
