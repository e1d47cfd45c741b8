package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// Adapter wraps a Backend with a hard per-attempt deadline and sequential
// retries. It is safe for concurrent use.
type Adapter struct {
	backend Backend
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRateLimiter makes every attempt wait on limiter first.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(a *Adapter) { a.limiter = limiter }
}

// NewAdapter returns an adapter for backend. Zero policy fields take the
// DefaultRetryPolicy values.
func NewAdapter(backend Backend, policy RetryPolicy, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		policy:  policy.withDefaults(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("backend", backend.Name()))
	return a
}

// Policy returns the effective retry policy.
func (a *Adapter) Policy() RetryPolicy { return a.policy }

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend { return a.backend }

type attemptResult struct {
	values []float32
	err    error
}

// Generate embeds payload. Attempts that time out, are throttled or fail
// transiently are retried after a backoff; invalid input and credential
// failures return at once. When every attempt fails the error has kind
// provider_unavailable and records MaxAttempts attempts. Cancelling ctx stops
// the loop and returns ctx's error.
func (a *Adapter) Generate(ctx context.Context, modality models.Modality, payload []byte) (*models.EmbeddingVector, error) {
	op := "generate " + string(modality)
	if len(payload) == 0 {
		return nil, &models.Error{Kind: models.KindInvalidInput, Op: op, Err: fmt.Errorf("%w: empty payload", ErrInvalidInput)}
	}

	var lastErr error
	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
			}
		}

		start := time.Now()
		values, err := a.attempt(ctx, modality, payload)
		if err == nil {
			if len(values) == 0 {
				err = ErrEmptyEmbedding
			} else if !vector.IsFinite(values) {
				err = fmt.Errorf("%w: non-finite values", ErrEmptyEmbedding)
			}
		}
		if err == nil {
			a.logger.Debug("embedding generated",
				zap.String("modality", string(modality)),
				zap.Int("attempt", attempt),
				zap.Int("dimensions", len(values)),
				zap.Duration("elapsed", time.Since(start)))
			return &models.EmbeddingVector{Modality: modality, Values: values}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}

		lastErr = err
		kind := Classify(err)
		if kind == FailureFatal {
			a.logger.Warn("embedding failed",
				zap.String("modality", string(modality)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, &models.Error{Kind: fatalKind(err), Op: op, Attempts: attempt, Err: err}
		}
		if attempt == a.policy.MaxAttempts {
			break
		}

		wait := a.policy.wait(kind, attempt)
		a.logger.Warn("embedding attempt failed, retrying",
			zap.String("modality", string(modality)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.policy.MaxAttempts),
			zap.String("failure", kind.String()),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	a.logger.Error("embedding provider unavailable",
		zap.String("modality", string(modality)),
		zap.Int("attempts", a.policy.MaxAttempts),
		zap.Error(lastErr))
	return nil, &models.Error{
		Kind:     models.KindProviderUnavailable,
		Op:       op,
		Attempts: a.policy.MaxAttempts,
		Err:      fmt.Errorf("%w: %w", models.ErrProviderUnavailable, lastErr),
	}
}

// attempt runs one backend call in its own goroutine and waits at most
// PerAttemptTimeout. On timeout the result channel is abandoned; its buffer
// lets the goroutine finish without a reader.
func (a *Adapter) attempt(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, a.policy.PerAttemptTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		values, err := a.backend.Embed(attemptCtx, modality, payload)
		done <- attemptResult{values: values, err: err}
	}()

	select {
	case r := <-done:
		return r.values, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, a.policy.PerAttemptTimeout)
	}
}

// Close closes the wrapped backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Gateway routes Generate calls to the adapter registered for a modality.
type Gateway struct {
	adapters map[models.Modality]*Adapter
}

var _ Generator = (*Gateway)(nil)
var _ Generator = (*Adapter)(nil)

// NewGateway returns a gateway over the given adapters. A nil adapter leaves
// that modality unsupported.
func NewGateway(text, image *Adapter) *Gateway {
	g := &Gateway{adapters: make(map[models.Modality]*Adapter, 2)}
	if text != nil {
		g.adapters[models.ModalityText] = text
	}
	if image != nil {
		g.adapters[models.ModalityImage] = image
	}
	return g
}

// Supports reports whether an adapter is registered for modality.
func (g *Gateway) Supports(modality models.Modality) bool {
	_, ok := g.adapters[modality]
	return ok
}

// Adapter returns the adapter for modality, or nil.
func (g *Gateway) Adapter(modality models.Modality) *Adapter {
	return g.adapters[modality]
}

// Generate embeds payload with the adapter for modality.
func (g *Gateway) Generate(ctx context.Context, modality models.Modality, payload []byte) (*models.EmbeddingVector, error) {
	a, ok := g.adapters[modality]
	if !ok {
		return nil, &models.Error{
			Kind: models.KindInvalidInput,
			Op:   "generate " + string(modality),
			Err:  ErrUnsupportedModality,
		}
	}
	return a.Generate(ctx, modality, payload)
}

// Close closes every distinct backend once.
func (g *Gateway) Close() error {
	seen := make(map[Backend]bool)
	var errs []error
	for _, a := range g.adapters {
		if seen[a.backend] {
			continue
		}
		seen[a.backend] = true
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
