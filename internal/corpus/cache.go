package corpus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/mitsuke/internal/models"
)

// Cache loads the corpus once and serves it for the process lifetime.
// Concurrent first loads share a single Load call; a failed load is not
// cached, so the next Get tries again.
type Cache struct {
	loader  Loader
	logger  *zap.Logger
	group   singleflight.Group
	current atomic.Pointer[Corpus]
}

// NewCache returns a cache over loader.
func NewCache(loader Loader, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{loader: loader, logger: logger}
}

// Get returns the cached corpus, loading it on first use. Load errors are
// reported with kind corpus_unavailable.
func (c *Cache) Get(ctx context.Context) (*Corpus, error) {
	if cur := c.current.Load(); cur != nil {
		return cur, nil
	}
	ch := c.group.DoChan("corpus", func() (any, error) {
		if cur := c.current.Load(); cur != nil {
			return cur, nil
		}
		start := time.Now()
		// Other callers may be waiting on this load; one caller leaving must not abort it.
		entries, err := c.loader.Load(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Error("corpus load failed", zap.String("source", c.loader.Source()), zap.Error(err))
			return nil, err
		}
		corp := New(c.loader.Source(), entries)
		c.current.Store(corp)
		c.logger.Info("corpus loaded",
			zap.String("source", corp.Source()),
			zap.Int("entries", corp.Len()),
			zap.Any("dimensions", corp.Dimensions()),
			zap.Duration("elapsed", time.Since(start)))
		return corp, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, &models.Error{
				Kind: models.KindCorpusUnavailable,
				Op:   "load corpus",
				Err:  fmt.Errorf("%w: %w", models.ErrCorpusUnavailable, res.Err),
			}
		}
		return res.Val.(*Corpus), nil
	}
}

// Loaded returns the corpus if it has been loaded, or nil.
func (c *Cache) Loaded() *Corpus { return c.current.Load() }

// Source describes the underlying loader.
func (c *Cache) Source() string { return c.loader.Source() }
