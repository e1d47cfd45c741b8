package ranking

import "runtime"

// RankingConfig controls how corpus scoring is split across goroutines.
type RankingConfig struct {
	// Workers is the maximum number of scoring goroutines. Default: GOMAXPROCS.
	Workers int `yaml:"workers"`
	// MinShardSize is the smallest number of entries given to one worker, so
	// small corpora are scored on a single goroutine. Default: 512.
	MinShardSize int `yaml:"min_shard_size"`
}

// DefaultRankingConfig returns a config with all defaults applied.
func DefaultRankingConfig() *RankingConfig {
	c := &RankingConfig{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *RankingConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.MinShardSize <= 0 {
		c.MinShardSize = 512
	}
}

// shards returns the number of workers to use for n entries.
func (c *RankingConfig) shards(n int) int {
	s := (n + c.MinShardSize - 1) / c.MinShardSize
	if s > c.Workers {
		s = c.Workers
	}
	if s < 1 {
		s = 1
	}
	return s
}
