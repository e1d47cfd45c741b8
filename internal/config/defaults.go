package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 16 << 20
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Corpus.Source == "" {
		cfg.Corpus.Source = CorpusSourceJSON
	}
	if cfg.Corpus.Path == "" {
		cfg.Corpus.Path = "/usr/local/var/mitsuke/data/embeddings.json"
	}
	if cfg.Corpus.DatabasePath == "" {
		cfg.Corpus.DatabasePath = "/usr/local/var/mitsuke/data/corpus.db"
	}
	if cfg.Corpus.Table == "" {
		cfg.Corpus.Table = "images"
	}
	if cfg.Corpus.IDColumn == "" {
		cfg.Corpus.IDColumn = "id"
	}
	if cfg.Corpus.VectorColumn == "" {
		cfg.Corpus.VectorColumn = "embed_vector"
	}
	applyProviderDefaults(&cfg.Providers.Text)
	applyProviderDefaults(&cfg.Providers.Image)
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = 30 * time.Second
	}
	if cfg.Retry.BaseBackoff == 0 {
		cfg.Retry.BaseBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.Retry.RateLimitBackoff == 0 {
		cfg.Retry.RateLimitBackoff = 5 * time.Second
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	// An explicit 0 is a valid weight (text only), so only nil is defaulted.
	if cfg.Search.DefaultImageWeight == nil {
		w := 0.5
		cfg.Search.DefaultImageWeight = &w
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Backend == "" {
		p.Backend = "mock"
	}
	if p.Dimensions == 0 {
		p.Dimensions = 256
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 256
	}
}
