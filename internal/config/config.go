// Package config provides configuration loading and structs for the mitsuke server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Providers ProvidersConfig `yaml:"providers"`
	Retry     RetryConfig     `yaml:"retry"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Corpus source types.
const (
	CorpusSourceJSON     = "json"
	CorpusSourceSQLite   = "sqlite"
	CorpusSourcePostgres = "postgres"
)

// CorpusConfig selects where precomputed reference vectors come from.
type CorpusConfig struct {
	Source       string `yaml:"source"`
	Path         string `yaml:"path"`
	DatabasePath string `yaml:"database_path"`
	PostgresURL  string `yaml:"postgres_url"`
	Table        string `yaml:"table"`
	IDColumn     string `yaml:"id_column"`
	VectorColumn string `yaml:"vector_column"`
	// Eager loads the corpus at server start instead of on the first search.
	Eager bool `yaml:"eager"`
}

// ProvidersConfig holds one embedding provider per query modality. Both may
// point at the same backend.
type ProvidersConfig struct {
	Text  ProviderConfig `yaml:"text"`
	Image ProviderConfig `yaml:"image"`
}

// ProviderConfig configures a single embedding backend.
type ProviderConfig struct {
	Backend      string `yaml:"backend"`
	Model        string `yaml:"model"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Dimensions   int    `yaml:"dimensions"`
	ModelPath    string `yaml:"model_path"`
	MaxTokens    int    `yaml:"max_tokens"`
	MaxImageSide int    `yaml:"max_image_side"`
}

// APIKey returns the secret named by APIKeyEnv, or "".
func (p *ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// RetryConfig bounds calls to embedding providers.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// SearchConfig holds ranking defaults.
type SearchConfig struct {
	DefaultTopK        int      `yaml:"default_top_k"`
	MaxTopK            int      `yaml:"max_top_k"`
	DefaultImageWeight *float64 `yaml:"default_image_weight"`
	Workers            int      `yaml:"workers"`
	IncludeSubScores   bool     `yaml:"include_sub_scores"`
}

// ImageWeightOrDefault returns the configured default image weight; 0.5 when unset.
func (s *SearchConfig) ImageWeightOrDefault() float64 {
	if s.DefaultImageWeight != nil {
		return *s.DefaultImageWeight
	}
	return 0.5
}

// Load reads and parses the config file at path, loads a .env file next to it
// when present, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}
	cfg.Corpus.Path = expandPath(cfg.Corpus.Path, configDir)
	cfg.Corpus.DatabasePath = expandPath(cfg.Corpus.DatabasePath, configDir)
	cfg.Providers.Text.ModelPath = expandPath(cfg.Providers.Text.ModelPath, configDir)
	cfg.Providers.Image.ModelPath = expandPath(cfg.Providers.Image.ModelPath, configDir)

	return &cfg, nil
}

// Validate rejects settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Corpus.Source {
	case CorpusSourceJSON, CorpusSourceSQLite, CorpusSourcePostgres:
	default:
		return fmt.Errorf("invalid corpus source %q (want json, sqlite or postgres)", c.Corpus.Source)
	}
	if c.Corpus.Source == CorpusSourcePostgres && c.Corpus.PostgresURL == "" {
		return fmt.Errorf("corpus.postgres_url is required for the postgres source")
	}
	if w := c.Search.ImageWeightOrDefault(); !(w >= 0 && w <= 1) {
		return fmt.Errorf("search.default_image_weight must be within [0,1], got %v", w)
	}
	return nil
}

// loadDotEnv loads dir/.env without overriding variables already set.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
