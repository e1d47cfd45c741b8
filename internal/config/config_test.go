package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
corpus:
  source: sqlite
  database_path: "corpus.db"
retry:
  max_attempts: 5
  attempt_timeout: 2s
  base_backoff: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Corpus.Source != CorpusSourceSQLite {
		t.Errorf("corpus source = %s", cfg.Corpus.Source)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.AttemptTimeout != 2*time.Second {
		t.Errorf("attempt_timeout = %s", cfg.Retry.AttemptTimeout)
	}
	if cfg.Retry.BaseBackoff != 250*time.Millisecond {
		t.Errorf("base_backoff = %s", cfg.Retry.BaseBackoff)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
corpus:
  path: "./data/embeddings.json"
  database_path: "./data/corpus.db"
providers:
  text:
    backend: onnx
    model_path: "./models/minilm.onnx"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "embeddings.json"); cfg.Corpus.Path != want {
		t.Errorf("corpus path = %s, want %s", cfg.Corpus.Path, want)
	}
	if want := filepath.Join(dir, "data", "corpus.db"); cfg.Corpus.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Corpus.DatabasePath, want)
	}
	if want := filepath.Join(dir, "models", "minilm.onnx"); cfg.Providers.Text.ModelPath != want {
		t.Errorf("model_path = %s, want %s", cfg.Providers.Text.ModelPath, want)
	}
	if cfg.Providers.Image.ModelPath != "" {
		t.Errorf("unset model_path should stay empty, got %s", cfg.Providers.Image.ModelPath)
	}
}

func TestLoad_dotEnvSuppliesAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  text:
    backend: azure
    api_key_env: MITSUKE_TEST_AZURE_KEY
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MITSUKE_TEST_AZURE_KEY=secret-from-env\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MITSUKE_TEST_AZURE_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Providers.Text.APIKey(); got != "secret-from-env" {
		t.Errorf("APIKey() = %q", got)
	}
	if got := cfg.Providers.Image.APIKey(); got != "" {
		t.Errorf("image APIKey() = %q, want empty", got)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown corpus source", "corpus:\n  source: redis\n"},
		{"postgres without url", "corpus:\n  source: postgres\n"},
		{"weight out of range", "search:\n  default_image_weight: 1.5\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadBytes != 16<<20 {
		t.Errorf("default max upload: got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Corpus.Source != CorpusSourceJSON {
		t.Errorf("default corpus source: got %s", cfg.Corpus.Source)
	}
	if cfg.Providers.Text.Backend != "mock" || cfg.Providers.Image.Backend != "mock" {
		t.Errorf("default backends: %s/%s", cfg.Providers.Text.Backend, cfg.Providers.Image.Backend)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("default max attempts: got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Search.DefaultTopK != 10 || cfg.Search.MaxTopK != 100 {
		t.Errorf("default top k: got %d/%d", cfg.Search.DefaultTopK, cfg.Search.MaxTopK)
	}
	if cfg.Search.ImageWeightOrDefault() != 0.5 {
		t.Errorf("default image weight: got %v", cfg.Search.ImageWeightOrDefault())
	}
}

func TestSearchConfig_ImageWeightOrDefault(t *testing.T) {
	t.Run("nil_returns_half", func(t *testing.T) {
		s := &SearchConfig{}
		if got := s.ImageWeightOrDefault(); got != 0.5 {
			t.Errorf("ImageWeightOrDefault() = %v, want 0.5", got)
		}
	})
	t.Run("explicit_zero_kept", func(t *testing.T) {
		zero := 0.0
		cfg := &Config{Search: SearchConfig{DefaultImageWeight: &zero}}
		ApplyDefaults(cfg)
		if got := cfg.Search.ImageWeightOrDefault(); got != 0 {
			t.Errorf("ImageWeightOrDefault() = %v, want 0", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Corpus: CorpusConfig{Source: CorpusSourceJSON, Path: "/tmp/embeddings.json"},
		Retry:  RetryConfig{AttemptTimeout: 3 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Retry.AttemptTimeout != 3*time.Second {
		t.Errorf("loaded attempt timeout: got %s", loaded.Retry.AttemptTimeout)
	}
}

func TestLoad_searchAndImageSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  image:
    backend: titan
    region: us-east-1
    max_image_side: 512
search:
  default_image_weight: 0.25
  workers: 3
  include_sub_scores: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Image.MaxImageSide != 512 {
		t.Errorf("max_image_side = %d, want 512", cfg.Providers.Image.MaxImageSide)
	}
	if cfg.Providers.Text.MaxImageSide != 0 {
		t.Errorf("text max_image_side = %d, want 0", cfg.Providers.Text.MaxImageSide)
	}
	if got := cfg.Search.ImageWeightOrDefault(); got != 0.25 {
		t.Errorf("default_image_weight = %v, want 0.25", got)
	}
	if cfg.Search.Workers != 3 || !cfg.Search.IncludeSubScores {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
}
