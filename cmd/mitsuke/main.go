// Package main is the mitsuke CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/cli"
	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/corpus"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/ranking"
	"github.com/hyperjump/mitsuke/internal/search"
	"github.com/hyperjump/mitsuke/internal/server"
	"github.com/hyperjump/mitsuke/internal/storage"
	"github.com/hyperjump/mitsuke/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mitsuke/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "mitsuke server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "embed":
		runEmbed()
	case "status":
		runStatus()
	case "import":
		runImport()
	case "version", "--version", "-v":
		fmt.Printf("mitsuke version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// mustLoad loads config and builds a logger, exiting on failure.
func mustLoad(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-attempt provider timings, skipped corpus entries)")
	eager := fs.Bool("eager", false, "load the corpus before accepting requests")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := mustLoad(*configPath, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
		zap.String("corpus_source", cfg.Corpus.Source))

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if *eager || cfg.Corpus.Eager {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := components.Engine.Warm(ctx); err != nil {
			// Searches retry the load, so a missing corpus is not fatal at start-up.
			logger.Warn("corpus preload failed", zap.Error(err))
		}
		cancel()
	}

	srv := server.NewServer(components.Engine, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: mitsuke search [flags] [text...]\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces. Give text, --image, or both.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The image weight blends the two modalities: 0 ranks by text only, 1 by image
only. Out-of-range weights are clamped and reported as a warning.

Examples:
  mitsuke search red bicycle
  mitsuke search --image query.jpg
  mitsuke search --image query.jpg --image-weight 0.7 --sub-scores red bicycle
  mitsuke search --output json --top-k 20 "red bicycle"
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "mitsuke search red bicycle --top-k 5"
// would otherwise leave --top-k unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseImageWeight returns nil for an empty flag so the configured default applies.
func parseImageWeight(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	w, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --image-weight %q: %w", s, err)
	}
	return &w, nil
}

// newSearchQuery builds a query from CLI input, reading the image file if given.
func newSearchQuery(text, imagePath, imageWeight string, topK int, subScores bool) (*models.SearchQuery, error) {
	weight, err := parseImageWeight(imageWeight)
	if err != nil {
		return nil, err
	}
	query := &models.SearchQuery{
		Text:             text,
		ImageWeight:      weight,
		TopK:             topK,
		IncludeSubScores: subScores,
	}
	if imagePath != "" {
		img, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		query.Image = img
		query.ImageRef = filepath.Base(imagePath)
	}
	if !query.HasText() && !query.HasImage() {
		return nil, models.NewError(models.KindMissingQuery, "search", models.ErrMissingQuery)
	}
	return query, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = search directly without a running server)")
	imagePath := fs.String("image", "", "image file to search with")
	imageWeight := fs.String("image-weight", "", "weight of the image in [0,1] (default from config)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	subScores := fs.Bool("sub-scores", false, "include per-modality similarities")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	searchQuery, err := newSearchQuery(buildSearchQuery(fs.Args()), *imagePath, *imageWeight, *topK, *subScores)
	if err != nil {
		if models.KindOf(err) == models.KindMissingQuery {
			printSearchUsage(fs)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, searchQuery)
	} else {
		cfg, _, logger := mustLoad(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(context.Background(), cfg, logger)
		if initErr != nil {
			logger.Fatal("Failed to initialize", zap.Error(initErr))
		}
		defer components.Close()
		response, err = components.Engine.Search(context.Background(), searchQuery)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchRequest mirrors the server's JSON search body.
type searchRequest struct {
	Text             string   `json:"text,omitempty"`
	ImageBase64      string   `json:"image_base64,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	ImageWeight      *float64 `json:"image_weight,omitempty"`
	IncludeSubScores bool     `json:"include_sub_scores,omitempty"`
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	req := searchRequest{
		Text:             query.Text,
		TopK:             query.TopK,
		ImageWeight:      query.ImageWeight,
		IncludeSubScores: query.IncludeSubScores,
	}
	if query.HasImage() {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(query.Image)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// decodeErrorResponse turns a structured error body back into a *models.Error.
func decodeErrorResponse(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var out struct {
		Error struct {
			Kind     models.Kind `json:"kind"`
			Message  string      `json:"message"`
			Attempts int         `json:"attempts"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &out); err != nil || out.Error.Kind == "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return &models.Error{
		Kind:     out.Error.Kind,
		Op:       fmt.Sprintf("server returned %d", resp.StatusCode),
		Attempts: out.Error.Attempts,
		Err:      errors.New(out.Error.Message),
	}
}

func runEmbed() {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	modalityFlag := fs.String("modality", "text", "input modality: text or image")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	modality, err := models.ParseModality(*modalityFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	input := buildSearchQuery(fs.Args())
	if input == "" {
		fmt.Fprintln(os.Stderr, "Usage: mitsuke embed --modality text|image <text-or-image-path>")
		os.Exit(1)
	}
	payload := []byte(input)
	if modality == models.ModalityImage {
		if payload, err = os.ReadFile(input); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, _, logger := mustLoad(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	vec, err := components.Engine.Embed(context.Background(), modality, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteEmbedding(os.Stdout, vec, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of the GET /api/v1/status response.
type statusResponse struct {
	Corpus         *search.Status         `json:"corpus"`
	Config         map[string]interface{} `json:"config,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = inspect local files directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	if *serverURL != "" {
		var err error
		if status, err = statusViaHTTP(*serverURL); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		status = localStatus(*configPath)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return
	}
	writeStatusText(os.Stdout, status)
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &status, nil
}

// localStatus describes the configured corpus without a running server.
func localStatus(configPath string) *statusResponse {
	cfg, _, logger := mustLoad(configPath, false)
	defer logger.Sync()

	status := &statusResponse{
		Corpus: &search.Status{},
		Config: map[string]interface{}{
			"corpus_source": cfg.Corpus.Source,
			"text_backend":  cfg.Providers.Text.Backend,
			"image_backend": cfg.Providers.Image.Backend,
		},
	}
	var paths []string
	switch cfg.Corpus.Source {
	case config.CorpusSourceJSON:
		status.Corpus.CorpusSource = "json:" + cfg.Corpus.Path
		paths = []string{cfg.Corpus.Path}
	case config.CorpusSourceSQLite:
		status.Corpus.CorpusSource = "sqlite:" + cfg.Corpus.DatabasePath
		paths = []string{cfg.Corpus.DatabasePath, cfg.Corpus.DatabasePath + "-wal"}
		if _, err := os.Stat(cfg.Corpus.DatabasePath); err == nil {
			if store, err := storage.NewSQLiteStore(cfg.Corpus.DatabasePath); err == nil {
				if n, err := store.Count(context.Background()); err == nil {
					status.Corpus.Entries = int(n)
				}
				_ = store.Close()
			}
		}
	case config.CorpusSourcePostgres:
		status.Corpus.CorpusSource = "postgres:" + cfg.Corpus.Table
	}
	if used, err := storage.DiskUsageBytes(paths...); err == nil && len(paths) > 0 {
		status.DiskUsageBytes = &used
	}
	return status
}

func writeStatusText(w io.Writer, status *statusResponse) {
	fmt.Fprintln(w, "Corpus")
	if status.Corpus != nil {
		fmt.Fprintf(w, "  source:     %s\n", status.Corpus.CorpusSource)
		fmt.Fprintf(w, "  loaded:     %v\n", status.Corpus.CorpusLoaded)
		fmt.Fprintf(w, "  entries:    %d\n", status.Corpus.Entries)
		for dims, n := range status.Corpus.Dimensions {
			fmt.Fprintf(w, "  dim %-6d  %d entries\n", dims, n)
		}
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "  disk usage: %d bytes\n", *status.DiskUsageBytes)
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w, "Config")
		for _, key := range []string{"corpus_source", "text_backend", "image_backend", "max_attempts", "attempt_timeout", "default_top_k", "default_image_weight"} {
			if v, ok := status.Config[key]; ok {
				fmt.Fprintf(w, "  %s: %v\n", key, v)
			}
		}
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dbPath := fs.String("db", "", "SQLite corpus database (default: corpus.database_path from config)")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: mitsuke import [--db path] <corpus.json>")
		os.Exit(1)
	}
	cfg, _, logger := mustLoad(*configPath, false)
	defer logger.Sync()
	if *dbPath == "" {
		*dbPath = cfg.Corpus.DatabasePath
	}

	imported, rejected, err := importCorpus(context.Background(), fs.Arg(0), *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range rejected {
		logger.Warn("corpus entry skipped", zap.String("id", r.ID), zap.String("reason", r.Reason))
	}
	fmt.Printf("Imported %d entries into %s (%d skipped)\n", imported, *dbPath, len(rejected))
}

// importCorpus parses a JSON corpus and replaces the SQLite store's contents with it.
func importCorpus(ctx context.Context, jsonPath, dbPath string) (int, []corpus.Rejected, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, nil, fmt.Errorf("read corpus: %w", err)
	}
	entries, rejected, err := corpus.ParseJSON(data)
	if err != nil {
		return 0, nil, fmt.Errorf("parse corpus: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return 0, nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return 0, nil, err
	}
	defer store.Close()
	if err := store.Import(ctx, entries); err != nil {
		return 0, nil, err
	}
	return len(entries), rejected, nil
}

// Components holds initialized services.
type Components struct {
	Gateway *embedding.Gateway
	Corpus  *corpus.Cache
	Engine  *search.Engine
	closers []func()
}

func (c *Components) Close() {
	if c.Gateway != nil {
		_ = c.Gateway.Close()
	}
	for _, fn := range c.closers {
		fn()
	}
}

// newLoader returns the corpus loader for the configured source.
func newLoader(ctx context.Context, cfg *config.CorpusConfig, logger *zap.Logger) (corpus.Loader, func(), error) {
	switch cfg.Source {
	case config.CorpusSourceSQLite:
		return storage.NewSQLiteLoader(cfg.DatabasePath), nil, nil
	case config.CorpusSourcePostgres:
		pg, err := corpus.NewPostgresLoader(ctx, cfg.PostgresURL, corpus.PostgresOptions{
			Table:        cfg.Table,
			IDColumn:     cfg.IDColumn,
			VectorColumn: cfg.VectorColumn,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return corpus.NewJSONLoader(cfg.Path, logger), nil, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	gateway, err := embedding.NewGatewayFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding providers: %w", err)
	}
	components := &Components{Gateway: gateway}

	loader, closeLoader, err := newLoader(ctx, &cfg.Corpus, logger)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize corpus loader: %w", err)
	}
	if closeLoader != nil {
		components.closers = append(components.closers, closeLoader)
	}
	components.Corpus = corpus.NewCache(loader, logger)

	ranker := ranking.NewRanker(&ranking.RankingConfig{Workers: cfg.Search.Workers})
	components.Engine = search.NewEngine(gateway, components.Corpus, ranker, &cfg.Search, logger)
	logger.Debug("components initialized",
		zap.String("corpus", loader.Source()),
		zap.Int("default_top_k", cfg.Search.DefaultTopK),
		zap.Float64("default_image_weight", cfg.Search.ImageWeightOrDefault()))
	return components, nil
}

func printUsage() {
	fmt.Println(`mitsuke - Multimodal embedding similarity search

Usage:
  mitsuke server [flags]                       Start the HTTP server
  mitsuke search [flags] [text...]             Search the corpus by text, image, or both
  mitsuke embed [flags] <text-or-image-path>   Generate a single embedding
  mitsuke status [flags]                       Show corpus and provider status
  mitsuke import [flags] <corpus.json>         Load a JSON corpus into the SQLite corpus store
  mitsuke version                              Show version
  mitsuke help                                 Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/mitsuke/config.yaml)
  --debug            Enable debug logging
  --eager            Load the corpus before accepting requests

Search Flags:
  --config string        Config file path (for direct mode)
  --server string        Server URL (default: http://localhost:8080). Use --server "" to search without a server.
  --image string         Image file to search with
  --image-weight float   Weight of the image in [0,1] (default from config)
  --top-k int            Number of results (default from config)
  --sub-scores           Include per-modality similarities
  --output string        Output format: text or json (default: text)

Embed Flags:
  --config string      Config file path
  --modality string    text or image (default: text)
  --output string      Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to inspect local files.
  --output string    Output format: text or json (default: text)

Import Flags:
  --config string    Config file path
  --db string        SQLite database path (default: corpus.database_path)

Examples:
  mitsuke server --eager
  mitsuke search red bicycle
  mitsuke search --image query.jpg --image-weight 0.7 red bicycle
  mitsuke search --output json --top-k 20 "red bicycle"
  mitsuke embed --modality image photo.png
  mitsuke import embeddings.json
  mitsuke status --output json`)
}
