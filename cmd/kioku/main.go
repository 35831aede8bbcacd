// Package main is the kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/history"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

const defaultServerURL = "http://localhost:8087"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kioku server" from the project dir uses the project's config (including debug).
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
	case "add":
		runAdd()
	case "find":
		runFind()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "history":
		runHistory()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (cache decisions, index rebuilds, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Cache,
		components.History,
		components.HistoryIndex,
		&cfg.Server,
		logger,
	)

	var watchSvc *watcher.FileWatcher
	if cfg.Storage.WatchRecords {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewFileWatcher(
			cfg.Storage.RecordsPath,
			func() {
				if err := srv.ReloadCache(context.Background()); err != nil {
					logger.Warn("cache reload after records change failed", zap.Error(err))
				}
			},
			watchOpts...,
		)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start records watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	go func() {
		if err := srv.Start(); err != nil {
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

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument, so
// "kioku find \"question\" -output json" would otherwise leave -output unparsed.
func argsReorder(args []string) []string {
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

func runAdd() {
	addArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage when server is not running)")
	answer := fs.String("answer", "", "answer to cache for the question")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(addArgs)

	question := buildQuestion(fs.Args())
	if question == "" || *answer == "" {
		fmt.Println("Usage: kioku add --answer <answer> [flags] <question>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if *serverURL != "" {
		// Use HTTP API when the server is running (avoids fighting it over
		// the records and index files).
		res, err := addViaHTTP(*serverURL, question, *answer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteAddResult(os.Stdout, res, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	components := mustInitialize(*configPath)
	defer components.Close()

	res, err := components.Cache.Add(context.Background(), question, *answer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAddResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runFind() {
	findArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage when server is not running)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(findArgs)

	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: kioku find [flags] <question>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var res *models.FindResult
	if *serverURL != "" {
		res, err = findViaHTTP(*serverURL, question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Find failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components := mustInitialize(*configPath)
		defer components.Close()
		res, err = components.Cache.Find(context.Background(), question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Find failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteFindResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		stats, err := rebuildViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt: %d vectors from %d records\n", stats.Vectors, stats.Records)
		return
	}

	components := mustInitialize(*configPath)
	defer components.Close()

	if err := components.Cache.Rebuild(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	stats := components.Cache.Stats()
	fmt.Printf("Rebuilt: %d vectors from %d records\n", stats.Vectors, stats.Records)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status map[string]interface{}
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		components := mustInitialize(*configPath)
		defer components.Close()
		stats := components.Cache.Stats()
		status = map[string]interface{}{
			"records":    stats.Records,
			"vectors":    stats.Vectors,
			"dimensions": stats.Dimensions,
			"degraded":   stats.Degraded,
		}
		if components.History != nil {
			if n, err := components.History.Count(context.Background()); err == nil {
				status["history_entries"] = n
			}
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("records:          %v   # cached question/answer pairs\n", status["records"])
		fmt.Printf("vectors:          %v   # entries in the semantic index\n", status["vectors"])
		fmt.Printf("dimensions:       %v\n", status["dimensions"])
		fmt.Printf("degraded:         %v   # true when the embedder is unavailable\n", status["degraded"])
		if n, ok := status["history_entries"]; ok {
			fmt.Printf("history_entries:  %v\n", n)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runHistory() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kioku history <recent|search|session> [flags] [query]")
		fmt.Println("  kioku history recent [--limit N]        Show recent interactions")
		fmt.Println("  kioku history search [--limit N] <q>    Keyword search over past interactions")
		fmt.Println("  kioku history session <session-id>      Show one session's interactions")
		os.Exit(1)
	}
	sub := os.Args[2]
	histArgs := argsReorder(os.Args[3:])
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage)")
	limit := fs.Int("limit", 10, "number of entries")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(histArgs)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var entries []*models.HistoryEntry
	switch sub {
	case "recent":
		if *serverURL != "" {
			entries, err = historyViaHTTP(*serverURL, "/api/v1/history/recent", url.Values{
				"limit": {fmt.Sprint(*limit)},
			})
		} else {
			components := mustInitialize(*configPath)
			defer components.Close()
			entries, err = historyRecentDirect(components, *limit)
		}
	case "search":
		query := buildQuestion(fs.Args())
		if query == "" {
			fmt.Println("Usage: kioku history search [flags] <query>")
			os.Exit(1)
		}
		if *serverURL != "" {
			entries, err = historyViaHTTP(*serverURL, "/api/v1/history/search", url.Values{
				"q":     {query},
				"limit": {fmt.Sprint(*limit)},
			})
		} else {
			components := mustInitialize(*configPath)
			defer components.Close()
			entries, err = historySearchDirect(components, query, *limit)
		}
	case "session":
		sessionID := buildQuestion(fs.Args())
		if sessionID == "" {
			fmt.Println("Usage: kioku history session [flags] <session-id>")
			os.Exit(1)
		}
		components := mustInitialize(*configPath)
		defer components.Close()
		if components.History == nil {
			err = fmt.Errorf("history journal disabled in config")
		} else {
			entries, err = components.History.BySession(context.Background(), sessionID, *limit)
		}
	default:
		fmt.Printf("Unknown history subcommand: %s\n", sub)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteHistoryEntries(os.Stdout, entries, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func historyRecentDirect(components *Components, limit int) ([]*models.HistoryEntry, error) {
	if components.History == nil {
		return nil, fmt.Errorf("history journal disabled in config")
	}
	return components.History.Recent(context.Background(), limit)
}

func historySearchDirect(components *Components, query string, limit int) ([]*models.HistoryEntry, error) {
	if components.History == nil || components.HistoryIndex == nil {
		return nil, fmt.Errorf("history journal disabled in config")
	}
	ctx := context.Background()
	hits, err := components.HistoryIndex.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.HistoryEntry, 0, len(hits))
	for _, hit := range hits {
		entry, getErr := components.History.Get(ctx, hit.ID)
		if getErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func addViaHTTP(serverURL, question, answer string) (*models.AddResult, error) {
	body, err := json.Marshal(server.AddRequest{Question: question, Answer: answer})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var res models.AddResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

func findViaHTTP(serverURL, question string) (*models.FindResult, error) {
	resp, err := http.Get(serverURL + "/api/v1/answers?q=" + url.QueryEscape(question))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var res models.FindResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

func rebuildViaHTTP(serverURL string) (*models.CacheStats, error) {
	resp, err := http.Post(serverURL+"/api/v1/rebuild", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var stats models.CacheStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &stats, nil
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return status, nil
}

func historyViaHTTP(serverURL, path string, params url.Values) ([]*models.HistoryEntry, error) {
	resp, err := http.Get(serverURL + path + "?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Entries []*models.HistoryEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Entries, nil
}

// Components holds initialized services.
type Components struct {
	Embedder     embedding.Embedder
	Cache        *cache.SemanticCache
	History      *history.Store
	HistoryIndex *keyword.HistoryIndex
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
	if c.HistoryIndex != nil {
		_ = c.HistoryIndex.Close()
	}
}

// mustInitialize loads config, builds a logger from it and initializes all
// components, exiting on any failure. Used by the direct-storage CLI paths.
func mustInitialize(configPath string) *Components {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "onnx":
		onnxEmbedder, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
		if err != nil {
			logger.Warn("onnx embedder unavailable, falling back to hash embedder",
				zap.String("model_path", cfg.Embedding.ModelPath),
				zap.Error(err))
			embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
		} else {
			embedder = onnxEmbedder
		}
	case "none":
		// Store-only degraded mode: lookups always miss, adds still persist.
		embedder = nil
	default:
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}

	c := cache.New(embedder, cfg.Storage, cfg.Cache, logger)
	if err := c.Init(context.Background()); err != nil {
		if embedder != nil {
			_ = embedder.Close()
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	components := &Components{
		Embedder: embedder,
		Cache:    c,
	}

	if cfg.History.Enabled {
		hist, err := history.NewStore(cfg.History.DatabasePath)
		if err != nil {
			components.Close()
			return nil, fmt.Errorf("failed to initialize history store: %w", err)
		}
		histIdx, err := keyword.NewHistoryIndex(cfg.History.IndexPath)
		if err != nil {
			_ = hist.Close()
			components.Close()
			return nil, fmt.Errorf("failed to initialize history index: %w", err)
		}
		components.History = hist
		components.HistoryIndex = histIdx
	}

	return components, nil
}

func printUsage() {
	fmt.Println(`kioku - Persistent semantic cache for question/answer pairs

Usage:
  kioku server [flags]                     Start the HTTP server
  kioku add --answer <a> [flags] <question>  Cache an answer for a question
  kioku find [flags] <question>            Look up a cached answer
  kioku rebuild [flags]                    Rebuild the vector index from stored records
  kioku status [flags]                     Show cache status
  kioku history <recent|search|session>    Inspect the interaction journal
  kioku version                            Show version
  kioku help                               Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging (cache decisions, index rebuilds, etc.)

Add / Find Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8087). Use empty (--server "") for direct storage when the server is not running.
  --answer string    Answer text to cache (add only)
  --output string    Output format: text or json (default: text)

Status / Rebuild Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8087). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (status only)

History Flags:
  --server string    Server URL; session subcommand always uses direct storage
  --limit int        Number of entries (default: 10)
  --output string    Output format: text or json

Examples:
  kioku server
  kioku add --answer "Paris" What is the capital of France?
  kioku find What is the capital of France?
  kioku find --output json "capital of france"
  kioku rebuild
  kioku status --output json
  kioku history recent --limit 5
  kioku history search rockets`)
}
