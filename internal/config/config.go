// Package config provides configuration loading and structs for kioku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record file and the vector index file.
type StorageConfig struct {
	RecordsPath     string `yaml:"records_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	// WatchRecords enables the server-mode fsnotify watch on the records
	// file so that out-of-band replacement triggers a reload.
	WatchRecords bool `yaml:"watch_records"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider selects the embedder: "onnx", "hash", or "none" for the
	// store-only degraded mode. Empty means hash.
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// CacheConfig holds similarity thresholds and rebuild settings.
type CacheConfig struct {
	// DedupThreshold is the minimum cosine similarity at which a write is
	// suppressed as a near-duplicate. Stricter than RetrievalThreshold: a
	// false retrieval is recoverable, a false dedup silently drops data.
	DedupThreshold float64 `yaml:"dedup_threshold"`
	// RetrievalThreshold is the minimum cosine similarity at which a stored
	// answer is returned for a query.
	RetrievalThreshold float64 `yaml:"retrieval_threshold"`
	// RebuildDivergence is the tolerated relative gap between index size and
	// record count before the index is rebuilt from the record store.
	RebuildDivergence float64 `yaml:"rebuild_divergence"`
}

// HistoryConfig holds the session journal settings.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
}

// Load reads and parses the config file at path, applies defaults, and
// expands paths. Returns an error if the file cannot be read or parsed.
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

	configDir := filepath.Dir(path)
	cfg.Storage.RecordsPath = expandPath(cfg.Storage.RecordsPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.History.DatabasePath = expandPath(cfg.History.DatabasePath, configDir)
	cfg.History.IndexPath = expandPath(cfg.History.IndexPath, configDir)

	return &cfg, nil
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

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
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
