package config

// Default similarity thresholds and rebuild tolerance. Configurable, but the
// defaults work well for sentence-level embeddings.
const (
	DefaultDedupThreshold     = 0.95
	DefaultRetrievalThreshold = 0.90
	DefaultRebuildDivergence  = 0.10
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
	if cfg.Storage.RecordsPath == "" {
		cfg.Storage.RecordsPath = "/usr/local/var/kioku/data/conversations.json"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kioku/data/indices/conversations.vec"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kioku/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Cache.DedupThreshold == 0 {
		cfg.Cache.DedupThreshold = DefaultDedupThreshold
	}
	if cfg.Cache.RetrievalThreshold == 0 {
		cfg.Cache.RetrievalThreshold = DefaultRetrievalThreshold
	}
	if cfg.Cache.RebuildDivergence == 0 {
		cfg.Cache.RebuildDivergence = DefaultRebuildDivergence
	}
	if cfg.History.DatabasePath == "" {
		cfg.History.DatabasePath = "/usr/local/var/kioku/data/db/history.db"
	}
	if cfg.History.IndexPath == "" {
		cfg.History.IndexPath = "/usr/local/var/kioku/data/indices/history.bleve"
	}
}
