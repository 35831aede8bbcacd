// Package cache implements the persistent, semantically-indexed conversation
// cache. It coordinates the record store and the vector index, applies the
// dedup and retrieval thresholds over nearest-neighbour search, and restores
// consistency between the two persisted files lazily at load time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// SemanticCache owns the embedder, the vector index, and the record store.
// Construct once with New, then call Init before use (Add and Find also call
// it lazily). Not safe for concurrent use; callers needing concurrency must
// serialize access externally.
type SemanticCache struct {
	embedder embedding.Embedder // nil means permanently degraded
	index    *vector.Index
	records  *store.RecordStore
	storage  config.StorageConfig
	cfg      config.CacheConfig
	logger   *zap.Logger
	ready    bool
}

// New creates a cache. embedder may be nil when the embedding model failed to
// initialize; the cache then runs in store-only mode for the process lifetime
// (writes succeed, semantic retrieval and dedup are skipped).
func New(embedder embedding.Embedder, storageCfg config.StorageConfig, cacheCfg config.CacheConfig, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		embedder: embedder,
		records:  store.NewRecordStore(storageCfg.RecordsPath, logger),
		storage:  storageCfg,
		cfg:      cacheCfg,
		logger:   logger,
	}
}

// Init loads the record store and loads or rebuilds the vector index.
// Idempotent: repeated calls are no-ops. Never returns a fatal error for a
// missing or corrupt file; the worst case is an empty cache.
func (c *SemanticCache) Init(ctx context.Context) error {
	if c.ready {
		return nil
	}
	if err := c.records.Load(); err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	if c.embedder == nil {
		c.logger.Warn("embedder unavailable, cache degraded to store-only mode")
		c.ready = true
		return nil
	}

	idx, err := vector.NewIndex(c.embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	c.index = idx
	c.loadOrRebuild(ctx)
	c.ready = true
	return nil
}

// Reload re-reads both persisted files, re-running the divergence check.
// Used when the records file was replaced out-of-band.
func (c *SemanticCache) Reload(ctx context.Context) error {
	c.ready = false
	return c.Init(ctx)
}

// loadOrRebuild loads the persisted index when it is usable and rebuilds it
// from the record store otherwise. A crash between the store write and the
// index write leaves the index one entry behind; that inconsistency heals
// here rather than through transactional writes.
func (c *SemanticCache) loadOrRebuild(ctx context.Context) {
	err := c.index.Load(c.storage.VectorIndexPath)
	switch {
	case err == nil:
		if c.diverged() {
			c.logger.Info("vector index diverged from record store, rebuilding",
				zap.Int("index_size", c.index.Size()),
				zap.Int("records", c.records.Size()))
			c.rebuild(ctx)
		}
	case errors.Is(err, vector.ErrMissing):
		if c.records.Size() > 0 {
			c.logger.Info("vector index file missing, rebuilding from records",
				zap.Int("records", c.records.Size()))
			c.rebuild(ctx)
		}
	default:
		c.logger.Warn("failed to load vector index, rebuilding", zap.Error(err))
		c.rebuild(ctx)
	}
}

// diverged reports whether the index size drifted further from the record
// count than the configured tolerance allows.
func (c *SemanticCache) diverged() bool {
	n := c.records.Size()
	gap := c.index.Size() - n
	if gap < 0 {
		gap = -gap
	}
	return float64(gap) > c.cfg.RebuildDivergence*float64(n)
}

// rebuild discards the index and re-embeds every stored question. Records
// whose text cannot be embedded are skipped, not fatal.
func (c *SemanticCache) rebuild(ctx context.Context) {
	idx, err := vector.NewIndex(c.embedder.Dimensions())
	if err != nil {
		c.logger.Error("rebuild: create index failed", zap.Error(err))
		return
	}
	skipped := 0
	for _, rec := range c.records.All() {
		if rec.NormalizedQuestion == "" {
			skipped++
			continue
		}
		vec, err := c.embedder.Embed(ctx, rec.NormalizedQuestion)
		if err != nil {
			c.logger.Warn("rebuild: embedding failed, record skipped",
				zap.Int64("id", rec.ID), zap.Error(err))
			skipped++
			continue
		}
		utils.NormalizeL2(vec)
		if err := idx.Add(rec.ID, vec); err != nil {
			c.logger.Warn("rebuild: index add failed", zap.Int64("id", rec.ID), zap.Error(err))
			skipped++
		}
	}
	c.index = idx
	c.logger.Info("vector index rebuilt",
		zap.Int("vectors", idx.Size()), zap.Int("skipped", skipped))
	if err := c.index.Save(c.storage.VectorIndexPath); err != nil {
		c.logger.Warn("rebuild: failed to persist index", zap.Error(err))
	}
}

// Rebuild forces a full re-embed of the record store into a fresh index.
func (c *SemanticCache) Rebuild(ctx context.Context) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	if c.embedder == nil {
		return embedding.ErrUnavailable
	}
	c.rebuild(ctx)
	return nil
}

// Add stores a question/answer pair unless a semantically near-duplicate
// question is already present. The record store is persisted before the
// vector index; a failure between the two is tolerated and healed at the
// next load. No error originating here is fatal to the caller.
func (c *SemanticCache) Add(ctx context.Context, question, answer string) (*models.AddResult, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	if question == "" || answer == "" {
		c.logger.Warn("add rejected: empty question or answer")
		return &models.AddResult{Status: models.AddSkipped}, nil
	}
	normalized := NormalizeQuestion(question)
	if normalized == "" {
		c.logger.Warn("add rejected: question empty after normalization",
			zap.String("original", utils.Truncate(question, 80)))
		return &models.AddResult{Status: models.AddSkipped}, nil
	}

	var vec []float32
	if c.embedder != nil {
		v, err := c.embedder.Embed(ctx, normalized)
		if err != nil {
			// Store-only for this record; the index stays one entry short,
			// within the tolerance the rebuild check accepts.
			c.logger.Warn("add: embedding failed, storing without vector entry",
				zap.String("question", utils.Truncate(normalized, 80)), zap.Error(err))
		} else {
			utils.NormalizeL2(v)
			vec = v
		}
	}

	var nearestSim float64
	if vec != nil && c.index.Size() > 0 {
		matches, err := c.index.Search(vec, 1)
		if err != nil {
			c.logger.Warn("add: dedup search failed", zap.Error(err))
		} else if len(matches) > 0 {
			nearestSim = vector.CosineFromSquaredDistance(matches[0].SquaredDistance)
			if nearestSim >= c.cfg.DedupThreshold {
				c.logger.Info("add skipped: near-duplicate of existing question",
					zap.Int64("existing_id", matches[0].ID),
					zap.Float64("similarity", nearestSim),
					zap.Float64("threshold", c.cfg.DedupThreshold),
					zap.String("question", utils.Truncate(normalized, 80)))
				return &models.AddResult{
					Status:     models.AddDuplicate,
					ID:         matches[0].ID,
					Similarity: nearestSim,
				}, nil
			}
		}
	}

	rec := models.ConversationRecord{
		ID:                 c.records.NextID(),
		Timestamp:          time.Now(),
		NormalizedQuestion: normalized,
		Answer:             answer,
	}
	if err := c.records.Append(rec); err != nil {
		// In-memory state holds the record; the next successful persist
		// reconciles the file.
		c.logger.Error("add: failed to persist records", zap.Int64("id", rec.ID), zap.Error(err))
	}

	indexed := false
	if vec != nil {
		if err := c.index.Add(rec.ID, vec); err != nil {
			c.logger.Warn("add: index insert failed", zap.Int64("id", rec.ID), zap.Error(err))
		} else {
			indexed = true
			if err := c.index.Save(c.storage.VectorIndexPath); err != nil {
				c.logger.Error("add: failed to persist index", zap.Error(err))
			}
		}
	}

	c.logger.Info("conversation stored",
		zap.Int64("id", rec.ID),
		zap.Bool("indexed", indexed),
		zap.String("question", utils.Truncate(normalized, 80)))
	return &models.AddResult{
		Status:     models.AddStored,
		ID:         rec.ID,
		Similarity: nearestSim,
		Indexed:    indexed,
	}, nil
}

// Find returns the stored answer for a semantically similar question, or a
// no-match result. Degraded mode, an empty index, a failed embedding, and an
// index id absent from the record store all report no-match, never an error
// that aborts the caller.
func (c *SemanticCache) Find(ctx context.Context, question string) (*models.FindResult, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	normalized := NormalizeQuestion(question)
	if normalized == "" {
		return &models.FindResult{}, nil
	}
	if c.embedder == nil {
		return &models.FindResult{Degraded: true}, nil
	}
	if c.index.Size() == 0 {
		return &models.FindResult{}, nil
	}

	vec, err := c.embedder.Embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("find: embedding failed", zap.Error(err))
		return &models.FindResult{}, nil
	}
	utils.NormalizeL2(vec)

	matches, err := c.index.Search(vec, 1)
	if err != nil {
		c.logger.Warn("find: search failed", zap.Error(err))
		return &models.FindResult{}, nil
	}
	if len(matches) == 0 {
		return &models.FindResult{}, nil
	}

	sim := vector.CosineFromSquaredDistance(matches[0].SquaredDistance)
	if sim < c.cfg.RetrievalThreshold {
		c.logger.Debug("find: nearest match below threshold",
			zap.Int64("id", matches[0].ID),
			zap.Float64("similarity", sim),
			zap.Float64("threshold", c.cfg.RetrievalThreshold))
		return &models.FindResult{Similarity: sim}, nil
	}

	rec, err := c.records.FindByID(matches[0].ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("find: index id absent from record store",
				zap.Int64("id", matches[0].ID),
				zap.Int("index_size", c.index.Size()),
				zap.Int("records", c.records.Size()))
			return &models.FindResult{Similarity: sim}, nil
		}
		return nil, err
	}

	c.logger.Info("find: reusing stored answer",
		zap.Int64("id", rec.ID),
		zap.Float64("similarity", sim),
		zap.String("question", utils.Truncate(rec.NormalizedQuestion, 80)))
	return &models.FindResult{
		Found:      true,
		ID:         rec.ID,
		Question:   rec.NormalizedQuestion,
		Answer:     rec.Answer,
		Similarity: sim,
	}, nil
}

// Stats returns current cache counters for status reporting.
func (c *SemanticCache) Stats() models.CacheStats {
	stats := models.CacheStats{
		Records:  c.records.Size(),
		Degraded: c.embedder == nil,
	}
	if c.index != nil {
		stats.Vectors = c.index.Size()
		stats.Dimensions = c.index.Dimensions()
	}
	return stats
}

// Records exposes the underlying record store, read-only by convention.
func (c *SemanticCache) Records() *store.RecordStore {
	return c.records
}
