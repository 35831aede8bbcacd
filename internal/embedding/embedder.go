// Package embedding provides text embedding providers for the semantic
// cache: an ONNX-backed embedder (requires CGO) and a deterministic hash
// embedder usable offline and in tests.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable means the provider failed to initialize or to produce a
// vector. Providers fail closed with this error rather than returning a
// partial vector; the cache degrades to store-only mode on it.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder produces fixed-dimension vector embeddings for text. Identical
// input must yield numerically identical output across calls; dedup and
// retrieval correctness depend on that stability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
