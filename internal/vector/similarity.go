package vector

import "errors"

// Load error kinds, used by the cache's load-or-rebuild decision.
var (
	// ErrMissing means no index file exists at the given path.
	ErrMissing = errors.New("index file missing")
	// ErrDimensionMismatch means the on-disk index was built for a different
	// vector dimension than the current embedder produces.
	ErrDimensionMismatch = errors.New("index dimension mismatch")
)

// CosineFromSquaredDistance converts the squared L2 distance between two
// unit vectors into their cosine similarity: cos = 1 - d²/2.
func CosineFromSquaredDistance(d2 float64) float64 {
	return 1 - d2/2
}
