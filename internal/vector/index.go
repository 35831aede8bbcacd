// Package vector provides an exact in-memory similarity index over
// fixed-dimension unit vectors, keyed by record id, with file persistence.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Match is a single search hit: the squared L2 distance to the query and the
// id of the matched entry.
type Match struct {
	SquaredDistance float64
	ID              int64
}

// Index is an exact (exhaustive) L2 index. Vectors are expected to be
// L2-normalized by the caller so that squared distance maps to cosine
// similarity. Suitable at small scale; no approximation.
type Index struct {
	dimensions int
	ids        []int64
	present    map[int64]bool
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &Index{
		dimensions: dimensions,
		present:    make(map[int64]bool),
	}, nil
}

// Add inserts a vector under id. An id already present is ignored; ids are
// caller-guaranteed unique.
func (x *Index) Add(id int64, vec []float32) error {
	if len(vec) != x.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), x.dimensions)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.present[id] {
		return nil
	}
	cp := make([]float32, x.dimensions)
	copy(cp, vec)
	x.ids = append(x.ids, id)
	x.vectors = append(x.vectors, cp)
	x.present[id] = true
	return nil
}

// Search returns up to k matches ordered by ascending squared L2 distance.
// An empty index yields an empty result.
func (x *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.ids) == 0 {
		return nil, nil
	}
	matches := make([]Match, len(x.ids))
	for i, vec := range x.vectors {
		var d2 float64
		for j := 0; j < x.dimensions; j++ {
			d := float64(query[j]) - float64(vec[j])
			d2 += d * d
		}
		matches[i] = Match{SquaredDistance: d2, ID: x.ids[i]}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].SquaredDistance < matches[j].SquaredDistance
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Size returns the number of entries.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Dimensions returns the vector dimension the index was created with.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// Save persists the index to path. Directory is created if needed.
// Format (little-endian): dimension (4), count (4), then per entry:
// id (8), vector (dimension*4).
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(x.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range x.ids {
		if err := binary.Write(f, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(x.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path, replacing the in-memory contents. A missing
// file leaves the index unchanged and returns ErrMissing; a dimension that
// differs from the index's returns ErrDimensionMismatch so the caller can
// decide to rebuild.
func (x *Index) Load(path string) error {
	if path == "" {
		return ErrMissing
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrMissing
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != x.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, x.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	present := make(map[int64]bool, n)
	buf := make([]byte, x.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := f.Read(buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
		present[id] = true
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = ids
	x.vectors = vectors
	x.present = present
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
