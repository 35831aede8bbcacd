package vector

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestIndex_AddSearch(t *testing.T) {
	idx, err := NewIndex(3)
	if err != nil {
		t.Fatal(err)
	}

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	for i, v := range vecs {
		if err := idx.Add(int64(i+1), v); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Size() != 3 {
		t.Errorf("Size = %d", idx.Size())
	}

	matches, err := idx.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != 1 {
		t.Errorf("nearest should be id 1, got %d", matches[0].ID)
	}
	if matches[0].SquaredDistance != 0 {
		t.Errorf("exact match distance = %f", matches[0].SquaredDistance)
	}
	if matches[1].SquaredDistance < matches[0].SquaredDistance {
		t.Error("matches not ascending by distance")
	}
}

func TestIndex_SearchEmpty(t *testing.T) {
	idx, _ := NewIndex(2)
	matches, err := idx.Search([]float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("empty index should yield no matches, got %d", len(matches))
	}
}

func TestIndex_DuplicateIDIgnored(t *testing.T) {
	idx, _ := NewIndex(2)
	_ = idx.Add(1, []float32{1, 0})
	_ = idx.Add(1, []float32{0, 1})
	if idx.Size() != 1 {
		t.Errorf("duplicate id should be ignored, size = %d", idx.Size())
	}
	matches, _ := idx.Search([]float32{1, 0}, 1)
	if matches[0].SquaredDistance != 0 {
		t.Error("original vector should survive the duplicate Add")
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewIndex(3)
	if err := idx.Add(1, []float32{1, 0}); err == nil {
		t.Error("expected error for wrong dimension on Add")
	}
	if _, err := idx.Search([]float32{1, 0}, 1); err == nil {
		t.Error("expected error for wrong dimension on Search")
	}
}

func TestIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "conversations.vec")
	idx, _ := NewIndex(2)
	_ = idx.Add(1, []float32{1, 0})
	_ = idx.Add(2, []float32{0, 1})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size = %d", loaded.Size())
	}
	matches, err := loaded.Search([]float32{0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].ID != 2 || matches[0].SquaredDistance != 0 {
		t.Errorf("got %+v", matches[0])
	}
}

func TestIndex_LoadMissing(t *testing.T) {
	idx, _ := NewIndex(2)
	err := idx.Load(filepath.Join(t.TempDir(), "missing.vec"))
	if !errors.Is(err, ErrMissing) {
		t.Errorf("expected ErrMissing, got %v", err)
	}
}

func TestIndex_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.vec")
	idx3, _ := NewIndex(3)
	_ = idx3.Add(1, []float32{1, 0, 0})
	if err := idx3.Save(path); err != nil {
		t.Fatal(err)
	}

	idx2, _ := NewIndex(2)
	err := idx2.Load(path)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosineFromSquaredDistance(t *testing.T) {
	cases := []struct {
		d2   float64
		want float64
	}{
		{0, 1},   // identical unit vectors
		{2, 0},   // orthogonal
		{4, -1},  // opposite
		{0.2, 0.9},
	}
	for _, c := range cases {
		if got := CosineFromSquaredDistance(c.d2); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("CosineFromSquaredDistance(%f) = %f, want %f", c.d2, got, c.want)
		}
	}
}
