package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "what is the weather in London?")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "what is the weather in London?")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Fatalf("dimension = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text must embed identically")
		}
	}

	c, _ := e.Embed(ctx, "a completely different question")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should not embed identically")
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(384)
	vec, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %f", math.Sqrt(sum))
	}
}

func TestHashEmbedder_EmbedBatch(t *testing.T) {
	e := NewHashEmbedder(16)
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 16 {
		t.Errorf("got %d vectors", len(vecs))
	}
}

func TestCache_LRU(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	// a was just touched, so b is the eviction candidate.
	c.Set("c", []float32{3})
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestSimpleTokenizer(t *testing.T) {
	tok := &SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tok.Tokenize("hello world", 8)
	if len(inputIDs) != 8 || len(attentionMask) != 8 || len(tokenTypeIDs) != 8 {
		t.Fatal("padded length mismatch")
	}
	if inputIDs[0] != 101 {
		t.Error("first token should be [CLS]")
	}
	if attentionMask[0] != 1 || attentionMask[1] != 1 || attentionMask[2] != 1 {
		t.Error("attention mask should cover CLS + 2 words")
	}
	if inputIDs[3] != 102 {
		t.Errorf("expected [SEP] after words, got %d", inputIDs[3])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  foo\tbar\nbaz ")
	if len(words) != 3 || words[0] != "foo" || words[2] != "baz" {
		t.Errorf("got %v", words)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty text should yield no words")
	}
}
