package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/history"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	storageCfg := config.StorageConfig{
		RecordsPath:     filepath.Join(dir, "records.json"),
		VectorIndexPath: filepath.Join(dir, "vectors.bin"),
	}
	cacheCfg := config.CacheConfig{
		DedupThreshold:     config.DefaultDedupThreshold,
		RetrievalThreshold: config.DefaultRetrievalThreshold,
		RebuildDivergence:  config.DefaultRebuildDivergence,
	}

	c := cache.New(embedding.NewHashEmbedder(64), storageCfg, cacheCfg, zap.NewNop())
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("failed to init cache: %v", err)
	}

	hist, err := history.NewStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("failed to create history store: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	histIdx, err := keyword.NewHistoryIndex("")
	if err != nil {
		t.Fatalf("failed to create history index: %v", err)
	}
	t.Cleanup(func() { histIdx.Close() })

	cfg := &config.ServerConfig{Host: "localhost", Port: 8087}
	return NewServer(c, hist, histIdx, cfg, zap.NewNop())
}

func postAdd(t *testing.T, s *Server, question, answer string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(AddRequest{Question: question, Answer: answer})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleAdd(w, req)
	return w
}

func TestHandleAdd(t *testing.T) {
	s := newTestServer(t)

	w := postAdd(t, s, "What is the capital of France?", "Paris")
	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	var res models.AddResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Status != models.AddStored {
		t.Errorf("Expected status %q, got %q", models.AddStored, res.Status)
	}
	if !res.Indexed {
		t.Error("Expected record to be indexed")
	}
}

func TestHandleAddDuplicate(t *testing.T) {
	s := newTestServer(t)

	postAdd(t, s, "What is the capital of France?", "Paris")
	w := postAdd(t, s, "What is the capital of France?", "Paris, of course")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for duplicate, got %d", w.Code)
	}

	var res models.AddResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Status != models.AddDuplicate {
		t.Errorf("Expected status %q, got %q", models.AddDuplicate, res.Status)
	}
}

func TestHandleAddInvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.handleAdd(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleFind(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/answers?q=What+is+the+capital+of+France%3F", nil)
	w := httptest.NewRecorder()
	s.handleFind(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var res models.FindResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !res.Found {
		t.Fatal("Expected a match")
	}
	if res.Answer != "Paris" {
		t.Errorf("Expected answer 'Paris', got %q", res.Answer)
	}
}

func TestHandleFindNoMatch(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/answers?q=how+do+rockets+work", nil)
	w := httptest.NewRecorder()
	s.handleFind(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var res models.FindResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Found {
		t.Error("Expected no match for unrelated question")
	}
}

func TestHandleFindMissingQuery(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/answers", nil)
	w := httptest.NewRecorder()
	s.handleFind(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var res map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res["records"].(float64) != 1 {
		t.Errorf("Expected 1 record, got %v", res["records"])
	}
	if res["vectors"].(float64) != 1 {
		t.Errorf("Expected 1 vector, got %v", res["vectors"])
	}
	if res["degraded"].(bool) {
		t.Error("Expected degraded to be false")
	}
}

func TestHandleRebuild(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", nil)
	w := httptest.NewRecorder()
	s.handleRebuild(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats models.CacheStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Vectors != stats.Records {
		t.Errorf("Expected vectors to match records after rebuild, got %d vs %d", stats.Vectors, stats.Records)
	}
}

func TestHandleHistoryRecent(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")
	postAdd(t, s, "What is the capital of Japan?", "Tokyo")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/recent?limit=10", nil)
	w := httptest.NewRecorder()
	s.handleHistoryRecent(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var res struct {
		Entries []*models.HistoryEntry `json:"entries"`
		Total   int                    `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Expected 2 history entries, got %d", res.Total)
	}
}

func TestHandleHistorySearch(t *testing.T) {
	s := newTestServer(t)
	postAdd(t, s, "What is the capital of France?", "Paris")
	postAdd(t, s, "How do rockets reach orbit?", "Staged propulsion")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/search?q=rockets", nil)
	w := httptest.NewRecorder()
	s.handleHistorySearch(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var res struct {
		Entries []*models.HistoryEntry `json:"entries"`
		Total   int                    `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("Expected 1 search hit, got %d", res.Total)
	}
	if res.Entries[0].Query != "How do rockets reach orbit?" {
		t.Errorf("Unexpected hit: %q", res.Entries[0].Query)
	}
}

func TestHandleHistoryDisabled(t *testing.T) {
	s := newTestServer(t)
	s.history = nil
	s.historyIndex = nil

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/recent", nil)
	w := httptest.NewRecorder()
	s.handleHistoryRecent(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history/search?q=anything", nil)
	w = httptest.NewRecorder()
	s.handleHistorySearch(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
