package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// AddRequest is the body for POST /api/v1/conversations.
type AddRequest struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	res, err := s.cache.Add(r.Context(), req.Question, req.Answer)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("add failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.journal(r, req.SessionID, req.Question, req.Answer, map[string]interface{}{
		"operation": "add",
		"status":    string(res.Status),
	})

	status := http.StatusCreated
	if res.Status != models.AddStored {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("q")
	if question == "" {
		s.respondError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	s.mu.Lock()
	res, err := s.cache.Find(r.Context(), question)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("find failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if res.Found {
		s.journal(r, r.URL.Query().Get("session_id"), question, res.Answer, map[string]interface{}{
			"operation":  "find",
			"matched_id": res.ID,
		})
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	err := s.cache.Rebuild(r.Context())
	stats := s.cache.Stats()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := s.cache.Stats()
	s.mu.Unlock()

	resp := map[string]interface{}{
		"records":    stats.Records,
		"vectors":    stats.Vectors,
		"dimensions": stats.Dimensions,
		"degraded":   stats.Degraded,
	}
	if s.history != nil {
		if n, err := s.history.Count(r.Context()); err == nil {
			resp["history_entries"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil || s.historyIndex == nil {
		s.respondError(w, http.StatusNotFound, "history journal disabled")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := queryInt(r, "limit", 5)

	hits, err := s.historyIndex.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("history search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]*models.HistoryEntry, 0, len(hits))
	for _, hit := range hits {
		entry, err := s.history.Get(r.Context(), hit.ID)
		if err != nil {
			s.logger.Warn("history hit not in store", zap.Int64("id", hit.ID), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "history journal disabled")
		return
	}
	limit := queryInt(r, "limit", 10)
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history recent failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// journal records an interaction in the session history and its keyword
// index. Failures are logged, never surfaced to the API caller.
func (s *Server) journal(r *http.Request, sessionID, query, response string, metadata map[string]interface{}) {
	if s.history == nil {
		return
	}
	entry := &models.HistoryEntry{
		SessionID: sessionID,
		Query:     query,
		Response:  response,
		Metadata:  metadata,
	}
	if err := s.history.AddEntry(r.Context(), entry); err != nil {
		s.logger.Warn("failed to journal interaction", zap.Error(err))
		return
	}
	if s.historyIndex != nil {
		if err := s.historyIndex.Index(r.Context(), entry); err != nil {
			s.logger.Warn("failed to index history entry", zap.Int64("id", entry.ID), zap.Error(err))
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
