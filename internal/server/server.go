// Package server provides the HTTP API for the kioku cache.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/history"
	"github.com/hyperjump/kioku/internal/keyword"
)

// Server is the HTTP server for the kioku API. The cache itself is not safe
// for concurrent use, so every handler that touches it holds mu.
type Server struct {
	cache        *cache.SemanticCache
	history      *history.Store        // nil when the journal is disabled
	historyIndex *keyword.HistoryIndex // nil when the journal is disabled
	config       *config.ServerConfig
	logger       *zap.Logger
	server       *http.Server
	mu           sync.Mutex
}

// NewServer creates a server with the given dependencies. history and
// historyIndex may be nil; the history endpoints then return 404.
func NewServer(
	c *cache.SemanticCache,
	hist *history.Store,
	histIdx *keyword.HistoryIndex,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		cache:        c,
		history:      hist,
		historyIndex: histIdx,
		config:       cfg,
		logger:       logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/v1/conversations", s.handleAdd)
	r.Get("/api/v1/answers", s.handleFind)
	r.Post("/api/v1/rebuild", s.handleRebuild)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/history/search", s.handleHistorySearch)
	r.Get("/api/v1/history/recent", s.handleHistoryRecent)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ReloadCache re-reads the persisted cache files; used by the records-file
// watcher.
func (s *Server) ReloadCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Reload(ctx)
}
