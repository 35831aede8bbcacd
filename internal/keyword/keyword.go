// Package keyword provides Bleve-backed full-text search over the session
// history journal.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/kioku/internal/models"
)

// Result is a single keyword search hit against the history journal.
type Result struct {
	ID    int64
	Score float64
}

// HistoryIndex indexes history entries for keyword retrieval. It complements
// the semantic cache: the journal is searched by words, the cache by meaning.
type HistoryIndex struct {
	index bleve.Index
}

type indexedEntry struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Response  string `json:"response"`
}

// NewHistoryIndex creates or opens a Bleve index at path. An empty path
// creates an in-memory index, used in tests.
func NewHistoryIndex(path string) (*HistoryIndex, error) {
	im := bleve.NewIndexMapping()

	entryMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term
	// matches the exact word the user typed.
	textFieldMapping.Analyzer = standard.Name
	entryMapping.AddFieldMappingsAt("query", textFieldMapping)
	entryMapping.AddFieldMappingsAt("response", textFieldMapping)
	entryMapping.AddFieldMappingsAt("session_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("entry", entryMapping)
	im.DefaultType = "entry"
	im.DefaultMapping = entryMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &HistoryIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open history index: %w", openErr)
		}
		return &HistoryIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	return &HistoryIndex{index: index}, nil
}

// Index adds or updates a history entry in the index.
func (h *HistoryIndex) Index(ctx context.Context, entry *models.HistoryEntry) error {
	return h.index.Index(strconv.FormatInt(entry.ID, 10), &indexedEntry{
		SessionID: entry.SessionID,
		Query:     entry.Query,
		Response:  entry.Response,
	})
}

// Search runs a match query over the query and response fields and returns
// up to limit hits, best score first.
func (h *HistoryIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	queryQ := bleve.NewMatchQuery(query)
	queryQ.SetField("query")
	responseQ := bleve.NewMatchQuery(query)
	responseQ.SetField("response")
	disjunction := bleve.NewDisjunctionQuery(queryQ, responseQ)

	req := bleve.NewSearchRequestOptions(disjunction, limit, 0, false)
	res, err := h.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	results := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		results = append(results, &Result{ID: id, Score: hit.Score})
	}
	return results, nil
}

// Delete removes an entry from the index.
func (h *HistoryIndex) Delete(ctx context.Context, id int64) error {
	return h.index.Delete(strconv.FormatInt(id, 10))
}

// DocCount returns the number of indexed entries.
func (h *HistoryIndex) DocCount() (uint64, error) {
	return h.index.DocCount()
}

// Close closes the underlying index.
func (h *HistoryIndex) Close() error {
	return h.index.Close()
}
