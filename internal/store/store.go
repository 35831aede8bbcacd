// Package store provides the append-only, JSON-file-backed record store for
// conversation records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("record not found")

// RecordStore holds conversation records in memory and persists them to a
// single human-readable JSON file. Records are append-only: there are no
// update or delete operations. Not safe for concurrent use.
type RecordStore struct {
	path    string
	records []models.ConversationRecord
	byID    map[int64]int
	logger  *zap.Logger
}

// NewRecordStore creates a store persisting to path. Call Load before use.
func NewRecordStore(path string, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{
		path:   path,
		byID:   make(map[int64]int),
		logger: logger,
	}
}

// Load reads the records file into memory. A missing, empty, or malformed
// file is treated as an empty store; availability wins over strictness, so
// no error is surfaced for those cases.
func (s *RecordStore) Load() error {
	s.records = nil
	s.byID = make(map[int64]int)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read records file, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var records []models.ConversationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("records file is malformed, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}

	s.records = records
	for i, rec := range s.records {
		s.byID[rec.ID] = i
	}
	return nil
}

// Append adds rec to the end of the store and persists immediately. The
// in-memory state always reflects the append even when the write fails; the
// returned error lets the caller log the persistence failure, and the next
// successful persist reconciles the file.
func (s *RecordStore) Append(rec models.ConversationRecord) error {
	s.records = append(s.records, rec)
	s.byID[rec.ID] = len(s.records) - 1
	return s.persist()
}

// All returns the records in insertion order. The returned slice is a copy.
func (s *RecordStore) All() []models.ConversationRecord {
	out := make([]models.ConversationRecord, len(s.records))
	copy(out, s.records)
	return out
}

// FindByID returns the record with the given id, or ErrNotFound.
func (s *RecordStore) FindByID(id int64) (models.ConversationRecord, error) {
	i, ok := s.byID[id]
	if !ok {
		return models.ConversationRecord{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.records[i], nil
}

// Size returns the number of records.
func (s *RecordStore) Size() int {
	return len(s.records)
}

// NextID returns max(existing ids) + 1, or 1 for an empty store.
func (s *RecordStore) NextID() int64 {
	var max int64
	for _, rec := range s.records {
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max + 1
}

func (s *RecordStore) persist() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create records dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write records file: %w", err)
	}
	return nil
}
