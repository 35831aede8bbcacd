// Package history provides the SQLite-backed session journal. Every cache
// interaction can be recorded per session, independent of the semantic
// record store.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// Store persists history entries in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the journal database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_session ON history_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_history_created_at ON history_entries(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// AddEntry inserts an entry and fills in its ID and CreatedAt.
func (s *Store) AddEntry(ctx context.Context, entry *models.HistoryEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	entry.CreatedAt = time.Now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history_entries (session_id, query, response, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Query, entry.Response, string(metadataJSON), entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, query, response, metadata, created_at
		 FROM history_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, query, response, metadata, created_at
		 FROM history_entries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySession returns up to limit entries for one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, query, response, metadata, created_at
		 FROM history_entries WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of journaled entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_entries`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	var metadataJSON sql.NullString
	err := row.Scan(&entry.ID, &entry.SessionID, &entry.Query, &entry.Response,
		&metadataJSON, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history entry not found")
	}
	if err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*models.HistoryEntry, error) {
	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
