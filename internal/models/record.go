// Package models defines core data structures for conversation records,
// cache results, and session history entries.
package models

import "time"

// ConversationRecord is one stored question/answer pair. Records are
// immutable once written; ids are positive and strictly increasing in
// insertion order.
type ConversationRecord struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	NormalizedQuestion string    `json:"normalized_question"`
	Answer             string    `json:"answer"`
}

// HistoryEntry is one journaled interaction within a session.
type HistoryEntry struct {
	ID        int64                  `json:"id" db:"id"`
	SessionID string                 `json:"session_id" db:"session_id"`
	Query     string                 `json:"query" db:"query"`
	Response  string                 `json:"response" db:"response"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}
