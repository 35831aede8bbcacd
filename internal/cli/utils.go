// Package cli provides CLI output utilities for kioku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAddResult writes the outcome of an add to w in the given format.
func WriteAddResult(w io.Writer, res *models.AddResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	switch res.Status {
	case models.AddStored:
		fmt.Fprintf(w, "Stored (id %d", res.ID)
		if !res.Indexed {
			fmt.Fprintf(w, ", not indexed")
		}
		fmt.Fprintln(w, ")")
	case models.AddDuplicate:
		fmt.Fprintf(w, "Duplicate of id %d (similarity %.4f)\n", res.ID, res.Similarity)
	case models.AddSkipped:
		fmt.Fprintln(w, "Skipped: question and answer must be non-empty")
	}
	return nil
}

// WriteFindResult writes a lookup outcome to w in the given format.
func WriteFindResult(w io.Writer, res *models.FindResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	if !res.Found {
		if res.Degraded {
			fmt.Fprintln(w, "No match (semantic lookup unavailable)")
		} else {
			fmt.Fprintln(w, "No match")
		}
		return nil
	}
	fmt.Fprintf(w, "Match (id %d, similarity %.4f)\n", res.ID, res.Similarity)
	fmt.Fprintf(w, "Q: %s\n", res.Question)
	fmt.Fprintf(w, "A: %s\n", res.Answer)
	return nil
}

// WriteHistoryEntries writes history entries to w in the given format.
func WriteHistoryEntries(w io.Writer, entries []*models.HistoryEntry, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history entries")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s", entry.ID, entry.CreatedAt.Format("2006-01-02 15:04:05"))
		if entry.SessionID != "" {
			fmt.Fprintf(w, " (session %s)", entry.SessionID)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Q: %s\n", Truncate(entry.Query, 200))
		fmt.Fprintf(w, "A: %s\n", Truncate(entry.Response, 200))
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
