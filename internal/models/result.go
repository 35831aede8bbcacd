package models

// AddStatus describes the outcome of a cache Add call.
type AddStatus string

const (
	// AddStored means a new record was appended and indexed.
	AddStored AddStatus = "stored"
	// AddDuplicate means the question was within the dedup threshold of an
	// existing record and no new record was written.
	AddDuplicate AddStatus = "duplicate"
	// AddSkipped means the input was empty (before or after normalization)
	// and nothing was written.
	AddSkipped AddStatus = "skipped"
)

// AddResult is the outcome of SemanticCache.Add.
type AddResult struct {
	Status AddStatus `json:"status"`
	// ID is the new record id when Status is AddStored, or the id of the
	// matched existing record when Status is AddDuplicate.
	ID int64 `json:"id,omitempty"`
	// Similarity is the cosine similarity to the nearest existing question,
	// set when a nearest neighbour was consulted.
	Similarity float64 `json:"similarity,omitempty"`
	// Indexed reports whether a vector entry was written for the new record.
	// False when embedding failed and the record was stored without one.
	Indexed bool `json:"indexed"`
}

// FindResult is the outcome of SemanticCache.Find.
type FindResult struct {
	Found      bool    `json:"found"`
	ID         int64   `json:"id,omitempty"`
	Question   string  `json:"question,omitempty"`
	Answer     string  `json:"answer,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	// Degraded reports that the embedder is unavailable and semantic
	// retrieval was skipped entirely.
	Degraded bool `json:"degraded,omitempty"`
}

// CacheStats summarizes the cache state for status reporting.
type CacheStats struct {
	Records    int  `json:"records"`
	Vectors    int  `json:"vectors"`
	Dimensions int  `json:"dimensions"`
	Degraded   bool `json:"degraded"`
}
