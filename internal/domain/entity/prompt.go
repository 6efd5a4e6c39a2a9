package entity

import (
	"encoding/json"
	"time"
)

// ResponseFormatJSON asks the generative service for a JSON document.
const ResponseFormatJSON = "json"

// PromptTask is one outbound generation call.
type PromptTask struct {
	Prompt      string
	Model       string  // empty uses the executor default
	Temperature float32 // 0..1

	// CacheKey is the semantic identity of the request. It must be stable across
	// retries of the same logical request; empty disables caching.
	CacheKey string

	// Parser is used when the response is not valid JSON.
	Parser func(text string) (json.RawMessage, error)
}

// SubmitRequest is what crosses the generative service boundary.
type SubmitRequest struct {
	Prompt         string
	Model          string
	Temperature    float32
	ResponseFormat string
}

// CacheEntry is an immutable cached response. A zero TTL never expires.
type CacheEntry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Expired reports whether the entry has outlived its TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) >= e.TTL
}
