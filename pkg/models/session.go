// Package models contains the format-neutral session model shared by all
// storage adapters.
package models

import "time"

// TokenUsage accumulates token counters reported by an agent CLI over the
// course of a session. Counters are summed across every usage record found
// in the underlying log, regardless of which format revision reported them.
type TokenUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	CacheWriteTokens  int64 `json:"cache_write_tokens,omitempty"`
	ReasoningTokens   int64 `json:"reasoning_tokens,omitempty"`
}

// Add merges other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// Total returns the combined input and output token count.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// SessionSummary describes one discovered session. SessionID is stable
// across re-parses of the same on-disk state; ModifiedAt is derived from the
// backing file's mtime, never invented.
type SessionSummary struct {
	SessionID       string     `json:"session_id"`
	ProjectPath     string     `json:"project_path,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ModifiedAt      time.Time  `json:"modified_at"`
	Preview         string     `json:"preview,omitempty"`
	MessageCount    int        `json:"message_count"`
	SizeBytes       int64      `json:"size_bytes"`
	Usage           TokenUsage `json:"usage"`
	CostUSD         float64    `json:"cost_usd,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
}

// SessionPage is one page of a paginated session listing.
type SessionPage struct {
	Sessions   []SessionSummary `json:"sessions"`
	HasMore    bool             `json:"has_more"`
	TotalCount int              `json:"total_count"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
