package models

// MatchType reports which part of a session satisfied a search query.
type MatchType string

const (
	MatchTitle     MatchType = "title"
	MatchUser      MatchType = "user"
	MatchAssistant MatchType = "assistant"
)

// SearchResult is one matching session. Preview is a bounded snippet centred
// on the first hit; MatchCount counts every hit across the matched roles.
type SearchResult struct {
	SessionID  string    `json:"session_id"`
	MatchType  MatchType `json:"match_type"`
	Preview    string    `json:"preview"`
	MatchCount int       `json:"match_count"`
}
