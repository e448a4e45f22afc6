// Package search implements the case-insensitive substring matching shared
// by every session store.
package search

import (
	"strings"
	"unicode/utf8"

	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/pkg/models"
)

// SnippetWidth bounds the preview returned with a search result.
const SnippetWidth = 100

// Candidate is the searchable view of one session: its title (or preview
// text for formats without stored titles) plus the decoded message list.
type Candidate struct {
	Title    string
	Messages []models.SessionMessage
}

// NormalizeQuery trims the query. An empty result means "no search": the
// contract returns no results for blank queries rather than matching
// everything.
func NormalizeQuery(query string) string {
	return strings.TrimSpace(query)
}

// Match evaluates query against c under the given mode. When several roles
// match in mode "all" the reported match type follows the preference
// title > user > assistant. MatchCount counts every hit across the roles
// the mode admits.
func Match(c Candidate, query string, mode storage.SearchMode) (models.SearchResult, bool) {
	needle := strings.ToLower(NormalizeQuery(query))
	if needle == "" {
		return models.SearchResult{}, false
	}

	wantTitle := mode == storage.SearchAll || mode == storage.SearchTitle
	wantUser := mode == storage.SearchAll || mode == storage.SearchUser
	wantAssistant := mode == storage.SearchAll || mode == storage.SearchAssistant

	var result models.SearchResult

	if wantTitle {
		if idx := indexFold(c.Title, needle); idx >= 0 {
			result.MatchType = models.MatchTitle
			result.Preview = Snippet(c.Title, idx, len(needle))
			result.MatchCount += countFold(c.Title, needle)
		}
	}

	for _, msg := range c.Messages {
		switch msg.Role {
		case models.RoleUser:
			if !wantUser {
				continue
			}
		case models.RoleAssistant:
			if !wantAssistant {
				continue
			}
		default:
			continue
		}

		idx := indexFold(msg.Content, needle)
		if idx < 0 {
			continue
		}
		result.MatchCount += countFold(msg.Content, needle)
		if result.MatchType != "" {
			continue
		}
		if msg.Role == models.RoleUser {
			result.MatchType = models.MatchUser
		} else {
			result.MatchType = models.MatchAssistant
		}
		result.Preview = Snippet(msg.Content, idx, len(needle))
	}

	// A user hit outranks an assistant hit in mode "all", regardless of
	// message order. Re-scan only when an assistant message won above.
	if mode == storage.SearchAll && result.MatchType == models.MatchAssistant {
		for _, msg := range c.Messages {
			if msg.Role != models.RoleUser {
				continue
			}
			if idx := indexFold(msg.Content, needle); idx >= 0 {
				result.MatchType = models.MatchUser
				result.Preview = Snippet(msg.Content, idx, len(needle))
				break
			}
		}
	}

	if result.MatchType == "" {
		return models.SearchResult{}, false
	}
	return result, true
}

// Snippet extracts a window of at most SnippetWidth runes centred on the
// hit at byte offset idx with byte length matchLen.
func Snippet(text string, idx, matchLen int) string {
	text = strings.ReplaceAll(text, "\n", " ")

	start := idx - (SnippetWidth-matchLen)/2
	if start < 0 {
		start = 0
	}
	// Back up to a rune boundary.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}

	end := start
	remaining := SnippetWidth
	for end < len(text) && remaining > 0 {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
		remaining--
	}

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}

func indexFold(haystack, lowerNeedle string) int {
	return strings.Index(strings.ToLower(haystack), lowerNeedle)
}

func countFold(haystack, lowerNeedle string) int {
	return strings.Count(strings.ToLower(haystack), lowerNeedle)
}
