// Package storage defines the contract every agent session store implements,
// plus the registry that routes calls to the store for a given agent CLI.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/replayhq/replay/pkg/models"
)

// Sentinel errors shared by all adapters.
var (
	// ErrSessionNotFound reports an unknown session id within a project scope.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound reports that neither the message id nor the fallback
	// content matched any user message in the session.
	ErrMessageNotFound = errors.New("message not found")
)

// SearchMode restricts which roles count toward a search match.
type SearchMode string

const (
	SearchAll       SearchMode = "all"
	SearchTitle     SearchMode = "title"
	SearchUser      SearchMode = "user"
	SearchAssistant SearchMode = "assistant"
)

// PageRequest drives cursor pagination over a session listing. Cursor is an
// opaque session id; an unknown cursor restarts from the beginning.
type PageRequest struct {
	Cursor string
	Limit  int
}

// MessageWindow selects a suffix window of a session's messages. Offset
// counts backward from the end of the list, so Offset 0 / Limit 20 yields
// the 20 most recent messages.
type MessageWindow struct {
	Offset int
	Limit  int
}

// DeleteResult reports the outcome of an exchange deletion.
// RecordsRemoved counts underlying records: lines for line-oriented
// storage, files for directory storage.
type DeleteResult struct {
	RecordsRemoved int
}

// Store is the contract consumed by the UI collaborator. Listing and search
// tolerate missing roots (empty results, nil error); individual malformed
// records are skipped, never fatal.
type Store interface {
	// ListSessions returns every session belonging to projectPath, newest
	// ModifiedAt first. May refresh the adapter's on-disk summary cache.
	ListSessions(ctx context.Context, projectPath string) ([]models.SessionSummary, error)

	// ListSessionsPage paginates over the same ordering ListSessions produces.
	ListSessionsPage(ctx context.Context, projectPath string, req PageRequest) (*models.SessionPage, error)

	// ReadMessages re-parses the session log and returns a suffix window of
	// its messages. Messages are never cached; they are read far less often
	// than summaries and may be large.
	ReadMessages(ctx context.Context, projectPath, sessionID string, win MessageWindow) (*models.MessagePage, error)

	// SearchSessions performs a case-insensitive substring search. An empty
	// or whitespace-only query returns no results without touching disk.
	SearchSessions(ctx context.Context, projectPath, query string, mode SearchMode) ([]models.SearchResult, error)

	// DeleteExchange removes the user message identified by messageID (or,
	// failing that, the most recent user message whose trimmed content
	// equals fallbackContent case-insensitively) together with every record
	// up to the next user message, then removes tool results elsewhere in
	// the log that reference tool calls introduced inside the deleted span.
	DeleteExchange(ctx context.Context, projectPath, sessionID, messageID, fallbackContent string) (*DeleteResult, error)
}

// PathResolver is an optional capability for stores that can resolve a
// session id to its backing file without asynchronous work. Stores that
// cannot simply do not implement it.
type PathResolver interface {
	SessionPath(projectPath, sessionID string) (string, bool)
}

// EventOp classifies a storage change event.
type EventOp string

const (
	EventCreated  EventOp = "created"
	EventModified EventOp = "modified"
	EventRemoved  EventOp = "removed"
)

// Event is a debounced storage change notification.
type Event struct {
	Op   EventOp
	Path string
	Time time.Time
}

// Watchable is an optional capability for stores whose backing directories
// can be watched for changes.
type Watchable interface {
	Watch(projectPath string) (<-chan Event, io.Closer, error)
}
