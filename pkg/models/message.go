package models

import "time"

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUse describes one tool invocation (or its recorded result) attached to
// a message. ID is the invocation identifier linking a call to its result.
type ToolUse struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// SessionMessage is one reconstructed turn or tool event. UUID is either a
// natural identifier from the log or a synthesized positional one; for a
// given unmodified file it is reproducible across reads, since deep links
// and delete-by-id depend on it.
type SessionMessage struct {
	UUID      string    `json:"uuid"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
}

// MessagePage is a suffix window over a session's message list. Offset zero
// with limit N yields the N most recent messages; HasMore reports whether
// earlier messages remain.
type MessagePage struct {
	Messages []SessionMessage `json:"messages"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}
