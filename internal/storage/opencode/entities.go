package opencode

import (
	"time"

	json "github.com/goccy/go-json"
)

// OpenCode stores one JSON file per entity: project/<id>.json,
// session/<projectID>/<id>.json, message/<sessionID>/<id>.json and
// part/<messageID>/<id>.json. Timestamps are unix milliseconds.

type timePair struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

func (t timePair) CreatedTime() time.Time {
	if t.Created == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.Created)
}

func (t timePair) UpdatedTime() time.Time {
	if t.Updated == 0 {
		return t.CreatedTime()
	}
	return time.UnixMilli(t.Updated)
}

type projectEntity struct {
	ID       string   `json:"id"`
	Worktree string   `json:"worktree"`
	Time     timePair `json:"time"`
}

type sessionEntity struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectID"`
	ParentID  string   `json:"parentID"`
	Directory string   `json:"directory"`
	Title     string   `json:"title"`
	Time      timePair `json:"time"`
}

type messageEntity struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Role       string         `json:"role"`
	ModelID    string         `json:"modelID"`
	ProviderID string         `json:"providerID"`
	Cost       float64        `json:"cost"`
	Tokens     *messageTokens `json:"tokens"`
	Time       timePair       `json:"time"`
}

type messageTokens struct {
	Input     int64        `json:"input"`
	Output    int64        `json:"output"`
	Reasoning int64        `json:"reasoning"`
	Cache     *cacheTokens `json:"cache"`
}

type cacheTokens struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

type partEntity struct {
	ID        string     `json:"id"`
	MessageID string     `json:"messageID"`
	SessionID string     `json:"sessionID"`
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	CallID    string     `json:"callID"`
	Tool      string     `json:"tool"`
	State     *partState `json:"state"`
}

type partState struct {
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// inputString renders the recorded tool input for display.
func (s *partState) inputString() string {
	if s == nil || len(s.Input) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(s.Input, &asString); err == nil {
		return asString
	}
	return string(s.Input)
}

// outputString renders the recorded tool output for display.
func (s *partState) outputString() string {
	if s == nil || len(s.Output) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(s.Output, &asString); err == nil {
		return asString
	}
	return string(s.Output)
}
