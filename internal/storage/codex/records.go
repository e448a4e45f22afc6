package codex

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/replayhq/replay/pkg/models"
)

// recordKind enumerates the logical events a rollout line can carry. Several
// historical wire shapes map onto each kind; decodeLine normalises all of
// them and unrecognised shapes come back as recordSkip.
type recordKind int

const (
	recordSkip recordKind = iota
	recordSessionMeta
	recordUserMessage
	recordAssistantMessage
	recordToolCall
	recordToolResult
	recordUsage
	recordTurnContext
)

// record is the decoded form of one rollout line.
type record struct {
	kind      recordKind
	timestamp time.Time

	meta *sessionMeta // recordSessionMeta

	naturalID string // id carried by the log, when any
	text      string // message text

	callID     string // tool call / tool result linkage
	toolName   string
	toolArgs   string
	toolOutput string

	usage models.TokenUsage // recordUsage
	model string            // recordTurnContext
}

// sessionMeta is the session header, from either the wrapped session_meta
// record or the legacy flat first line.
type sessionMeta struct {
	ID         string
	CWD        string
	Originator string
	CLIVersion string
	StartedAt  time.Time
}

// rawLine is the envelope every rollout line decodes into. Wrapped records
// carry Type/Payload; the legacy flat meta shape puts its fields at the top
// level; the current item stream uses Item.
type rawLine struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Item      json.RawMessage `json:"item"`

	// Legacy flat session meta.
	ID         string `json:"id"`
	CWD        string `json:"cwd"`
	Originator string `json:"originator"`
	CLIVersion string `json:"cli_version"`
}

type sessionMetaPayload struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	CWD        string `json:"cwd"`
	Originator string `json:"originator"`
	CLIVersion string `json:"cli_version"`
}

type responseItemPayload struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	ID        string          `json:"id"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	CallID    string          `json:"call_id"`
	Output    json.RawMessage `json:"output"`
}

type eventMsgPayload struct {
	Type              string `json:"type"`
	Message           string `json:"message"`
	Content           string `json:"content"`
	InputTokens       int64  `json:"input_tokens"`
	OutputTokens      int64  `json:"output_tokens"`
	CachedInputTokens int64  `json:"cached_input_tokens"`
	Info              *struct {
		LastTokenUsage  *tokenUsageInfo `json:"last_token_usage"`
		TotalTokenUsage *tokenUsageInfo `json:"total_token_usage"`
	} `json:"info"`
}

type tokenUsageInfo struct {
	InputTokens           int64 `json:"input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
}

type turnContextPayload struct {
	CWD   string `json:"cwd"`
	Model string `json:"model"`
}

type completedItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ItemType  string `json:"item_type"`
	Text      string `json:"text"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeLine turns one rollout line into its canonical record. Malformed
// lines and unknown shapes decode to recordSkip so callers can continue.
// firstLine enables the legacy flat meta shape, which is only meaningful at
// the head of the file.
func decodeLine(data []byte, firstLine bool) record {
	var raw rawLine
	if err := json.Unmarshal(data, &raw); err != nil {
		return record{kind: recordSkip}
	}

	rec := record{kind: recordSkip, timestamp: parseTimestamp(raw.Timestamp)}

	switch raw.Type {
	case "session_meta":
		var payload sessionMetaPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return rec
		}
		started := parseTimestamp(payload.Timestamp)
		if started.IsZero() {
			started = rec.timestamp
		}
		rec.kind = recordSessionMeta
		rec.meta = &sessionMeta{
			ID:         payload.ID,
			CWD:        payload.CWD,
			Originator: payload.Originator,
			CLIVersion: payload.CLIVersion,
			StartedAt:  started,
		}
		return rec

	case "response_item":
		return decodeResponseItem(raw.Payload, rec)

	case "event_msg":
		return decodeEventMsg(raw.Payload, rec)

	case "turn_context":
		var payload turnContextPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return rec
		}
		rec.kind = recordTurnContext
		rec.model = payload.Model
		return rec

	case "item.completed", "item_completed":
		return decodeCompletedItem(raw.Item, rec)
	}

	// Legacy flat meta: no type tag, id at top level, first line only.
	if firstLine && raw.Type == "" && raw.ID != "" {
		rec.kind = recordSessionMeta
		rec.meta = &sessionMeta{
			ID:         raw.ID,
			CWD:        raw.CWD,
			Originator: raw.Originator,
			CLIVersion: raw.CLIVersion,
			StartedAt:  rec.timestamp,
		}
	}
	return rec
}

func decodeResponseItem(payload json.RawMessage, rec record) record {
	var item responseItemPayload
	if err := json.Unmarshal(payload, &item); err != nil {
		return rec
	}

	switch item.Type {
	case "message":
		text := decodeContentText(item.Content)
		switch item.Role {
		case "user":
			rec.kind = recordUserMessage
		case "assistant":
			rec.kind = recordAssistantMessage
		default:
			return rec
		}
		rec.naturalID = item.ID
		rec.text = text

	case "function_call", "custom_tool_call":
		rec.kind = recordToolCall
		rec.naturalID = item.ID
		rec.callID = item.CallID
		rec.toolName = item.Name
		rec.toolArgs = item.Arguments

	case "function_call_output", "custom_tool_call_output":
		rec.kind = recordToolResult
		rec.naturalID = item.ID
		rec.callID = item.CallID
		rec.toolOutput = decodeOutputText(item.Output)
	}
	return rec
}

func decodeEventMsg(payload json.RawMessage, rec record) record {
	var event eventMsgPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return rec
	}

	switch event.Type {
	case "user_message":
		rec.kind = recordUserMessage
		rec.text = firstNonEmpty(event.Message, event.Content)
	case "agent_message":
		rec.kind = recordAssistantMessage
		rec.text = firstNonEmpty(event.Message, event.Content)
	case "token_count":
		rec.kind = recordUsage
		if event.Info != nil && event.Info.LastTokenUsage != nil {
			u := event.Info.LastTokenUsage
			rec.usage = models.TokenUsage{
				InputTokens:       u.InputTokens,
				OutputTokens:      u.OutputTokens,
				CachedInputTokens: u.CachedInputTokens,
				ReasoningTokens:   u.ReasoningOutputTokens,
			}
		} else {
			rec.usage = models.TokenUsage{
				InputTokens:       event.InputTokens,
				OutputTokens:      event.OutputTokens,
				CachedInputTokens: event.CachedInputTokens,
			}
		}
	}
	return rec
}

func decodeCompletedItem(itemRaw json.RawMessage, rec record) record {
	var item completedItem
	if err := json.Unmarshal(itemRaw, &item); err != nil {
		return rec
	}

	itemType := firstNonEmpty(item.Type, item.ItemType)
	switch itemType {
	case "agent_message", "assistant_message":
		rec.kind = recordAssistantMessage
		rec.naturalID = item.ID
		rec.text = item.Text
	case "user_message":
		rec.kind = recordUserMessage
		rec.naturalID = item.ID
		rec.text = item.Text
	case "tool_call":
		rec.kind = recordToolCall
		rec.naturalID = item.ID
		rec.callID = firstNonEmpty(item.CallID, item.ID)
		rec.toolName = firstNonEmpty(item.Name, item.Tool)
		rec.toolArgs = item.Arguments
	case "tool_result":
		rec.kind = recordToolResult
		rec.naturalID = item.ID
		rec.callID = firstNonEmpty(item.CallID, item.ID)
		rec.toolOutput = firstNonEmpty(item.Output, item.Text)
	}
	return rec
}

// decodeContentText flattens a response_item content field, which is either
// a plain string or an array of typed blocks.
func decodeContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, block := range blocks {
			if block.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(block.Text)
		}
		return b.String()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// decodeOutputText handles function_call_output payloads, which moved from
// a bare string to a wrapped object across format revisions.
func decodeOutputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var wrapped struct {
		Content string `json:"content"`
		Output  string `json:"output"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return firstNonEmpty(wrapped.Content, wrapped.Output)
	}
	return string(raw)
}

// isBoilerplate reports whether user text is synthetic context injected by
// the CLI (environment blocks, instruction dumps) rather than something the
// user actually typed. Such text never becomes a session preview.
func isBoilerplate(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	return strings.Contains(trimmed, "<environment_context>") ||
		strings.Contains(trimmed, "<user_instructions>") ||
		strings.Contains(trimmed, "<permissions") ||
		strings.Contains(trimmed, "AGENTS.md")
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
