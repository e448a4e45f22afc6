package codex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected string
	}{
		{
			name:     "timestamp and uuid",
			filename: "rollout-2026-02-11T15-52-56-019c4bb0-5fdb-7352-9b9c-9efe77d2d60d.jsonl",
			expected: "019c4bb0-5fdb-7352-9b9c-9efe77d2d60d",
		},
		{
			name:     "no uuid falls back to stem",
			filename: "rollout-2026-02-11T15-52-56-not-a-uuid.jsonl",
			expected: "2026-02-11T15-52-56-not-a-uuid",
		},
		{
			name:     "short stem",
			filename: "rollout-abc.jsonl",
			expected: "abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sessionIDFromFilename(tt.filename))
		})
	}
}

func TestTimestampFromFilename(t *testing.T) {
	ts := timestampFromFilename("rollout-2026-02-11T15-52-56-019c4bb0-5fdb-7352-9b9c-9efe77d2d60d.jsonl")
	require.False(t, ts.IsZero())
	assert.Equal(t, time.Date(2026, 2, 11, 15, 52, 56, 0, time.Local), ts)

	assert.True(t, timestampFromFilename("rollout-short.jsonl").IsZero())
	assert.True(t, timestampFromFilename("rollout-9999-99-99T99-99-99-x.jsonl").IsZero())
}

func TestIsBoilerplate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "empty", text: "   ", want: true},
		{name: "heading", text: "# Project instructions", want: true},
		{name: "environment context", text: "stuff <environment_context>cwd</environment_context>", want: true},
		{name: "user instructions", text: "<user_instructions>be brief</user_instructions>", want: true},
		{name: "permissions block", text: "<permissions mode=\"auto\">", want: true},
		{name: "agents file dump", text: "Contents of AGENTS.md in the repo", want: true},
		{name: "real prompt", text: "rename the Config struct", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBoilerplate(tt.text))
		})
	}
}

func TestDecodeLineShapes(t *testing.T) {
	t.Run("legacy flat meta on first line", func(t *testing.T) {
		line := `{"timestamp":"2025-06-01T10:00:00Z","id":"legacy-id","cwd":"/work","originator":"codex_cli_rs","cli_version":"0.12.0"}`
		rec := decodeLine([]byte(line), true)
		require.Equal(t, recordSessionMeta, rec.kind)
		assert.Equal(t, "legacy-id", rec.meta.ID)
		assert.Equal(t, "/work", rec.meta.CWD)
		assert.False(t, rec.meta.StartedAt.IsZero())
	})

	t.Run("flat meta ignored past first line", func(t *testing.T) {
		line := `{"id":"legacy-id","cwd":"/work"}`
		rec := decodeLine([]byte(line), false)
		assert.Equal(t, recordSkip, rec.kind)
	})

	t.Run("item completed agent message", func(t *testing.T) {
		line := `{"timestamp":"2026-01-01T00:00:00Z","type":"item.completed","item":{"id":"item_0","item_type":"agent_message","text":"done"}}`
		rec := decodeLine([]byte(line), false)
		require.Equal(t, recordAssistantMessage, rec.kind)
		assert.Equal(t, "item_0", rec.naturalID)
		assert.Equal(t, "done", rec.text)
	})

	t.Run("item completed tool call defaults call id", func(t *testing.T) {
		line := `{"type":"item.completed","item":{"id":"item_3","item_type":"tool_call","tool":"shell","arguments":"{}"}}`
		rec := decodeLine([]byte(line), false)
		require.Equal(t, recordToolCall, rec.kind)
		assert.Equal(t, "item_3", rec.callID)
		assert.Equal(t, "shell", rec.toolName)
	})

	t.Run("nested token usage", func(t *testing.T) {
		line := `{"type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":10,"output_tokens":4,"cached_input_tokens":6,"reasoning_output_tokens":2}}}}`
		rec := decodeLine([]byte(line), false)
		require.Equal(t, recordUsage, rec.kind)
		assert.Equal(t, int64(10), rec.usage.InputTokens)
		assert.Equal(t, int64(4), rec.usage.OutputTokens)
		assert.Equal(t, int64(6), rec.usage.CachedInputTokens)
		assert.Equal(t, int64(2), rec.usage.ReasoningTokens)
	})

	t.Run("string message content", func(t *testing.T) {
		line := `{"type":"response_item","payload":{"type":"message","role":"user","content":"plain string"}}`
		rec := decodeLine([]byte(line), false)
		require.Equal(t, recordUserMessage, rec.kind)
		assert.Equal(t, "plain string", rec.text)
	})

	t.Run("wrapped tool output", func(t *testing.T) {
		line := `{"type":"response_item","payload":{"type":"function_call_output","call_id":"tc-9","output":{"content":"wrapped"}}}`
		rec := decodeLine([]byte(line), false)
		require.Equal(t, recordToolResult, rec.kind)
		assert.Equal(t, "wrapped", rec.toolOutput)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := decodeLine([]byte(`{not json`), false)
		assert.Equal(t, recordSkip, rec.kind)
	})
}

func TestMessageIDPositional(t *testing.T) {
	assert.Equal(t, "natural", messageID("natural", "sid", 3))
	assert.Equal(t, "sid:3", messageID("", "sid", 3))
}
