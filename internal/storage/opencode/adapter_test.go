package opencode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/pkg/models"
)

type fixture struct {
	adapter    *Adapter
	storageDir string
	projectDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	storageDir := filepath.Join(root, "storage")
	require.NoError(t, os.MkdirAll(storageDir, 0o755))
	return &fixture{
		adapter:    New(storageDir, t.TempDir()),
		storageDir: storageDir,
		projectDir: t.TempDir(),
	}
}

func (f *fixture) writeJSON(t *testing.T, parts []string, v interface{}) string {
	t.Helper()
	path := filepath.Join(append([]string{f.storageDir}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func (f *fixture) writeProject(t *testing.T, id, worktree string) {
	f.writeJSON(t, []string{"project", id + ".json"}, projectEntity{
		ID:       id,
		Worktree: worktree,
		Time:     timePair{Created: 1700000000000},
	})
}

func (f *fixture) writeSession(t *testing.T, projectID string, sess sessionEntity) string {
	return f.writeJSON(t, []string{"session", projectID, sess.ID + ".json"}, sess)
}

func (f *fixture) writeMessage(t *testing.T, msg messageEntity) string {
	return f.writeJSON(t, []string{"message", msg.SessionID, msg.ID + ".json"}, msg)
}

func (f *fixture) writeTextPart(t *testing.T, messageID, partID, text string) string {
	return f.writeJSON(t, []string{"part", messageID, partID + ".json"}, partEntity{
		ID:        partID,
		MessageID: messageID,
		Type:      "text",
		Text:      text,
	})
}

func (f *fixture) writeToolPart(t *testing.T, messageID, partID, callID, tool string) string {
	return f.writeJSON(t, []string{"part", messageID, partID + ".json"}, partEntity{
		ID:        partID,
		MessageID: messageID,
		Type:      "tool",
		CallID:    callID,
		Tool:      tool,
		State: &partState{
			Status: "completed",
			Input:  json.RawMessage(`"{\"command\":\"ls\"}"`),
			Output: json.RawMessage(`"file list"`),
		},
	})
}

// seedSession writes one project-scoped session with a user turn and an
// assistant turn carrying tokens, cost and a tool part.
func (f *fixture) seedSession(t *testing.T) {
	f.writeProject(t, "proj_1", f.projectDir)
	f.writeSession(t, "proj_1", sessionEntity{
		ID:        "ses_1",
		ProjectID: "proj_1",
		Title:     "Investigate flaky watcher test",
		Time:      timePair{Created: 1700000100000, Updated: 1700000200000},
	})
	f.writeMessage(t, messageEntity{
		ID:        "msg_1",
		SessionID: "ses_1",
		Role:      "user",
		Time:      timePair{Created: 1700000100000},
	})
	f.writeTextPart(t, "msg_1", "prt_1", "why does the watcher test flake")
	f.writeMessage(t, messageEntity{
		ID:         "msg_2",
		SessionID:  "ses_1",
		Role:       "assistant",
		ModelID:    "claude-sonnet-4",
		ProviderID: "anthropic",
		Cost:       0.0123,
		Tokens: &messageTokens{
			Input:  500,
			Output: 200,
			Cache:  &cacheTokens{Read: 100, Write: 50},
		},
		Time: timePair{Created: 1700000160000},
	})
	f.writeTextPart(t, "msg_2", "prt_1", "the debounce window is too short")
	f.writeToolPart(t, "msg_2", "prt_2", "call_1", "bash")
}

func TestListSessionsSummary(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)

	sessions, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, "ses_1", s.SessionID)
	assert.Equal(t, storage.NormalizePath(f.projectDir), s.ProjectPath)
	assert.Equal(t, "the debounce window is too short", s.Preview)
	assert.Equal(t, 2, s.MessageCount)
	assert.Equal(t, int64(500), s.Usage.InputTokens)
	assert.Equal(t, int64(200), s.Usage.OutputTokens)
	assert.Equal(t, int64(100), s.Usage.CachedInputTokens)
	assert.Equal(t, int64(50), s.Usage.CacheWriteTokens)
	assert.InDelta(t, 0.0123, s.CostUSD, 1e-9)
	assert.Equal(t, int64(60), s.DurationSeconds)
}

func TestListSessionsGlobalBucketFiltering(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)
	otherDir := t.TempDir()
	subDir := filepath.Join(f.projectDir, "sub")
	require.NoError(t, os.MkdirAll(subDir, 0o755))

	f.writeSession(t, globalProjectID, sessionEntity{
		ID:        "ses_inside",
		Directory: subDir,
		Title:     "inside",
		Time:      timePair{Created: 1700000300000},
	})
	f.writeSession(t, globalProjectID, sessionEntity{
		ID:        "ses_outside",
		Directory: otherDir,
		Title:     "outside",
		Time:      timePair{Created: 1700000400000},
	})

	sessions, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	assert.Contains(t, ids, "ses_1")
	assert.Contains(t, ids, "ses_inside")
	assert.NotContains(t, ids, "ses_outside")
}

func TestListSessionsHashedProjectFallback(t *testing.T) {
	f := newFixture(t)

	// No project entity: the session dir is named by the path hash.
	hashed := hashProjectID(storage.NormalizePath(f.projectDir))
	f.writeSession(t, hashed, sessionEntity{
		ID:    "ses_hashed",
		Title: "hashed bucket session",
		Time:  timePair{Created: 1700000100000},
	})

	sessions, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ses_hashed", sessions[0].SessionID)
}

func TestListSessionsCacheReuse(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)

	_, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	first := f.adapter.ParseCount()
	assert.Equal(t, int64(1), first)

	_, err = f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	assert.Equal(t, first, f.adapter.ParseCount(), "unchanged session file must be served from cache")
}

func TestReadMessages(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)

	page, err := f.adapter.ReadMessages(context.Background(), f.projectDir, "ses_1", storage.MessageWindow{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)

	user := page.Messages[0]
	assert.Equal(t, "msg_1", user.UUID)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "why does the watcher test flake", user.Content)

	aiMsg := page.Messages[1]
	assert.Equal(t, models.RoleAssistant, aiMsg.Role)
	assert.Equal(t, "the debounce window is too short", aiMsg.Content)
	require.Len(t, aiMsg.ToolUses, 1)
	assert.Equal(t, "call_1", aiMsg.ToolUses[0].ID)
	assert.Equal(t, "bash", aiMsg.ToolUses[0].Name)
	assert.Equal(t, `{"command":"ls"}`, aiMsg.ToolUses[0].Input)
	assert.Equal(t, "file list", aiMsg.ToolUses[0].Output)
}

func TestReadMessagesUnknownSession(t *testing.T) {
	f := newFixture(t)

	page, err := f.adapter.ReadMessages(context.Background(), f.projectDir, "missing", storage.MessageWindow{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestSearchSessions(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)

	tests := []struct {
		name      string
		query     string
		mode      storage.SearchMode
		wantHits  int
		wantMatch models.MatchType
	}{
		{name: "title match", query: "flaky watcher", mode: storage.SearchTitle, wantHits: 1, wantMatch: models.MatchTitle},
		{name: "user match", query: "test flake", mode: storage.SearchUser, wantHits: 1, wantMatch: models.MatchUser},
		{name: "assistant match", query: "debounce", mode: storage.SearchAssistant, wantHits: 1, wantMatch: models.MatchAssistant},
		{name: "no match", query: "postgres", mode: storage.SearchAll, wantHits: 0},
		{name: "blank query", query: "  ", mode: storage.SearchAll, wantHits: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := f.adapter.SearchSessions(context.Background(), f.projectDir, tt.query, tt.mode)
			require.NoError(t, err)
			require.Len(t, results, tt.wantHits)
			if tt.wantHits > 0 {
				assert.Equal(t, "ses_1", results[0].SessionID)
				assert.Equal(t, tt.wantMatch, results[0].MatchType)
			}
		})
	}
}

func TestSessionPath(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t)

	path, ok := f.adapter.SessionPath(f.projectDir, "ses_1")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.storageDir, "session", "proj_1", "ses_1.json"), path)

	_, ok = f.adapter.SessionPath(f.projectDir, "missing")
	assert.False(t, ok)
}

func TestResolveProjectIDContainment(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "proj_1", f.projectDir)

	nested := filepath.Join(f.projectDir, "internal", "storage")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	id, ok := f.adapter.resolveProjectID(nested)
	require.True(t, ok)
	assert.Equal(t, "proj_1", id)
}
