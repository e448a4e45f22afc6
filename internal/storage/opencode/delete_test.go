package opencode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayhq/replay/internal/storage"
)

// seedExchanges writes a session with two exchanges. The first assistant
// turn introduces call_1; a later assistant turn still references call_1,
// which becomes an orphan when the first exchange is deleted.
func (f *fixture) seedExchanges(t *testing.T) {
	f.writeProject(t, "proj_1", f.projectDir)
	f.writeSession(t, "proj_1", sessionEntity{
		ID:        "ses_1",
		ProjectID: "proj_1",
		Title:     "two exchanges",
		Time:      timePair{Created: 1700000000000},
	})

	f.writeMessage(t, messageEntity{ID: "msg_1", SessionID: "ses_1", Role: "user", Time: timePair{Created: 1700000001000}})
	f.writeTextPart(t, "msg_1", "prt_1", "run the linter")

	f.writeMessage(t, messageEntity{ID: "msg_2", SessionID: "ses_1", Role: "assistant", Time: timePair{Created: 1700000002000}})
	f.writeTextPart(t, "msg_2", "prt_1", "running it now")
	f.writeToolPart(t, "msg_2", "prt_2", "call_1", "bash")

	f.writeMessage(t, messageEntity{ID: "msg_3", SessionID: "ses_1", Role: "user", Time: timePair{Created: 1700000003000}})
	f.writeTextPart(t, "msg_3", "prt_1", "now fix the findings")

	f.writeMessage(t, messageEntity{ID: "msg_4", SessionID: "ses_1", Role: "assistant", Time: timePair{Created: 1700000004000}})
	f.writeTextPart(t, "msg_4", "prt_1", "fixed")
	f.writeToolPart(t, "msg_4", "prt_2", "call_1", "bash")
}

func TestDeleteExchangeRemovesSpanAndOrphans(t *testing.T) {
	f := newFixture(t)
	f.seedExchanges(t)

	// msg_1 file + its part, msg_2 file + two parts, plus the orphaned
	// call_1 part under msg_4.
	result, err := f.adapter.DeleteExchange(context.Background(), f.projectDir, "ses_1", "msg_1", "")
	require.NoError(t, err)
	assert.Equal(t, 6, result.RecordsRemoved)

	page, err := f.adapter.ReadMessages(context.Background(), f.projectDir, "ses_1", storage.MessageWindow{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "msg_3", page.Messages[0].UUID)
	assert.Equal(t, "msg_4", page.Messages[1].UUID)
	assert.Empty(t, page.Messages[1].ToolUses, "orphaned tool part must be gone")

	_, err = os.Stat(filepath.Join(f.storageDir, "message", "ses_1", "msg_1.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.storageDir, "part", "msg_2", "prt_2.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.storageDir, "part", "msg_4", "prt_1.json"))
	assert.NoError(t, err, "unrelated parts stay")
}

func TestDeleteExchangeContentFallback(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "proj_1", f.projectDir)
	f.writeSession(t, "proj_1", sessionEntity{
		ID:        "ses_1",
		ProjectID: "proj_1",
		Time:      timePair{Created: 1700000000000},
	})

	f.writeMessage(t, messageEntity{ID: "msg_1", SessionID: "ses_1", Role: "user", Time: timePair{Created: 1700000001000}})
	f.writeTextPart(t, "msg_1", "prt_1", "try again")
	f.writeMessage(t, messageEntity{ID: "msg_2", SessionID: "ses_1", Role: "assistant", Time: timePair{Created: 1700000002000}})
	f.writeTextPart(t, "msg_2", "prt_1", "first try")
	f.writeMessage(t, messageEntity{ID: "msg_3", SessionID: "ses_1", Role: "user", Time: timePair{Created: 1700000003000}})
	f.writeTextPart(t, "msg_3", "prt_1", "try again")
	f.writeMessage(t, messageEntity{ID: "msg_4", SessionID: "ses_1", Role: "assistant", Time: timePair{Created: 1700000004000}})
	f.writeTextPart(t, "msg_4", "prt_1", "second try")

	// Unknown id, duplicate content: the most recent occurrence goes.
	_, err := f.adapter.DeleteExchange(context.Background(), f.projectDir, "ses_1", "nope", " TRY AGAIN ")
	require.NoError(t, err)

	page, err := f.adapter.ReadMessages(context.Background(), f.projectDir, "ses_1", storage.MessageWindow{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "msg_1", page.Messages[0].UUID)
	assert.Equal(t, "msg_2", page.Messages[1].UUID)
}

func TestDeleteExchangeErrors(t *testing.T) {
	f := newFixture(t)
	f.seedExchanges(t)

	_, err := f.adapter.DeleteExchange(context.Background(), f.projectDir, "missing", "msg_1", "")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = f.adapter.DeleteExchange(context.Background(), f.projectDir, "ses_1", "missing", "no such text")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}

func TestDeleteExchangeInvalidatesListing(t *testing.T) {
	f := newFixture(t)
	f.seedExchanges(t)

	before, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, 4, before[0].MessageCount)

	_, err = f.adapter.DeleteExchange(context.Background(), f.projectDir, "ses_1", "msg_3", "")
	require.NoError(t, err)

	after, err := f.adapter.ListSessions(context.Background(), f.projectDir)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 2, after[0].MessageCount)
}
