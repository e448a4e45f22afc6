package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayhq/replay/internal/storage"
)

func waitForEvent(t *testing.T, events <-chan storage.Event) storage.Event {
	t.Helper()
	select {
	case evt, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return storage.Event{}
	}
}

func TestWatcherEmitsDebouncedEvent(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	// A burst of writes must collapse into a bounded number of events.
	path := filepath.Join(dir, "session.jsonl")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("line\n"), 0o644))
	}

	evt := waitForEvent(t, w.Events())
	assert.Contains(t, []storage.EventOp{storage.EventCreated, storage.EventModified}, evt.Op)
	assert.Equal(t, path, evt.Path)
}

func TestWatcherFollowsNewSubdirectories(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "2026")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	waitForEvent(t, w.Events())

	// Writes inside the new directory must be observed too.
	require.NoError(t, os.WriteFile(filepath.Join(sub, "log.jsonl"), []byte("x\n"), 0o644))
	evt := waitForEvent(t, w.Events())
	assert.Contains(t, evt.Path, sub)
}

func TestWatcherSkipsMissingDirs(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	w, err := New(missing)
	require.NoError(t, err, "missing log roots are not an error")
	require.NoError(t, w.Close())
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok, "event channel must close")
}
