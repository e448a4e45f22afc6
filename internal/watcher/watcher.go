// Package watcher turns fsnotify events on agent log directories into
// debounced storage change events, so listings can be refreshed without
// polling.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/replayhq/replay/internal/storage"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher monitors a set of directories and emits one debounced event per
// burst of filesystem activity. New subdirectories are added to the watch
// as they appear, which covers date-partitioned layouts that grow a fresh
// directory every day.
type Watcher struct {
	events   chan storage.Event
	fsw      *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	debounce time.Duration

	mu     sync.Mutex
	closed bool
}

// New starts watching the given directories. Directories that do not exist
// yet are skipped silently; agent log roots may legitimately not exist.
func New(dirs ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		events:   make(chan storage.Event, 16),
		fsw:      fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: defaultDebounce,
	}

	for _, dir := range dirs {
		w.addTree(dir)
	}

	go w.loop()
	return w, nil
}

// Events returns the debounced event channel. It is closed by Close.
func (w *Watcher) Events() <-chan storage.Event {
	return w.events
}

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.cancel()
	return w.fsw.Close()
}

// addTree registers dir and every subdirectory beneath it.
func (w *Watcher) addTree(root string) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				log.Debug().Err(addErr).Str("path", path).Msg("failed to watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending storage.Event
	)
	defer close(w.events)

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			op := classify(event.Op)
			if op == "" {
				continue
			}

			// Newly created directories join the watch so future writes
			// inside them are seen.
			if op == storage.EventCreated {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}

			pending = storage.Event{Op: op, Path: event.Name, Time: time.Now()}
			if timer != nil {
				timer.Stop()
			}
			evt := pending
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case w.events <- evt:
				case <-w.ctx.Done():
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("session watcher error")
		}
	}
}

func classify(op fsnotify.Op) storage.EventOp {
	switch {
	case op&fsnotify.Create != 0:
		return storage.EventCreated
	case op&fsnotify.Write != 0:
		return storage.EventModified
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return storage.EventRemoved
	}
	return ""
}
