// Package cache persists parsed session summaries keyed by file path and
// mtime, so unchanged session logs are never re-parsed.
package cache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/replayhq/replay/pkg/models"
)

// Entry pairs a cached summary with the mtime of the file it was parsed
// from. The entry is valid only while the on-disk mtime still matches.
type Entry struct {
	Summary     models.SessionSummary `json:"summary"`
	FileMtimeMs int64                 `json:"file_mtime_ms"`
}

type fileFormat struct {
	Version         int              `json:"version"`
	LastProcessedAt time.Time        `json:"last_processed_at"`
	Sessions        map[string]Entry `json:"sessions"`
}

// Cache is an in-memory summary cache backed by a single JSON file. Each
// adapter owns one instance; there is no ambient global state. The version
// is stamped by the adapter and bumped whenever summary derivation changes
// in a way that would make stale cached previews wrong — a mismatch
// invalidates the whole file.
type Cache struct {
	path    string
	version int

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// New loads the cache file at path, treating any read or decode failure, or
// a version mismatch, as an empty cache. The cache is a pure performance
// optimisation and must never fail a read path.
func New(path string, version int) *Cache {
	c := &Cache{
		path:    path,
		version: version,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("discarding unreadable session cache")
		return c
	}
	if f.Version != version {
		log.Debug().Int("have", f.Version).Int("want", version).Msg("discarding session cache after version change")
		return c
	}
	if f.Sessions != nil {
		c.entries = f.Sessions
	}
	return c
}

// Lookup returns the cached summary for filePath when its recorded mtime
// matches mtimeMs.
func (c *Cache) Lookup(filePath string, mtimeMs int64) (models.SessionSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[filePath]
	if !ok || entry.FileMtimeMs != mtimeMs {
		return models.SessionSummary{}, false
	}
	return entry.Summary, true
}

// Put records a freshly parsed summary.
func (c *Cache) Put(filePath string, summary models.SessionSummary, mtimeMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[filePath] = Entry{Summary: summary, FileMtimeMs: mtimeMs}
	c.dirty = true
}

// Prune drops entries whose backing file no longer appeared in a listing.
func (c *Cache) Prune(seen map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if _, ok := seen[path]; !ok {
			delete(c.entries, path)
			c.dirty = true
		}
	}
}

// Invalidate drops the entry for filePath, if any.
func (c *Cache) Invalidate(filePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[filePath]; ok {
		delete(c.entries, filePath)
		c.dirty = true
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache file when anything changed since the last save.
// Failures are logged and swallowed; they never surface to callers.
func (c *Cache) Save() {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	f := fileFormat{
		Version:         c.version,
		LastProcessedAt: time.Now().UTC(),
		Sessions:        make(map[string]Entry, len(c.entries)),
	}
	for path, entry := range c.entries {
		f.Sessions[path] = entry
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode session cache")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", c.path).Msg("failed to create cache directory")
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", c.path).Msg("failed to write session cache")
	}
}
