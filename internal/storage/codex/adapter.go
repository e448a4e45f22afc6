// Package codex reads Codex CLI rollout logs: date-partitioned JSONL files
// under <root>/YYYY/MM/DD, one file per session.
package codex

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/replayhq/replay/internal/search"
	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/internal/storage/cache"
	"github.com/replayhq/replay/internal/watcher"
	"github.com/replayhq/replay/pkg/models"
)

const (
	rolloutPrefix = "rollout-"
	rolloutExt    = ".jsonl"

	// Bumped whenever summary derivation changes; a bump discards every
	// cached preview on the next listing.
	cacheVersion  = 3
	cacheFileName = "codex-sessions.json"
)

var (
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
	monthPattern = regexp.MustCompile(`^\d{2}$`)
)

// Adapter implements storage.Store over the rollout format. Each instance
// owns its summary cache; there is no shared mutable state between
// adapters.
type Adapter struct {
	root  string
	cache *cache.Cache

	group      singleflight.Group
	parseCount atomic.Int64
}

var (
	_ storage.Store        = (*Adapter)(nil)
	_ storage.PathResolver = (*Adapter)(nil)
	_ storage.Watchable    = (*Adapter)(nil)
)

// New creates a codex adapter rooted at root, persisting its summary cache
// under cacheDir.
func New(root, cacheDir string) *Adapter {
	return &Adapter{
		root:  root,
		cache: cache.New(filepath.Join(cacheDir, cacheFileName), cacheVersion),
	}
}

// ParseCount reports how many full file parses have run; listings served
// entirely from cache do not increase it.
func (a *Adapter) ParseCount() int64 {
	return a.parseCount.Load()
}

// ListSessions returns the sessions whose working directory matches
// projectPath, newest first. An empty projectPath lists every session.
func (a *Adapter) ListSessions(ctx context.Context, projectPath string) ([]models.SessionSummary, error) {
	all, err := a.listAll(ctx)
	if err != nil {
		return nil, err
	}

	want := storage.NormalizePath(projectPath)
	var out []models.SessionSummary
	for _, s := range all {
		if want != "" && s.ProjectPath != want {
			continue
		}
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}

// ListSessionsPage paginates over the ListSessions ordering.
func (a *Adapter) ListSessionsPage(ctx context.Context, projectPath string, req storage.PageRequest) (*models.SessionPage, error) {
	all, err := a.ListSessions(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	return storage.PaginateSummaries(all, req), nil
}

// ReadMessages re-parses the session file and returns a suffix window of
// its canonical messages. Unknown sessions yield an empty page.
func (a *Adapter) ReadMessages(ctx context.Context, projectPath, sessionID string, win storage.MessageWindow) (*models.MessagePage, error) {
	path, ok := a.findSessionFile(sessionID)
	if !ok {
		return &models.MessagePage{}, nil
	}

	d, err := a.parseFile(path)
	if err != nil {
		return nil, err
	}
	return storage.WindowMessages(d.messages, win), nil
}

// SearchSessions scans every session in scope for a case-insensitive
// substring match. Blank queries return nothing without touching disk.
func (a *Adapter) SearchSessions(ctx context.Context, projectPath, query string, mode storage.SearchMode) ([]models.SearchResult, error) {
	if search.NormalizeQuery(query) == "" {
		return nil, nil
	}

	summaries, err := a.ListSessions(ctx, projectPath)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	for _, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, ok := a.findSessionFile(summary.SessionID)
		if !ok {
			continue
		}
		d, err := a.parseFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping unreadable rollout during search")
			continue
		}
		candidate := search.Candidate{Title: summary.Preview, Messages: d.messages}
		if result, ok := search.Match(candidate, query, mode); ok {
			result.SessionID = summary.SessionID
			results = append(results, result)
		}
	}
	return results, nil
}

// SessionPath resolves a session id to its rollout file. Resolution is
// filename-based with a cache-assisted fallback, so it needs no parsing.
func (a *Adapter) SessionPath(projectPath, sessionID string) (string, bool) {
	return a.findSessionFile(sessionID)
}

// Watch emits a debounced event whenever anything under the sessions root
// changes.
func (a *Adapter) Watch(projectPath string) (<-chan storage.Event, io.Closer, error) {
	w, err := watcher.New(a.root)
	if err != nil {
		return nil, nil, err
	}
	return w.Events(), w, nil
}

// listAll produces summaries for every rollout file, serving unchanged
// files from the cache. Concurrent callers share one walk.
func (a *Adapter) listAll(ctx context.Context) ([]models.SessionSummary, error) {
	v, err, _ := a.group.Do("list", func() (interface{}, error) {
		files := a.discoverFiles()

		summaries := make([]models.SessionSummary, 0, len(files))
		seen := make(map[string]struct{}, len(files))
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			seen[path] = struct{}{}

			mtimeMs := info.ModTime().UnixMilli()
			if summary, ok := a.cache.Lookup(path, mtimeMs); ok {
				summaries = append(summaries, summary)
				continue
			}

			summary, err := a.buildSummary(path, info)
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("skipping unreadable rollout")
				continue
			}
			a.cache.Put(path, summary, mtimeMs)
			summaries = append(summaries, summary)
		}

		a.cache.Prune(seen)
		a.cache.Save()
		return summaries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.SessionSummary), nil
}

// discoverFiles walks the three-level date tree, filtering directory names
// against strict numeric patterns and skipping anything unreadable.
func (a *Adapter) discoverFiles() []string {
	var files []string

	years, err := os.ReadDir(a.root)
	if err != nil {
		return nil
	}
	for _, year := range years {
		if !year.IsDir() || !yearPattern.MatchString(year.Name()) {
			continue
		}
		yearDir := filepath.Join(a.root, year.Name())
		months, err := os.ReadDir(yearDir)
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() || !monthPattern.MatchString(month.Name()) {
				continue
			}
			monthDir := filepath.Join(yearDir, month.Name())
			days, err := os.ReadDir(monthDir)
			if err != nil {
				continue
			}
			for _, day := range days {
				if !day.IsDir() || !monthPattern.MatchString(day.Name()) {
					continue
				}
				dayDir := filepath.Join(monthDir, day.Name())
				entries, err := os.ReadDir(dayDir)
				if err != nil {
					continue
				}
				for _, entry := range entries {
					if entry.IsDir() || !strings.HasSuffix(entry.Name(), rolloutExt) {
						continue
					}
					files = append(files, filepath.Join(dayDir, entry.Name()))
				}
			}
		}
	}

	sort.Strings(files)
	return files
}

func (a *Adapter) buildSummary(path string, info os.FileInfo) (models.SessionSummary, error) {
	d, err := a.parseFile(path)
	if err != nil {
		return models.SessionSummary{}, err
	}

	created := d.startedAt
	if created.IsZero() {
		created = timestampFromFilename(filepath.Base(path))
	}
	if created.IsZero() {
		created = d.firstTS
	}

	var durationSeconds int64
	if !d.firstTS.IsZero() && d.lastTS.After(d.firstTS) {
		durationSeconds = int64(d.lastTS.Sub(d.firstTS).Seconds())
	}

	return models.SessionSummary{
		SessionID:       d.sessionID,
		ProjectPath:     storage.NormalizePath(d.cwd),
		CreatedAt:       created,
		ModifiedAt:      info.ModTime(),
		Preview:         truncateRunes(d.preview(), previewMaxRunes),
		MessageCount:    len(d.messages),
		SizeBytes:       info.Size(),
		Usage:           d.usage,
		CostUSD:         storage.CostUSD(d.model, d.usage),
		DurationSeconds: durationSeconds,
	}, nil
}

func (a *Adapter) parseFile(path string) (*rolloutData, error) {
	a.parseCount.Add(1)
	return parseRollout(path, sessionIDFromFilename(filepath.Base(path)))
}

// findSessionFile locates the rollout file for a session id, first by
// filename, then by the meta record of files named before the uuid scheme.
func (a *Adapter) findSessionFile(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	files := a.discoverFiles()
	for _, path := range files {
		if sessionIDFromFilename(filepath.Base(path)) == sessionID {
			return path, true
		}
	}
	for _, path := range files {
		if meta := readHeadMeta(path); meta != nil && meta.ID == sessionID {
			return path, true
		}
	}
	return "", false
}

func sortSummaries(summaries []models.SessionSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].ModifiedAt.Equal(summaries[j].ModifiedAt) {
			return summaries[i].SessionID > summaries[j].SessionID
		}
		return summaries[i].ModifiedAt.After(summaries[j].ModifiedAt)
	})
}
