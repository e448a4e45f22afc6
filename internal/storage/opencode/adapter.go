// Package opencode reads OpenCode's directory store: one JSON file per
// project, session, message and message part, plus an optional SQLite
// database used by newer releases.
package opencode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/replayhq/replay/internal/search"
	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/internal/storage/cache"
	"github.com/replayhq/replay/internal/watcher"
	"github.com/replayhq/replay/pkg/models"
)

const (
	jsonExt = ".json"

	// Sessions with no registered project land in this bucket; their
	// working directory lives on the session object and is filtered by
	// containment instead of project id.
	globalProjectID = "global"

	cacheVersion  = 2
	cacheFileName = "opencode-sessions.json"
)

// Adapter implements storage.Store over the OpenCode storage layout.
type Adapter struct {
	storageDir string
	dbPath     string
	cache      *cache.Cache

	group      singleflight.Group
	parseCount atomic.Int64

	mu             sync.Mutex
	projectsLoaded bool
	projectByPath  map[string]string // normalized worktree -> project id
	worktreeByID   map[string]string

	db *dbReader
}

var (
	_ storage.Store        = (*Adapter)(nil)
	_ storage.PathResolver = (*Adapter)(nil)
	_ storage.Watchable    = (*Adapter)(nil)
)

// New creates an adapter over storageDir, looking for the SQLite database
// next to it (…/opencode/opencode.db beside …/opencode/storage).
func New(storageDir, cacheDir string) *Adapter {
	dbPath := filepath.Join(filepath.Dir(storageDir), "opencode.db")
	a := &Adapter{
		storageDir:    storageDir,
		dbPath:        dbPath,
		cache:         cache.New(filepath.Join(cacheDir, cacheFileName), cacheVersion),
		projectByPath: make(map[string]string),
		worktreeByID:  make(map[string]string),
	}
	a.db = newDBReader(dbPath)
	return a
}

// ParseCount reports how many session summaries were rebuilt from disk.
func (a *Adapter) ParseCount() int64 {
	return a.parseCount.Load()
}

// ListSessions returns the project's sessions, newest first. When the JSON
// tree yields nothing and the SQLite database exists, listing falls back to
// it (newer OpenCode releases write only the database).
func (a *Adapter) ListSessions(ctx context.Context, projectPath string) ([]models.SessionSummary, error) {
	key := "list:" + projectPath
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		summaries, err := a.listJSON(ctx, projectPath)
		if err != nil {
			return nil, err
		}
		if len(summaries) == 0 && a.db.available() {
			return a.db.sessions(ctx, projectPath)
		}
		return summaries, nil
	})
	if err != nil {
		return nil, err
	}
	// Copy before sorting; the slice is shared with deduped callers.
	summaries := append([]models.SessionSummary(nil), v.([]models.SessionSummary)...)
	sortSummaries(summaries)
	return summaries, nil
}

// ListSessionsPage paginates over the ListSessions ordering.
func (a *Adapter) ListSessionsPage(ctx context.Context, projectPath string, req storage.PageRequest) (*models.SessionPage, error) {
	all, err := a.ListSessions(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	return storage.PaginateSummaries(all, req), nil
}

// ReadMessages loads the session's messages (two directory levels: message
// files, then each message's part files), sorted by creation time, and
// returns a suffix window.
func (a *Adapter) ReadMessages(ctx context.Context, projectPath, sessionID string, win storage.MessageWindow) (*models.MessagePage, error) {
	messages, err := a.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 && a.db.available() {
		messages, err = a.db.messages(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	return storage.WindowMessages(messages, win), nil
}

// SearchSessions matches the query against session titles and message
// contents in scope.
func (a *Adapter) SearchSessions(ctx context.Context, projectPath, query string, mode storage.SearchMode) ([]models.SearchResult, error) {
	if search.NormalizeQuery(query) == "" {
		return nil, nil
	}

	refs, err := a.sessionsInScope(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].entity.Time.UpdatedTime().After(refs[j].entity.Time.UpdatedTime())
	})

	var results []models.SearchResult
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messages, err := a.loadMessages(ctx, ref.entity.ID)
		if err != nil {
			log.Debug().Err(err).Str("session", ref.entity.ID).Msg("skipping unreadable session during search")
			continue
		}
		candidate := search.Candidate{Title: ref.entity.Title, Messages: messages}
		if result, ok := search.Match(candidate, query, mode); ok {
			result.SessionID = ref.entity.ID
			results = append(results, result)
		}
	}
	return results, nil
}

// SessionPath resolves a session id to its JSON entity file. Sessions that
// exist only in the SQLite database have no file, so resolution reports
// false for them.
func (a *Adapter) SessionPath(projectPath, sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}

	if projectID, ok := a.resolveProjectID(projectPath); ok {
		path := filepath.Join(a.storageDir, "session", projectID, sessionID+jsonExt)
		if fileExists(path) {
			return path, true
		}
	}
	path := filepath.Join(a.storageDir, "session", globalProjectID, sessionID+jsonExt)
	if fileExists(path) {
		return path, true
	}
	return "", false
}

// Watch emits a debounced event whenever the storage tree changes.
func (a *Adapter) Watch(projectPath string) (<-chan storage.Event, io.Closer, error) {
	w, err := watcher.New(a.storageDir)
	if err != nil {
		return nil, nil, err
	}
	return w.Events(), w, nil
}

// sessionRef pairs a decoded session entity with its file path.
type sessionRef struct {
	path   string
	entity sessionEntity
}

// listJSON builds summaries from the JSON tree, cache-first.
func (a *Adapter) listJSON(ctx context.Context, projectPath string) ([]models.SessionSummary, error) {
	refs, err := a.sessionsInScope(ctx, projectPath)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		info, err := os.Stat(ref.path)
		if err != nil {
			continue
		}
		seen[ref.path] = struct{}{}

		mtimeMs := info.ModTime().UnixMilli()
		if summary, ok := a.cache.Lookup(ref.path, mtimeMs); ok {
			summaries = append(summaries, summary)
			continue
		}

		summary := a.buildSummary(ref, info)
		a.cache.Put(ref.path, summary, mtimeMs)
		summaries = append(summaries, summary)
	}

	a.cache.Prune(seen)
	a.cache.Save()
	return summaries, nil
}

// sessionsInScope enumerates session entity files for the project. The
// global bucket is always consulted; its sessions carry their working
// directory on the session object and are filtered by containment.
func (a *Adapter) sessionsInScope(ctx context.Context, projectPath string) ([]sessionRef, error) {
	sessionRoot := filepath.Join(a.storageDir, "session")

	var dirs []string
	if projectPath == "" {
		entries, err := os.ReadDir(sessionRoot)
		if err != nil {
			return nil, nil
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
	} else {
		if projectID, ok := a.resolveProjectID(projectPath); ok {
			dirs = append(dirs, projectID)
		}
		dirs = append(dirs, globalProjectID)
	}

	want := storage.NormalizePath(projectPath)
	var refs []sessionRef
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(sessionRoot, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
				continue
			}
			path := filepath.Join(sessionRoot, dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var sess sessionEntity
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			if dir == globalProjectID && want != "" {
				if !storage.PathContains(want, storage.NormalizePath(sess.Directory)) {
					continue
				}
			}
			refs = append(refs, sessionRef{path: path, entity: sess})
		}
	}
	return refs, nil
}

// buildSummary derives a summary from the session entity plus one pass over
// its message files. Token and cost counters are summed per message as they
// are loaded; there is no rollup record to consult.
func (a *Adapter) buildSummary(ref sessionRef, info os.FileInfo) models.SessionSummary {
	a.parseCount.Add(1)
	sess := ref.entity

	summary := models.SessionSummary{
		SessionID:  sess.ID,
		CreatedAt:  sess.Time.CreatedTime(),
		ModifiedAt: info.ModTime(),
		SizeBytes:  info.Size(),
	}

	if sess.Directory != "" {
		summary.ProjectPath = storage.NormalizePath(sess.Directory)
	} else {
		summary.ProjectPath = a.worktreeFor(filepath.Base(filepath.Dir(ref.path)))
	}

	var (
		firstUserID       string
		firstAssistantID  string
		firstMsg, lastMsg int64
		model             string
	)

	messageDir := filepath.Join(a.storageDir, "message", sess.ID)
	entries, err := os.ReadDir(messageDir)
	if err == nil {
		msgs := make([]messageEntity, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(messageDir, e.Name()))
			if err != nil {
				continue
			}
			var msg messageEntity
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			msgs = append(msgs, msg)
		}
		sortEntities(msgs)

		for _, msg := range msgs {
			summary.MessageCount++
			if msg.Tokens != nil {
				usage := models.TokenUsage{
					InputTokens:     msg.Tokens.Input,
					OutputTokens:    msg.Tokens.Output,
					ReasoningTokens: msg.Tokens.Reasoning,
				}
				if msg.Tokens.Cache != nil {
					usage.CachedInputTokens = msg.Tokens.Cache.Read
					usage.CacheWriteTokens = msg.Tokens.Cache.Write
				}
				summary.Usage.Add(usage)
			}
			summary.CostUSD += msg.Cost
			if msg.ModelID != "" {
				model = msg.ModelID
			}

			created := msg.Time.Created
			if created > 0 {
				if firstMsg == 0 || created < firstMsg {
					firstMsg = created
				}
				if created > lastMsg {
					lastMsg = created
				}
			}
			if firstUserID == "" && msg.Role == "user" {
				firstUserID = msg.ID
			}
			if firstAssistantID == "" && msg.Role == "assistant" {
				firstAssistantID = msg.ID
			}
		}
	}

	if summary.CostUSD == 0 && summary.Usage.Total() > 0 {
		summary.CostUSD = storage.CostUSD(model, summary.Usage)
	}
	if firstMsg > 0 && lastMsg > firstMsg {
		summary.DurationSeconds = (lastMsg - firstMsg) / 1000
	}

	preview := a.partsText(firstAssistantID)
	if preview == "" {
		preview = a.partsText(firstUserID)
	}
	if preview == "" {
		preview = sess.Title
	}
	summary.Preview = truncatePreview(preview)

	return summary
}

// loadMessages enumerates message files and each message's part files,
// sorting by recorded creation time since directory order is arbitrary.
func (a *Adapter) loadMessages(ctx context.Context, sessionID string) ([]models.SessionMessage, error) {
	messageDir := filepath.Join(a.storageDir, "message", sessionID)
	entries, err := os.ReadDir(messageDir)
	if err != nil {
		return nil, nil
	}

	msgs := make([]messageEntity, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(messageDir, e.Name()))
		if err != nil {
			continue
		}
		var msg messageEntity
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		msgs = append(msgs, msg)
	}
	sortEntities(msgs)

	out := make([]models.SessionMessage, 0, len(msgs))
	for _, msg := range msgs {
		parts := a.loadParts(msg.ID)

		var texts []string
		var toolUses []models.ToolUse
		for _, part := range parts {
			switch part.Type {
			case "text":
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
			case "tool":
				toolUses = append(toolUses, models.ToolUse{
					ID:     part.CallID,
					Name:   part.Tool,
					Input:  part.State.inputString(),
					Output: part.State.outputString(),
				})
			}
		}

		out = append(out, models.SessionMessage{
			UUID:      msg.ID,
			Role:      models.Role(msg.Role),
			Content:   strings.Join(texts, "\n"),
			Timestamp: msg.Time.CreatedTime(),
			ToolUses:  toolUses,
		})
	}
	return out, nil
}

// loadParts reads a message's part files in id order. Part ids are
// monotonic, so id order matches write order.
func (a *Adapter) loadParts(messageID string) []partEntity {
	if messageID == "" {
		return nil
	}
	partDir := filepath.Join(a.storageDir, "part", messageID)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		return nil
	}

	parts := make([]partEntity, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(partDir, e.Name()))
		if err != nil {
			continue
		}
		var part partEntity
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts
}

func (a *Adapter) partsText(messageID string) string {
	var texts []string
	for _, part := range a.loadParts(messageID) {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// resolveProjectID maps a working directory to a stored project id: exact
// worktree match, then containment in either direction, then the
// content-hash fallback id for paths never registered as projects.
func (a *Adapter) resolveProjectID(projectPath string) (string, bool) {
	want := storage.NormalizePath(projectPath)
	if want == "" {
		return "", false
	}
	a.loadProjects()

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.projectByPath[want]; ok {
		return id, true
	}
	for worktree, id := range a.projectByPath {
		if storage.PathContains(worktree, want) || storage.PathContains(want, worktree) {
			return id, true
		}
	}

	hashed := hashProjectID(want)
	if dirExists(filepath.Join(a.storageDir, "session", hashed)) {
		return hashed, true
	}
	return "", false
}

func (a *Adapter) loadProjects() {
	a.mu.Lock()
	if a.projectsLoaded {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	projectDir := filepath.Join(a.storageDir, "project")
	entries, err := os.ReadDir(projectDir)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.projectsLoaded = true
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(projectDir, e.Name()))
		if err != nil {
			continue
		}
		var proj projectEntity
		if err := json.Unmarshal(data, &proj); err != nil {
			continue
		}
		if proj.Worktree == "" || proj.Worktree == "/" {
			continue
		}
		worktree := storage.NormalizePath(proj.Worktree)
		a.projectByPath[worktree] = proj.ID
		a.worktreeByID[proj.ID] = worktree
	}
}

func (a *Adapter) worktreeFor(projectID string) string {
	a.loadProjects()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.worktreeByID[projectID]
}

// hashProjectID is the fallback project id for unregistered paths: the
// first 16 hex characters of the path's SHA-256.
func hashProjectID(normalizedPath string) string {
	sum := sha256.Sum256([]byte(normalizedPath))
	return hex.EncodeToString(sum[:])[:16]
}

func truncatePreview(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= 120 {
		return s
	}
	return string(runes[:120]) + "…"
}

func sortEntities(msgs []messageEntity) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Time.Created == msgs[j].Time.Created {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Time.Created < msgs[j].Time.Created
	})
}

func sortSummaries(summaries []models.SessionSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].ModifiedAt.Equal(summaries[j].ModifiedAt) {
			return summaries[i].SessionID > summaries[j].SessionID
		}
		return summaries[i].ModifiedAt.After(summaries[j].ModifiedAt)
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
