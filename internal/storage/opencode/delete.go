package opencode

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/replayhq/replay/internal/storage"
)

// messageFile pairs a decoded message entity with its file path so the
// deletion path can remove exactly the files it classified.
type messageFile struct {
	path   string
	entity messageEntity
}

// DeleteExchange removes a user message and every reply up to the next user
// message: the message files, their part files, and any tool part elsewhere
// in the session that references a removed call id. Sessions that live only
// in the SQLite database are handled there.
func (a *Adapter) DeleteExchange(ctx context.Context, projectPath, sessionID, messageID, fallbackContent string) (*storage.DeleteResult, error) {
	sessionFile, ok := a.SessionPath(projectPath, sessionID)
	if !ok {
		if a.db.available() {
			return a.db.deleteExchange(ctx, sessionID, messageID, fallbackContent)
		}
		return nil, storage.ErrSessionNotFound
	}

	msgs, err := a.readMessageFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target := a.findTarget(msgs, messageID, fallbackContent)
	if target < 0 {
		return nil, storage.ErrMessageNotFound
	}

	end := len(msgs)
	for i := target + 1; i < len(msgs); i++ {
		if msgs[i].entity.Role == "user" {
			end = i
			break
		}
	}

	removedCalls := make(map[string]struct{})
	for i := target; i < end; i++ {
		for _, part := range a.loadParts(msgs[i].entity.ID) {
			if part.Type == "tool" && part.CallID != "" {
				removedCalls[part.CallID] = struct{}{}
			}
		}
	}

	removed := 0
	for i := target; i < end; i++ {
		removed += a.removeMessage(msgs[i])
	}

	// Tool parts outside the span can reference a call id that no longer
	// resolves; drop those too.
	if len(removedCalls) > 0 {
		for i, m := range msgs {
			if i >= target && i < end {
				continue
			}
			removed += a.removeOrphanParts(m.entity.ID, removedCalls)
		}
	}

	a.cache.Invalidate(sessionFile)
	log.Info().
		Str("session", sessionID).
		Str("message", messageID).
		Int("removed", removed).
		Msg("deleted exchange")

	return &storage.DeleteResult{RecordsRemoved: removed}, nil
}

// readMessageFiles loads the session's message entities with their file
// paths, in creation order.
func (a *Adapter) readMessageFiles(ctx context.Context, sessionID string) ([]messageFile, error) {
	messageDir := filepath.Join(a.storageDir, "message", sessionID)
	entries, err := os.ReadDir(messageDir)
	if err != nil {
		return nil, nil
	}

	msgs := make([]messageFile, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		path := filepath.Join(messageDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg messageEntity
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msgs = append(msgs, messageFile{path: path, entity: msg})
	}

	entities := make([]messageEntity, len(msgs))
	for i, m := range msgs {
		entities[i] = m.entity
	}
	sortEntities(entities)
	byID := make(map[string]messageFile, len(msgs))
	for _, m := range msgs {
		byID[m.entity.ID] = m
	}
	ordered := make([]messageFile, 0, len(entities))
	for _, e := range entities {
		ordered = append(ordered, byID[e.ID])
	}
	return ordered, nil
}

// findTarget locates the user message to delete: by id first, then by
// fallback content. The content scan runs backward so duplicate prompts
// resolve to the most recent occurrence.
func (a *Adapter) findTarget(msgs []messageFile, messageID, fallbackContent string) int {
	for i, m := range msgs {
		if m.entity.Role == "user" && m.entity.ID == messageID {
			return i
		}
	}
	want := strings.TrimSpace(fallbackContent)
	if want == "" {
		return -1
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].entity.Role != "user" {
			continue
		}
		content := strings.TrimSpace(a.partsText(msgs[i].entity.ID))
		if strings.EqualFold(content, want) {
			return i
		}
	}
	return -1
}

// removeMessage deletes the message file and its part files, returning the
// number of files removed. Failures are logged and skipped so one
// undeletable file does not abort the exchange.
func (a *Adapter) removeMessage(m messageFile) int {
	removed := 0

	partDir := filepath.Join(a.storageDir, "part", m.entity.ID)
	if entries, err := os.ReadDir(partDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(partDir, e.Name())); err != nil {
				log.Warn().Err(err).Str("part", e.Name()).Msg("failed to remove part file")
				continue
			}
			removed++
		}
		os.Remove(partDir)
	}

	if err := os.Remove(m.path); err != nil {
		log.Warn().Err(err).Str("message", m.entity.ID).Msg("failed to remove message file")
	} else {
		removed++
	}
	return removed
}

// removeOrphanParts deletes the message's tool parts whose call id was
// removed with the exchange.
func (a *Adapter) removeOrphanParts(messageID string, removedCalls map[string]struct{}) int {
	partDir := filepath.Join(a.storageDir, "part", messageID)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		path := filepath.Join(partDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var part partEntity
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		if part.Type != "tool" || part.CallID == "" {
			continue
		}
		if _, gone := removedCalls[part.CallID]; !gone {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("part", part.ID).Msg("failed to remove orphaned tool part")
			continue
		}
		removed++
	}
	return removed
}
