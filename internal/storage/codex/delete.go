package codex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/replayhq/replay/internal/storage"
)

// classifiedLine pairs one raw rollout line with its decoded record and the
// message id it would carry in the canonical list. Ids are recomputed with
// the same positional rule the parser uses, so delete-by-id agrees with
// what ReadMessages previously handed out.
type classifiedLine struct {
	raw  string
	rec  record
	uuid string
}

// DeleteExchange removes one user message and everything that followed it
// up to the next user message, then strips tool results elsewhere in the
// file whose call ids were introduced inside the deleted span. The file is
// rewritten atomically: filtered lines go to a temp file in the same
// directory which is renamed over the original.
func (a *Adapter) DeleteExchange(ctx context.Context, projectPath, sessionID, messageID, fallbackContent string) (*storage.DeleteResult, error) {
	path, ok := a.findSessionFile(sessionID)
	if !ok {
		return nil, fmt.Errorf("delete exchange %s: %w", sessionID, storage.ErrSessionNotFound)
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("read rollout: %w", err)
	}

	classified := classifyLines(lines, sessionID)

	target := findTarget(classified, messageID, fallbackContent)
	if target < 0 {
		return nil, fmt.Errorf("delete exchange %s: %w", messageID, storage.ErrMessageNotFound)
	}

	// The deletion span runs from the target through every line before the
	// next user message. Tool-call ids introduced inside it are collected
	// so their results can be removed wherever they live.
	spanEnd := len(classified)
	for i := target + 1; i < len(classified); i++ {
		if classified[i].rec.kind == recordUserMessage {
			spanEnd = i
			break
		}
	}

	removedCalls := make(map[string]struct{})
	for i := target; i < spanEnd; i++ {
		rec := classified[i].rec
		if rec.kind == recordToolCall && rec.callID != "" {
			removedCalls[rec.callID] = struct{}{}
		}
	}

	kept := make([]string, 0, len(classified))
	removed := 0
	for i, line := range classified {
		if i >= target && i < spanEnd {
			removed++
			continue
		}
		if line.rec.kind == recordToolResult {
			if _, orphaned := removedCalls[line.rec.callID]; orphaned {
				removed++
				continue
			}
		}
		kept = append(kept, line.raw)
	}

	if err := rewriteAtomically(path, kept); err != nil {
		return nil, fmt.Errorf("rewrite rollout: %w", err)
	}
	a.cache.Invalidate(path)

	log.Info().
		Str("session", sessionID).
		Int("lines_removed", removed).
		Msg("deleted exchange from rollout")

	return &storage.DeleteResult{RecordsRemoved: removed}, nil
}

func classifyLines(lines []string, sessionID string) []classifiedLine {
	classified := make([]classifiedLine, 0, len(lines))
	idBase := sessionID
	for idx, raw := range lines {
		rec := decodeLine([]byte(raw), idx == 0)
		if rec.kind == recordSessionMeta && rec.meta.ID != "" {
			idBase = rec.meta.ID
		}
		classified = append(classified, classifiedLine{
			raw:  raw,
			rec:  rec,
			uuid: messageID(rec.naturalID, idBase, idx),
		})
	}
	return classified
}

// findTarget locates the user message to delete: by id first, then by a
// trimmed case-insensitive content match scanning backward, so duplicate
// content selects the most recent occurrence.
func findTarget(classified []classifiedLine, messageID, fallbackContent string) int {
	for i, line := range classified {
		if line.rec.kind == recordUserMessage && line.uuid == messageID {
			return i
		}
	}

	want := strings.TrimSpace(fallbackContent)
	if want == "" {
		return -1
	}
	for i := len(classified) - 1; i >= 0; i-- {
		line := classified[i]
		if line.rec.kind != recordUserMessage {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line.rec.text), want) {
			return i
		}
	}
	return -1
}

// readLines loads the file as raw lines, dropping empty ones. Lines are
// kept verbatim so a rewrite never reformats records it did not touch.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func rewriteAtomically(path string, lines []string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
