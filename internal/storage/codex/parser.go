package codex

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replayhq/replay/pkg/models"
)

// Scanner capacity must fit instruction dumps and large tool outputs.
const maxLineBytes = 8 * 1024 * 1024

const previewMaxRunes = 120

// rolloutData is everything one forward scan of a rollout file produces:
// header metadata, the canonical message list, summed usage, the timestamp
// bounds, and the preview candidates.
type rolloutData struct {
	sessionID  string
	cwd        string
	originator string
	cliVersion string
	startedAt  time.Time

	firstTS time.Time
	lastTS  time.Time

	model string
	usage models.TokenUsage

	messages []models.SessionMessage

	userPreview      string
	assistantPreview string
}

// preview applies the preference order: assistant reply over user message.
func (d *rolloutData) preview() string {
	if d.assistantPreview != "" {
		return d.assistantPreview
	}
	return d.userPreview
}

// parseRollout scans the file once, normalising every known record shape
// into the canonical message list. fileID is the session id recovered from
// the filename, used when the file lacks a meta record and as the base for
// synthesized positional message ids. Malformed lines are skipped.
func parseRollout(path, fileID string) (*rolloutData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout: %w", err)
	}
	defer file.Close()

	d := &rolloutData{sessionID: fileID}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	// Positional ids index non-empty lines only, matching the line list the
	// deletion path operates on.
	lineIdx := -1
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		lineIdx++

		rec := decodeLine(line, lineIdx == 0)

		if !rec.timestamp.IsZero() {
			if d.firstTS.IsZero() || rec.timestamp.Before(d.firstTS) {
				d.firstTS = rec.timestamp
			}
			if rec.timestamp.After(d.lastTS) {
				d.lastTS = rec.timestamp
			}
		}

		switch rec.kind {
		case recordSessionMeta:
			if rec.meta.ID != "" {
				d.sessionID = rec.meta.ID
			}
			d.cwd = rec.meta.CWD
			d.originator = rec.meta.Originator
			d.cliVersion = rec.meta.CLIVersion
			d.startedAt = rec.meta.StartedAt

		case recordUserMessage:
			if rec.text == "" {
				continue
			}
			d.appendMessage(models.SessionMessage{
				UUID:      messageID(rec.naturalID, d.sessionID, lineIdx),
				Role:      models.RoleUser,
				Content:   rec.text,
				Timestamp: rec.timestamp,
			})
			if d.userPreview == "" && !isBoilerplate(rec.text) {
				d.userPreview = rec.text
			}

		case recordAssistantMessage:
			if rec.text == "" {
				continue
			}
			d.appendMessage(models.SessionMessage{
				UUID:      messageID(rec.naturalID, d.sessionID, lineIdx),
				Role:      models.RoleAssistant,
				Content:   rec.text,
				Timestamp: rec.timestamp,
			})
			if d.assistantPreview == "" {
				d.assistantPreview = rec.text
			}

		case recordToolCall:
			d.appendMessage(models.SessionMessage{
				UUID:      messageID(rec.naturalID, d.sessionID, lineIdx),
				Role:      models.RoleAssistant,
				Timestamp: rec.timestamp,
				ToolUses: []models.ToolUse{{
					ID:    rec.callID,
					Name:  rec.toolName,
					Input: rec.toolArgs,
				}},
			})

		case recordToolResult:
			d.appendMessage(models.SessionMessage{
				UUID:      messageID(rec.naturalID, d.sessionID, lineIdx),
				Role:      models.RoleAssistant,
				Timestamp: rec.timestamp,
				ToolUses: []models.ToolUse{{
					ID:     rec.callID,
					Output: rec.toolOutput,
				}},
			})

		case recordUsage:
			d.usage.Add(rec.usage)

		case recordTurnContext:
			if rec.model != "" {
				d.model = rec.model
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan rollout: %w", err)
	}

	return d, nil
}

func (d *rolloutData) appendMessage(msg models.SessionMessage) {
	d.messages = append(d.messages, msg)
}

// messageID prefers the natural record id; otherwise it synthesizes a
// positional id from the session id and the line number, which is stable
// across repeated reads of the same unmodified file.
func messageID(naturalID, sessionID string, lineIdx int) string {
	if naturalID != "" {
		return naturalID
	}
	return fmt.Sprintf("%s:%d", sessionID, lineIdx)
}

// readHeadMeta decodes the session meta from the first non-empty line of a
// rollout file, or nil when the file has none.
func readHeadMeta(path string) *sessionMeta {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec := decodeLine([]byte(line), true)
		if rec.kind == recordSessionMeta {
			return rec.meta
		}
		return nil
	}
	return nil
}

// sessionIDFromFilename extracts the trailing uuid from a rollout filename
// such as rollout-2026-02-11T15-52-56-019c4bb0-5fdb-7352-9b9c-9efe77d2d60d.jsonl.
// When no valid uuid is present the whole stem is used as the id.
func sessionIDFromFilename(name string) string {
	stem := strings.TrimSuffix(name, rolloutExt)
	stem = strings.TrimPrefix(stem, rolloutPrefix)

	if len(stem) > 36 {
		candidate := stem[len(stem)-36:]
		if _, err := uuid.Parse(candidate); err == nil {
			return candidate
		}
	}
	return stem
}

// timestampFromFilename recovers the file's creation timestamp from the
// rollout-<YYYY-MM-DDThh-mm-ss>-... naming scheme.
func timestampFromFilename(name string) time.Time {
	stem := strings.TrimPrefix(name, rolloutPrefix)
	if len(stem) < 19 {
		return time.Time{}
	}
	ts, err := time.ParseInLocation("2006-01-02T15-04-05", stem[:19], time.Local)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
