package opencode

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/pkg/models"
)

const dbQueryTimeout = 5 * time.Second

// dbReader serves sessions from OpenCode's SQLite database. Newer releases
// write only the database; the JSON tree is consulted first and this is the
// fallback. The connection opens lazily and is limited to one at a time
// since SQLite handles its own locking.
type dbReader struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func newDBReader(path string) *dbReader {
	return &dbReader{path: path}
}

func (r *dbReader) available() bool {
	if r == nil || strings.TrimSpace(r.path) == "" {
		return false
	}
	info, err := os.Stat(r.path)
	return err == nil && !info.IsDir()
}

func (r *dbReader) open() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
		err := r.db.PingContext(ctx)
		cancel()
		if err == nil {
			return r.db, nil
		}
		_ = r.db.Close()
		r.db = nil
	}

	db, err := sql.Open("sqlite", r.path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Minute)

	r.db = db
	return r.db, nil
}

// projectID resolves a working directory against the project table: exact
// worktree match first, then containment in either direction.
func (r *dbReader) projectID(ctx context.Context, projectPath string) (string, error) {
	want := storage.NormalizePath(projectPath)
	if want == "" {
		return "", nil
	}

	db, err := r.open()
	if err != nil {
		return "", err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, worktree FROM project`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	containedID := ""
	for rows.Next() {
		var (
			id       string
			worktree sql.NullString
		)
		if err := rows.Scan(&id, &worktree); err != nil {
			continue
		}
		tree := storage.NormalizePath(worktree.String)
		if tree == "" || tree == "/" {
			continue
		}
		if tree == want {
			return id, nil
		}
		if containedID == "" && (storage.PathContains(tree, want) || storage.PathContains(want, tree)) {
			containedID = id
		}
	}
	return containedID, rows.Err()
}

// sessions lists summaries from the database. Token and cost totals come
// from each message's JSON data column.
func (r *dbReader) sessions(ctx context.Context, projectPath string) ([]models.SessionSummary, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	query := `
		SELECT
			s.id,
			s.title,
			s.time_created,
			s.time_updated,
			COALESCE(p.worktree, ''),
			(SELECT COUNT(*) FROM message m WHERE m.session_id = s.id) AS msg_count
		FROM session s
		LEFT JOIN project p ON p.id = s.project_id
		ORDER BY s.time_updated DESC`
	args := []interface{}{}

	if projectPath != "" {
		id, err := r.projectID(ctx, projectPath)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}
		query = `
			SELECT
				s.id,
				s.title,
				s.time_created,
				s.time_updated,
				COALESCE(p.worktree, ''),
				(SELECT COUNT(*) FROM message m WHERE m.session_id = s.id) AS msg_count
			FROM session s
			LEFT JOIN project p ON p.id = s.project_id
			WHERE s.project_id = ?
			ORDER BY s.time_updated DESC`
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.SessionSummary
	for rows.Next() {
		var (
			id        string
			title     sql.NullString
			createdMS int64
			updatedMS int64
			worktree  string
			msgCount  int
		)
		if err := rows.Scan(&id, &title, &createdMS, &updatedMS, &worktree, &msgCount); err != nil {
			continue
		}

		summary := models.SessionSummary{
			SessionID:    id,
			ProjectPath:  storage.NormalizePath(worktree),
			CreatedAt:    time.UnixMilli(createdMS).Local(),
			ModifiedAt:   time.UnixMilli(updatedMS).Local(),
			Preview:      truncatePreview(title.String),
			MessageCount: msgCount,
		}
		if updatedMS > createdMS {
			summary.DurationSeconds = (updatedMS - createdMS) / 1000
		}
		r.addMessageTotals(ctx, db, &summary)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (r *dbReader) addMessageTotals(ctx context.Context, db *sql.DB, summary *models.SessionSummary) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM message WHERE session_id = ?`, summary.SessionID)
	if err != nil {
		return
	}
	defer rows.Close()

	model := ""
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var msg messageEntity
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
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
	}
	if summary.CostUSD == 0 && summary.Usage.Total() > 0 {
		summary.CostUSD = storage.CostUSD(model, summary.Usage)
	}
}

// messages loads a session's messages with their parts from the database.
func (r *dbReader) messages(ctx context.Context, sessionID string) ([]models.SessionMessage, error) {
	rows, parts, err := r.loadRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]models.SessionMessage, 0, len(rows))
	for _, row := range rows {
		var texts []string
		var toolUses []models.ToolUse
		for _, part := range parts[row.entity.ID] {
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
			UUID:      row.entity.ID,
			Role:      models.Role(row.entity.Role),
			Content:   strings.Join(texts, "\n"),
			Timestamp: row.entity.Time.CreatedTime(),
			ToolUses:  toolUses,
		})
	}
	return out, nil
}

type dbMessageRow struct {
	entity messageEntity
}

func (r *dbReader) loadRows(ctx context.Context, sessionID string) ([]dbMessageRow, map[string][]partEntity, error) {
	db, err := r.open()
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	msgRows, err := db.QueryContext(ctx, `
		SELECT id, time_created, data
		FROM message
		WHERE session_id = ?
		ORDER BY time_created ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer msgRows.Close()

	var rows []dbMessageRow
	for msgRows.Next() {
		var (
			id        string
			createdMS int64
			data      []byte
		)
		if err := msgRows.Scan(&id, &createdMS, &data); err != nil {
			continue
		}
		var msg messageEntity
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msg.ID = id
		if msg.Time.Created == 0 {
			msg.Time.Created = createdMS
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		rows = append(rows, dbMessageRow{entity: msg})
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, err
	}

	partRows, err := db.QueryContext(ctx, `
		SELECT id, message_id, data
		FROM part
		WHERE session_id = ?
		ORDER BY message_id ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer partRows.Close()

	parts := make(map[string][]partEntity)
	for partRows.Next() {
		var (
			id        string
			messageID string
			data      []byte
		)
		if err := partRows.Scan(&id, &messageID, &data); err != nil {
			continue
		}
		var part partEntity
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		part.ID = id
		part.MessageID = messageID
		parts[messageID] = append(parts[messageID], part)
	}
	return rows, parts, partRows.Err()
}

// deleteExchange removes the exchange from the database in one transaction:
// the span's messages and parts, plus tool parts elsewhere whose call id
// was removed with the span.
func (r *dbReader) deleteExchange(ctx context.Context, sessionID, messageID, fallbackContent string) (*storage.DeleteResult, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM session WHERE id = ? LIMIT 1`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, parts, err := r.loadRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target := -1
	for i, row := range rows {
		if row.entity.Role == "user" && row.entity.ID == messageID {
			target = i
			break
		}
	}
	if target < 0 {
		want := strings.TrimSpace(fallbackContent)
		for i := len(rows) - 1; want != "" && i >= 0; i-- {
			if rows[i].entity.Role != "user" {
				continue
			}
			var texts []string
			for _, part := range parts[rows[i].entity.ID] {
				if part.Type == "text" && part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
			if strings.EqualFold(strings.TrimSpace(strings.Join(texts, "\n")), want) {
				target = i
				break
			}
		}
	}
	if target < 0 {
		return nil, storage.ErrMessageNotFound
	}

	end := len(rows)
	for i := target + 1; i < len(rows); i++ {
		if rows[i].entity.Role == "user" {
			end = i
			break
		}
	}

	spanIDs := make(map[string]struct{}, end-target)
	removedCalls := make(map[string]struct{})
	for i := target; i < end; i++ {
		id := rows[i].entity.ID
		spanIDs[id] = struct{}{}
		for _, part := range parts[id] {
			if part.Type == "tool" && part.CallID != "" {
				removedCalls[part.CallID] = struct{}{}
			}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	removed := 0
	for id := range spanIDs {
		res, err := tx.ExecContext(ctx, `DELETE FROM part WHERE message_id = ?`, id)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, id)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}

	for messageID, msgParts := range parts {
		if _, inSpan := spanIDs[messageID]; inSpan {
			continue
		}
		for _, part := range msgParts {
			if part.Type != "tool" || part.CallID == "" {
				continue
			}
			if _, gone := removedCalls[part.CallID]; !gone {
				continue
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM part WHERE id = ?`, part.ID)
			if err != nil {
				return nil, err
			}
			if n, err := res.RowsAffected(); err == nil {
				removed += int(n)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("session", sessionID).
		Str("message", messageID).
		Int("removed", removed).
		Msg("deleted exchange from database")

	return &storage.DeleteResult{RecordsRemoved: removed}, nil
}
