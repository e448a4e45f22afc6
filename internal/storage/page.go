package storage

import "github.com/replayhq/replay/pkg/models"

// DefaultPageLimit bounds session pages when the caller passes no limit.
const DefaultPageLimit = 20

// PaginateSummaries computes one page over an already-sorted summary list.
// The cursor names the last session of the previous page; an unknown cursor
// restarts from the beginning.
func PaginateSummaries(all []models.SessionSummary, req PageRequest) *models.SessionPage {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	start := 0
	if req.Cursor != "" {
		for i, s := range all {
			if s.SessionID == req.Cursor {
				start = i + 1
				break
			}
		}
	}
	if start > len(all) {
		start = len(all)
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	page := &models.SessionPage{
		Sessions:   all[start:end],
		HasMore:    end < len(all),
		TotalCount: len(all),
	}
	if page.HasMore && len(page.Sessions) > 0 {
		page.NextCursor = page.Sessions[len(page.Sessions)-1].SessionID
	}
	return page
}

// WindowMessages cuts a suffix window out of an ascending message list.
// Offset counts backward from the end; the returned slice stays ascending.
func WindowMessages(all []models.SessionMessage, win MessageWindow) *models.MessagePage {
	total := len(all)

	limit := win.Limit
	if limit <= 0 {
		limit = total
	}
	offset := win.Offset
	if offset < 0 {
		offset = 0
	}

	end := total - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	return &models.MessagePage{
		Messages: all[start:end],
		Total:    total,
		HasMore:  start > 0,
	}
}
