package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayhq/replay/pkg/models"
)

func summaries(n int) []models.SessionSummary {
	out := make([]models.SessionSummary, n)
	for i := range out {
		out[i] = models.SessionSummary{SessionID: fmt.Sprintf("ses_%02d", i)}
	}
	return out
}

func TestPaginateSummaries(t *testing.T) {
	all := summaries(5)

	t.Run("first page", func(t *testing.T) {
		page := PaginateSummaries(all, PageRequest{Limit: 2})
		require.Len(t, page.Sessions, 2)
		assert.Equal(t, "ses_00", page.Sessions[0].SessionID)
		assert.True(t, page.HasMore)
		assert.Equal(t, 5, page.TotalCount)
		assert.Equal(t, "ses_01", page.NextCursor)
	})

	t.Run("resume from cursor", func(t *testing.T) {
		page := PaginateSummaries(all, PageRequest{Cursor: "ses_01", Limit: 2})
		require.Len(t, page.Sessions, 2)
		assert.Equal(t, "ses_02", page.Sessions[0].SessionID)
	})

	t.Run("last partial page", func(t *testing.T) {
		page := PaginateSummaries(all, PageRequest{Cursor: "ses_03", Limit: 2})
		require.Len(t, page.Sessions, 1)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("unknown cursor restarts", func(t *testing.T) {
		page := PaginateSummaries(all, PageRequest{Cursor: "deleted-session", Limit: 2})
		require.Len(t, page.Sessions, 2)
		assert.Equal(t, "ses_00", page.Sessions[0].SessionID)
	})

	t.Run("zero limit uses default", func(t *testing.T) {
		page := PaginateSummaries(summaries(DefaultPageLimit+5), PageRequest{})
		assert.Len(t, page.Sessions, DefaultPageLimit)
		assert.True(t, page.HasMore)
	})

	t.Run("empty input", func(t *testing.T) {
		page := PaginateSummaries(nil, PageRequest{Limit: 10})
		assert.Empty(t, page.Sessions)
		assert.False(t, page.HasMore)
		assert.Zero(t, page.TotalCount)
	})
}

func TestWindowMessages(t *testing.T) {
	msgs := make([]models.SessionMessage, 6)
	for i := range msgs {
		msgs[i] = models.SessionMessage{Content: fmt.Sprintf("m%d", i)}
	}

	tests := []struct {
		name     string
		win      MessageWindow
		first    string
		last     string
		count    int
		hasMore  bool
	}{
		{name: "suffix", win: MessageWindow{Limit: 2}, first: "m4", last: "m5", count: 2, hasMore: true},
		{name: "offset from end", win: MessageWindow{Offset: 2, Limit: 2}, first: "m2", last: "m3", count: 2, hasMore: true},
		{name: "whole list", win: MessageWindow{}, first: "m0", last: "m5", count: 6, hasMore: false},
		{name: "offset past start", win: MessageWindow{Offset: 10, Limit: 2}, count: 0, hasMore: false},
		{name: "limit past start", win: MessageWindow{Limit: 100}, first: "m0", last: "m5", count: 6, hasMore: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := WindowMessages(msgs, tt.win)
			assert.Equal(t, 6, page.Total)
			assert.Equal(t, tt.hasMore, page.HasMore)
			require.Len(t, page.Messages, tt.count)
			if tt.count > 0 {
				assert.Equal(t, tt.first, page.Messages[0].Content)
				assert.Equal(t, tt.last, page.Messages[len(page.Messages)-1].Content)
			}
		})
	}
}
