package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperlens/internal/models"
)

func TestMemoryHistoryOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h.now = fixedClock(t0)
	_, err := h.SaveHistory(ctx, models.HistoryItem{ID: "a", Query: "one"})
	require.NoError(t, err)
	h.now = fixedClock(t0.Add(time.Minute))
	b, err := h.SaveHistory(ctx, models.HistoryItem{Query: "two"})
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)

	items, err := h.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID, "a"}, []string{items[0].ID, items[1].ID})

	h.now = fixedClock(t0.Add(time.Hour))
	updated, err := h.SaveHistory(ctx, models.HistoryItem{ID: "a", Query: "one", Result: &models.AnalysisResult{Markdown: "m"}})
	require.NoError(t, err)
	require.True(t, updated.CreatedAt.Equal(t0), "created time survives an update")

	require.NoError(t, h.DeleteHistory(ctx, "a"))
	require.ErrorIs(t, h.DeleteHistory(ctx, "a"), ErrNotFound)
	_, err = h.GetHistory(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileHistoryPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "history.json")

	h, err := OpenFileHistory(path)
	require.NoError(t, err)
	_, err = h.SaveHistory(ctx, models.HistoryItem{ID: "x", Query: "q", Result: &models.AnalysisResult{Markdown: "# x"}})
	require.NoError(t, err)

	reopened, err := OpenFileHistory(path)
	require.NoError(t, err)
	got, err := reopened.GetHistory(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "# x", got.Result.Markdown)

	require.NoError(t, reopened.DeleteHistory(ctx, "x"))
	again, err := OpenFileHistory(path)
	require.NoError(t, err)
	items, err := again.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, items)
}
