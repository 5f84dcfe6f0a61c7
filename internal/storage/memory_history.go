package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paperlens/internal/models"
	"paperlens/internal/util"
)

var newID = uuid.NewString

// MemoryHistory keeps history in process. With a path it also mirrors every
// change to a JSON file.
type MemoryHistory struct {
	mu    sync.RWMutex
	items map[string]models.HistoryItem
	path  string
	now   func() time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{items: make(map[string]models.HistoryItem), now: time.Now}
}

// OpenFileHistory loads path if it exists.
func OpenFileHistory(path string) (*MemoryHistory, error) {
	h := NewMemoryHistory()
	h.path = path
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	var items []models.HistoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	for _, it := range items {
		h.items[it.ID] = it
	}
	return h, nil
}

func (h *MemoryHistory) SaveHistory(_ context.Context, item models.HistoryItem) (models.HistoryItem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.items[item.ID]; ok && item.CreatedAt.IsZero() {
		item.CreatedAt = prev.CreatedAt
	}
	item = stamp(item, h.now())
	h.items[item.ID] = item
	if err := h.flushLocked(); err != nil {
		return models.HistoryItem{}, err
	}
	return item, nil
}

func (h *MemoryHistory) GetHistory(_ context.Context, id string) (models.HistoryItem, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	it, ok := h.items[id]
	if !ok {
		return models.HistoryItem{}, ErrNotFound
	}
	return it, nil
}

func (h *MemoryHistory) ListHistory(_ context.Context, limit int) ([]models.HistoryItem, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.sortedLocked()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *MemoryHistory) DeleteHistory(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[id]; !ok {
		return ErrNotFound
	}
	delete(h.items, id)
	return h.flushLocked()
}

// sortedLocked orders newest first, ties broken by id.
func (h *MemoryHistory) sortedLocked() []models.HistoryItem {
	out := make([]models.HistoryItem, 0, len(h.items))
	for _, it := range h.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *MemoryHistory) flushLocked() error {
	if h.path == "" {
		return nil
	}
	if err := util.WriteJSONAtomic(h.path, h.sortedLocked()); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
