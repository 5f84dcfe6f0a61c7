package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"paperlens/internal/models"
)

var ErrNotFound = errors.New("not found")

// HistoryStore keeps past analyses with their secondary reports and chat.
type HistoryStore interface {
	SaveHistory(ctx context.Context, item models.HistoryItem) (models.HistoryItem, error)
	GetHistory(ctx context.Context, id string) (models.HistoryItem, error)
	ListHistory(ctx context.Context, limit int) ([]models.HistoryItem, error)
	DeleteHistory(ctx context.Context, id string) error
}

// HistoryRepo stores each item as a JSON payload keyed by id, with the
// timestamps duplicated into columns for ordering.
type HistoryRepo struct {
	db  *DB
	now func() time.Time
}

func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db, now: time.Now}
}

func (r *HistoryRepo) SaveHistory(ctx context.Context, item models.HistoryItem) (models.HistoryItem, error) {
	item = stamp(item, r.now())
	payload, err := json.Marshal(item)
	if err != nil {
		return models.HistoryItem{}, fmt.Errorf("encode history item: %w", err)
	}
	query, args, err := r.db.builder().
		Insert("history").
		Columns("id", "query", "payload", "created_at", "updated_at").
		Values(item.ID, item.Query, string(payload), item.CreatedAt.UnixMilli(), item.UpdatedAt.UnixMilli()).
		Suffix("ON CONFLICT (id) DO UPDATE SET query = excluded.query, payload = excluded.payload, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return models.HistoryItem{}, fmt.Errorf("build history upsert: %w", err)
	}
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		return models.HistoryItem{}, fmt.Errorf("save history: %w", err)
	}
	return item, nil
}

func (r *HistoryRepo) GetHistory(ctx context.Context, id string) (models.HistoryItem, error) {
	query, args, err := r.db.builder().
		Select("payload").
		From("history").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.HistoryItem{}, fmt.Errorf("build history get: %w", err)
	}
	var payload string
	if err := r.db.SQL.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.HistoryItem{}, ErrNotFound
		}
		return models.HistoryItem{}, fmt.Errorf("get history: %w", err)
	}
	return decodeHistory(payload)
}

// ListHistory returns newest first; limit <= 0 means all.
func (r *HistoryRepo) ListHistory(ctx context.Context, limit int) ([]models.HistoryItem, error) {
	b := r.db.builder().
		Select("payload").
		From("history").
		OrderBy("created_at DESC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history list: %w", err)
	}
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryItem, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		item, err := decodeHistory(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (r *HistoryRepo) DeleteHistory(ctx context.Context, id string) error {
	query, args, err := r.db.builder().
		Delete("history").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build history delete: %w", err)
	}
	res, err := r.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeHistory(payload string) (models.HistoryItem, error) {
	var item models.HistoryItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return models.HistoryItem{}, fmt.Errorf("decode history item: %w", err)
	}
	if item.Chat == nil {
		item.Chat = []models.ChatMessage{}
	}
	return item, nil
}

// stamp fills the id and timestamps of an item about to be written.
func stamp(item models.HistoryItem, now time.Time) models.HistoryItem {
	if item.ID == "" {
		item.ID = newID()
	}
	now = now.UTC().Truncate(time.Millisecond)
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Chat == nil {
		item.Chat = []models.ChatMessage{}
	}
	return item
}
