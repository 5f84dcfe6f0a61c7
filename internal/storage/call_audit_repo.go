package storage

import (
	"context"
	"fmt"
	"time"

	"paperlens/internal/models"
)

// CallAuditRepo writes one row per provider attempt.
type CallAuditRepo struct {
	db *DB
}

func NewCallAuditRepo(db *DB) *CallAuditRepo {
	return &CallAuditRepo{db: db}
}

func (r *CallAuditRepo) Insert(ctx context.Context, rec models.CallRecord) error {
	if rec.CallID == "" {
		rec.CallID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var errorKind any
	if rec.ErrorKind != "" {
		errorKind = rec.ErrorKind
	}
	query, args, err := r.db.builder().
		Insert("llm_calls").
		Columns("call_id", "operation", "provider", "model", "status", "error_kind", "attempt", "duration_ms", "created_at").
		Values(rec.CallID, rec.Operation, rec.Provider, rec.Model, rec.Status, errorKind, rec.Attempt, rec.DurationMS, rec.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build llm call insert: %w", err)
	}
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// RecordCall lets the repo serve as the dispatcher's audit sink.
func (r *CallAuditRepo) RecordCall(ctx context.Context, rec models.CallRecord) error {
	return r.Insert(ctx, rec)
}

func (r *CallAuditRepo) Recent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := r.db.builder().
		Select("call_id", "operation", "provider", "model", "status", "COALESCE(error_kind, '')", "attempt", "duration_ms", "created_at").
		From("llm_calls").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build llm call list: %w", err)
	}
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	out := make([]models.CallRecord, 0)
	for rows.Next() {
		var (
			rec     models.CallRecord
			created int64
		)
		if err := rows.Scan(&rec.CallID, &rec.Operation, &rec.Provider, &rec.Model, &rec.Status, &rec.ErrorKind, &rec.Attempt, &rec.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm calls: %w", err)
	}
	return out, nil
}
