package storage

import (
	"context"
	"fmt"

	"paperlens/internal/config"
)

const (
	DriverJSON   = "json"
	DriverMemory = "memory"
)

// Stores bundles what the binaries need from the configured backend. Calls is
// nil for backends without an audit table.
type Stores struct {
	History HistoryStore
	Calls   *CallAuditRepo
	db      *DB
}

// Open builds the stores for cfg.StoreDriver and applies migrations.
func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case DriverMemory:
		return &Stores{History: NewMemoryHistory()}, nil
	case DriverJSON:
		h, err := OpenFileHistory(cfg.HistoryFile)
		if err != nil {
			return nil, err
		}
		return &Stores{History: h}, nil
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var (
		db  *DB
		err error
	)
	if cfg.StoreDriver == DriverPostgres {
		db, err = OpenPostgres(ctx, cfg.PostgresURL)
	} else {
		db, err = OpenSQLite(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Stores{History: NewHistoryRepo(db), Calls: NewCallAuditRepo(db), db: db}, nil
}

func (s *Stores) Close() {
	if s != nil {
		s.db.Close()
	}
}
