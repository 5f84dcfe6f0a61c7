package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"paperlens/internal/util"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

var openDB = sql.Open

type DB struct {
	SQL    *sql.DB
	Driver string
}

// OpenSQLite opens (creating if needed) a local database file in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return &DB{SQL: db, Driver: DriverSQLite}, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DB{SQL: db, Driver: DriverPostgres}, nil
}

// Migrate applies the embedded migrations for the database's dialect.
func (d *DB) Migrate(ctx context.Context) error {
	dialect, dir := "sqlite3", "migrations/sqlite"
	if d.Driver == DriverPostgres {
		dialect, dir = "postgres", "migrations/postgres"
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, d.SQL, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", d.Driver, err)
	}
	return nil
}

func (d *DB) Close() {
	if d != nil && d.SQL != nil {
		_ = d.SQL.Close()
	}
}

// builder returns a statement builder with the driver's placeholder style.
func (d *DB) builder() sq.StatementBuilderType {
	if d.Driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
