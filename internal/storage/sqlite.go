package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/service"

	"github.com/mattn/go-sqlite3"
)

const (
	dateLayout = "2006-01-02"
	memoryDSN  = ":memory:"
	// WAL lets readers proceed during a run's result swap; the busy timeout
	// absorbs short lock waits before ErrDatabaseBusy surfaces.
	dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
)

// ErrNestedTx is returned for operations a transaction cannot perform.
var ErrNestedTx = errors.New("not supported inside a transaction")

// SQLiteStorage is the SQLite implementation of service.Storage. A value
// returned from BeginTx shares the pool but routes every query through tx.
type SQLiteStorage struct {
	db     *sql.DB
	tx     *sql.Tx
	dbPath string
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}
	if dbPath != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers, and keeps an in-memory database
	// alive for the life of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", mapError(err))
	}
	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// DB exposes the pool for stores that share the database file.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close releases the pool.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// atomically runs fn inside the open transaction, or inside a new one that
// is committed when fn succeeds.
func (s *SQLiteStorage) atomically(ctx context.Context, what string, fn func(q queryable) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", what, mapError(err))
	}
	return nil
}

// BeginTx starts a transaction exposing the full storage API.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	return &sqliteTx{SQLiteStorage: &SQLiteStorage{db: s.db, tx: tx, dbPath: s.dbPath}}, nil
}

// sqliteTx is a SQLiteStorage bound to one *sql.Tx.
type sqliteTx struct {
	*SQLiteStorage
}

func (t *sqliteTx) Commit() error   { return mapError(t.tx.Commit()) }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (t *sqliteTx) Migrate(context.Context) error {
	return fmt.Errorf("migrate: %w", ErrNestedTx)
}

func (t *sqliteTx) BeginTx(context.Context) (service.Transaction, error) {
	return nil, fmt.Errorf("begin: %w", ErrNestedTx)
}

// Close would tear down the shared pool; a transaction ends with Commit or Rollback.
func (t *sqliteTx) Close() error {
	return fmt.Errorf("close: %w", ErrNestedTx)
}

// mapError folds driver codes into the shared sentinels so callers can retry.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %w", common.ErrDatabaseBusy, err)
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return fmt.Errorf("%w: %w", common.ErrDatabaseCorrupted, err)
	default:
		return err
	}
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return t, nil
}

func parseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
