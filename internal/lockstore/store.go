// Package lockstore provides SQLite-backed persistence for file locks.
package lockstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gren-lsp/agentlock/internal/coordinator"
)

// Store is a coordinator.Store over a SQLite database file. Every hook
// process opens its own Store on the same file; write transactions start
// with BEGIN IMMEDIATE, so check-then-act sequences never interleave across
// processes.
type Store struct {
	db *sql.DB
}

var _ coordinator.Store = (*Store)(nil)

// Open opens the SQLite database at dbPath and creates tables if they don't exist.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS file_locks (
		path TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_name TEXT NOT NULL DEFAULT '',
		acquired_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_file_locks_session ON file_locks(session_id);
	CREATE INDEX IF NOT EXISTS idx_file_locks_expires ON file_locks(expires_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Update runs fn inside an immediate write transaction and commits when fn
// returns nil.
func (s *Store) Update(ctx context.Context, fn func(coordinator.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&lockTx{ctx: ctx, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn against the database without taking the write lock.
// Each read is a single statement, so it sees a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(coordinator.Tx) error) error {
	return fn(&lockTx{ctx: ctx, q: s.db, readOnly: true})
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type lockTx struct {
	ctx      context.Context
	q        queryer
	readOnly bool
}

func (t *lockTx) Get(path string) (*coordinator.FileLock, error) {
	row := t.q.QueryRowContext(t.ctx,
		`SELECT path, session_id, agent_name, acquired_at, expires_at
		 FROM file_locks WHERE path = ?`,
		path,
	)

	lock, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	return lock, nil
}

func (t *lockTx) Put(lock coordinator.FileLock) error {
	if t.readOnly {
		return fmt.Errorf("put lock on %s: read-only transaction", lock.Path)
	}
	_, err := t.q.ExecContext(t.ctx,
		`INSERT INTO file_locks (path, session_id, agent_name, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   session_id = excluded.session_id,
		   agent_name = excluded.agent_name,
		   acquired_at = excluded.acquired_at,
		   expires_at = excluded.expires_at`,
		lock.Path, lock.SessionID, lock.AgentName, lock.AcquiredAt.UnixMilli(), lock.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert lock: %w", err)
	}
	return nil
}

func (t *lockTx) Delete(path string) error {
	if t.readOnly {
		return fmt.Errorf("delete lock on %s: read-only transaction", path)
	}
	if _, err := t.q.ExecContext(t.ctx, `DELETE FROM file_locks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

func (t *lockTx) List() ([]coordinator.FileLock, error) {
	rows, err := t.q.QueryContext(t.ctx,
		`SELECT path, session_id, agent_name, acquired_at, expires_at
		 FROM file_locks
		 ORDER BY path ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var locks []coordinator.FileLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, *lock)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return locks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLock(row scanner) (*coordinator.FileLock, error) {
	var (
		lock                 coordinator.FileLock
		acquiredMs, expireMs int64
	)
	if err := row.Scan(&lock.Path, &lock.SessionID, &lock.AgentName, &acquiredMs, &expireMs); err != nil {
		return nil, err
	}
	lock.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
	lock.ExpiresAt = time.UnixMilli(expireMs).UTC()
	return &lock, nil
}
