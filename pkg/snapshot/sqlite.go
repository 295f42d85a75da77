package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session    TEXT    NOT NULL,
	step       INTEGER NOT NULL,
	flags      INTEGER NOT NULL,
	data       BLOB    NOT NULL,
	checksum   TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session, step)
)`

// SQLiteStore keeps snapshots in a SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, snap Snapshot) error {
	if err := validateSession(snap.Session); err != nil {
		return err
	}
	data := snap.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (session, step, flags, data, checksum, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Session,
		int64(snap.Step),
		int64(snap.Flags),
		data,
		snap.Checksum,
		snap.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("snapshot: insert step %d: %w", snap.Step, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, session string, step uint64) (Snapshot, error) {
	var (
		flags   int64
		created int64
	)
	snap := Snapshot{Session: session, Step: step}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT flags, data, checksum, created_at FROM snapshots WHERE session = ? AND step = ?`,
		session, int64(step),
	).Scan(&flags, &snap.Data, &snap.Checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: query step %d: %w", step, err)
	}
	snap.Flags = recorder.StateFlags(flags)
	snap.CreatedAt = time.Unix(0, created).UTC()
	if err := snap.Verify(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Steps implements Store.
func (s *SQLiteStore) Steps(ctx context.Context, session string) ([]uint64, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT step FROM snapshots WHERE session = ? ORDER BY step`, session)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list steps: %w", err)
	}
	defer rows.Close()

	var steps []uint64
	for rows.Next() {
		var step int64
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, uint64(step))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	return steps, nil
}

// Sessions implements Store.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT session FROM snapshots ORDER BY session`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, session string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM snapshots WHERE session = ?`, session)
	if err != nil {
		return fmt.Errorf("snapshot: delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
