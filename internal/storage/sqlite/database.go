// Package sqlite is the embedded store backing every persistent entity:
// users, meetings, live sessions, transcript segments, usage counters and
// tracked issues. It exposes prepared operations only; callers never build
// SQL. The database is a single file (DATABASE_PATH) opened in WAL mode.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// ErrNotFound is returned by lookups that match no row, including
// owned lookups where the row exists but belongs to another user.
var ErrNotFound = errors.New("storage: not found")

// PoolConfig defines connection pool parameters for the store.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns pool settings suitable for a single-process
// deployment. Writes are serialised by SQLite itself; the busy timeout in
// the DSN absorbs short write contention.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the database handle and exposes the prepared operations the
// services consume.
type Store struct {
	DB *sql.DB
}

// InitDatabase opens the SQLite file, applies the mandatory PRAGMAs, runs
// migrations and installs the lifetime guard.
func InitDatabase(databasePath string, pool PoolConfig) (*Store, error) {
	// PRAGMAs go in the DSN so they apply to every connection in the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		databasePath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// --- scan helpers ---

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func msToTimePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

func nullStr(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
