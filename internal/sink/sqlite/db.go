// Package sqlite stores replayed market data in a SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migrations[i] upgrades the schema from user_version i to i+1. Per-channel
// data tables are not listed; the Sink creates them on demand.
var migrations = []string{
	// 1: replay run bookkeeping
	`CREATE TABLE IF NOT EXISTS replay_runs (
	  id          TEXT PRIMARY KEY,
	  source      TEXT NOT NULL,
	  status      TEXT NOT NULL,
	  started_at  INTEGER NOT NULL,
	  finished_at INTEGER,
	  error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_replay_runs_source
	ON replay_runs(source, started_at DESC);`,
}

// CurrentSchemaVersion is the user_version after all migrations ran.
var CurrentSchemaVersion = len(migrations)

// Init opens the database at path, creating its directory, and brings the
// schema up to CurrentSchemaVersion.
func Init(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection, not just the first.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, step := range []func(*sql.DB) error{requireWAL, migrate} {
		if err := step(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	_ = os.Chmod(path, 0600)
	return db, nil
}

func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for ; version < len(migrations); version++ {
		if _, err := db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migration %d: %w", version+1, err)
		}
		if err := SetUserVersion(db, version+1); err != nil {
			return err
		}
	}
	return nil
}

func requireWAL(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("read journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal mode is %s, want wal", mode)
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion stores version in the user_version pragma.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}
