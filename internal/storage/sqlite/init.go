package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the download log table
// if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS download_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transfer_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		file_name TEXT NOT NULL,
		destination_path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		computed_hash TEXT,
		expected_hash TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL,
		error_message TEXT,
		logged_at INTEGER NOT NULL,
		removed_at INTEGER
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_log table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_download_log_logged_at ON download_log (logged_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_log index: %w", err)
	}

	return db, nil
}
