package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the boot record database and creates the schema if it doesn't
// exist. The boot_record table holds a single row; update_history keeps one
// row per committed firmware update.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS boot_record (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		running_slot TEXT NOT NULL,
		running_version TEXT NOT NULL,
		boot_target TEXT,
		target_version TEXT
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create boot_record table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS update_history (
		id INTEGER PRIMARY KEY,
		slot TEXT NOT NULL,
		version TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		committed_at DATETIME NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create update_history table: %w", err)
	}

	// Factory state: slot A running, nothing pending.
	_, err = db.Exec(`INSERT OR IGNORE INTO boot_record (id, running_slot, running_version)
		VALUES (1, 'ota_0', 'factory')`)
	if err != nil {
		return nil, fmt.Errorf("failed to seed boot_record: %w", err)
	}

	return db, nil
}
