package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS merges (
    merge_id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    guest_file TEXT NOT NULL,
    host_file TEXT NOT NULL,
    combined_file TEXT NOT NULL,
    guest_bytes INTEGER NOT NULL DEFAULT 0,
    host_bytes INTEGER NOT NULL DEFAULT 0,
    combined_bytes INTEGER NOT NULL DEFAULT 0,
    time_diff_ns TEXT NOT NULL DEFAULT '0',
    time_diff_mode TEXT NOT NULL,
    guest_tsc_offset INTEGER NOT NULL DEFAULT 0,
    merge_guest_into_host INTEGER NOT NULL DEFAULT 0,
    add_traces INTEGER NOT NULL DEFAULT 0,
    object_key TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merges_created_at ON merges(created_at);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
