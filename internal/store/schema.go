package store

import (
	"context"
	"fmt"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

// InitSchema creates the cache schema if it doesn't exist.
// It is idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		remote_url TEXT,
		remote_username TEXT,
		sync_interval INTEGER NOT NULL DEFAULT 0,  -- nanoseconds
		subfolders INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		fingerprint TEXT,  -- NULL for zero-byte or unreadable files
		mtime INTEGER NOT NULL DEFAULT 0,  -- unix nanoseconds
		cached_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		UNIQUE (folder_id, path),
		FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		parent_id INTEGER,
		UNIQUE (folder_id, name),
		FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE,
		FOREIGN KEY (parent_id) REFERENCES tags(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS note_tags (
		note_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT 'manual',  -- manual, frontmatter
		PRIMARY KEY (note_id, tag_id),
		FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS trash_entries (
		id TEXT PRIMARY KEY,
		folder_id INTEGER NOT NULL,
		original_path TEXT NOT NULL,
		trash_path TEXT NOT NULL,
		trashed_at INTEGER NOT NULL,
		fingerprint TEXT,
		FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS connections (
		folder_id INTEGER PRIMARY KEY,
		server_url TEXT NOT NULL,
		api_version TEXT,
		versions INTEGER NOT NULL DEFAULT 0,
		trash INTEGER NOT NULL DEFAULT 0,
		probed_at INTEGER NOT NULL,
		FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id, deleted, path);
	CREATE INDEX IF NOT EXISTS idx_tags_parent ON tags(parent_id);
	CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);
	CREATE INDEX IF NOT EXISTS idx_trash_folder_time ON trash_entries(folder_id, trashed_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version < schemaVersion {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}
