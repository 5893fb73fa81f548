package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TrashEntry records a note moved into the folder's local trash directory.
type TrashEntry struct {
	ID           string
	FolderID     int64
	OriginalPath string
	TrashPath    string // file name inside the trash directory
	TrashedAt    time.Time
	Fingerprint  string
}

const trashColumns = `id, folder_id, original_path, trash_path, trashed_at, fingerprint`

// InsertTrashEntry records e.
func (s *Store) InsertTrashEntry(ctx context.Context, e *TrashEntry) error {
	if e.ID == "" {
		return fmt.Errorf("trash entry id is required")
	}
	err := s.withRetry(ctx, "insert trash entry", func() error {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO trash_entries (`+trashColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.FolderID, e.OriginalPath, e.TrashPath, toNanos(e.TrashedAt), nullString(e.Fingerprint),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert trash entry %s: %w", e.ID, err)
	}
	return nil
}

// GetTrashEntry returns an entry by id.
func (s *Store) GetTrashEntry(ctx context.Context, id string) (*TrashEntry, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+trashColumns+` FROM trash_entries WHERE id = ?`, id)
	e, err := scanTrashEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trash entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trash entry %s: %w", id, err)
	}
	return e, nil
}

// ListTrashEntries returns the folder's trash, newest first.
func (s *Store) ListTrashEntries(ctx context.Context, folderID int64) ([]*TrashEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+trashColumns+` FROM trash_entries WHERE folder_id = ? ORDER BY trashed_at DESC, id DESC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash entries: %w", err)
	}
	defer rows.Close()
	return scanTrashEntries(rows)
}

// ListTrashEntriesBefore returns entries trashed strictly before cutoff,
// oldest first.
func (s *Store) ListTrashEntriesBefore(ctx context.Context, folderID int64, cutoff time.Time) ([]*TrashEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+trashColumns+` FROM trash_entries WHERE folder_id = ? AND trashed_at < ? ORDER BY trashed_at ASC, id ASC`,
		folderID, toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trash entries: %w", err)
	}
	defer rows.Close()
	return scanTrashEntries(rows)
}

// DeleteTrashEntry removes an entry. Deleting a missing entry is a no-op.
func (s *Store) DeleteTrashEntry(ctx context.Context, id string) error {
	err := s.withRetry(ctx, "delete trash entry", func() error {
		_, err := s.conn.ExecContext(ctx, `DELETE FROM trash_entries WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete trash entry %s: %w", id, err)
	}
	return nil
}

// CountTrashEntries returns the number of entries in the folder's trash.
func (s *Store) CountTrashEntries(ctx context.Context, folderID int64) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trash_entries WHERE folder_id = ?`, folderID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trash entries: %w", err)
	}
	return count, nil
}

func scanTrashEntry(row rowScanner) (*TrashEntry, error) {
	var e TrashEntry
	var trashedAt int64
	var fingerprint sql.NullString
	if err := row.Scan(&e.ID, &e.FolderID, &e.OriginalPath, &e.TrashPath, &trashedAt, &fingerprint); err != nil {
		return nil, err
	}
	e.TrashedAt = fromNanos(trashedAt)
	e.Fingerprint = fingerprint.String
	return &e, nil
}

func scanTrashEntries(rows *sql.Rows) ([]*TrashEntry, error) {
	var entries []*TrashEntry
	for rows.Next() {
		e, err := scanTrashEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trash entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trash entries: %w", err)
	}
	return entries, nil
}
