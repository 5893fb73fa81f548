package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Note is the cached metadata row for one note file.
type Note struct {
	ID          int64
	FolderID    int64
	Path        string
	Fingerprint string
	ModTime     time.Time
	CachedAt    time.Time
	Deleted     bool
}

const noteColumns = `id, folder_id, path, fingerprint, mtime, cached_at, deleted`

// UpsertNote records the observed fingerprint and mtime for path, clearing a
// previous deleted mark. It returns the row id, which is stable across updates.
func (s *Store) UpsertNote(ctx context.Context, folderID int64, path, fingerprint string, mtime time.Time) (int64, error) {
	query := `
	INSERT INTO notes (folder_id, path, fingerprint, mtime, cached_at, deleted)
	VALUES (?, ?, ?, ?, ?, 0)
	ON CONFLICT(folder_id, path) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		mtime = excluded.mtime,
		cached_at = excluded.cached_at,
		deleted = 0
	RETURNING id
	`

	var id int64
	err := s.withRetry(ctx, "upsert note", func() error {
		return s.conn.QueryRowContext(ctx, query,
			folderID,
			path,
			nullString(fingerprint),
			toNanos(mtime),
			time.Now().UnixNano(),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert note %s: %w", path, err)
	}
	return id, nil
}

// GetByPath returns the live row for path, or ErrNotFound when the note is
// unknown or marked deleted.
func (s *Store) GetByPath(ctx context.Context, folderID int64, path string) (*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE folder_id = ? AND path = ? AND deleted = 0`
	n, err := scanNote(s.conn.QueryRowContext(ctx, query, folderID, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get note %s: %w", path, err)
	}
	return n, nil
}

// GetNote returns a live row by id.
func (s *Store) GetNote(ctx context.Context, id int64) (*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = ? AND deleted = 0`
	n, err := scanNote(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get note %d: %w", id, err)
	}
	return n, nil
}

// ListNotesInFolder returns the live notes of a folder ordered by path.
func (s *Store) ListNotesInFolder(ctx context.Context, folderID int64) ([]*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE folder_id = ? AND deleted = 0 ORDER BY path`
	rows, err := s.conn.QueryContext(ctx, query, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// MarkDeleted flags the row for path as deleted. Marking an unknown or
// already deleted note is a no-op.
func (s *Store) MarkDeleted(ctx context.Context, folderID int64, path string) error {
	query := `UPDATE notes SET deleted = 1, cached_at = ? WHERE folder_id = ? AND path = ? AND deleted = 0`
	err := s.withRetry(ctx, "mark deleted", func() error {
		_, err := s.conn.ExecContext(ctx, query, time.Now().UnixNano(), folderID, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark note %s deleted: %w", path, err)
	}
	return nil
}

// RenameNote moves the row for oldPath to newPath in one transaction. The
// row id is kept, so tags follow the note. A row already at newPath is
// replaced. When oldPath is unknown the note is simply upserted at newPath.
func (s *Store) RenameNote(ctx context.Context, folderID int64, oldPath, newPath, fingerprint string, mtime time.Time) (int64, error) {
	var id int64
	err := s.inTx(ctx, "rename note", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM notes WHERE folder_id = ? AND path = ?`, folderID, oldPath,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			id = 0
		} else if err != nil {
			return fmt.Errorf("failed to look up %s: %w", oldPath, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM notes WHERE folder_id = ? AND path = ? AND id != ?`, folderID, newPath, id,
		); err != nil {
			return fmt.Errorf("failed to clear rename target %s: %w", newPath, err)
		}

		now := time.Now().UnixNano()
		if id == 0 {
			return tx.QueryRowContext(ctx, `
				INSERT INTO notes (folder_id, path, fingerprint, mtime, cached_at, deleted)
				VALUES (?, ?, ?, ?, ?, 0)
				RETURNING id`,
				folderID, newPath, nullString(fingerprint), toNanos(mtime), now,
			).Scan(&id)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE notes SET path = ?, fingerprint = ?, mtime = ?, cached_at = ?, deleted = 0
			WHERE id = ?`,
			newPath, nullString(fingerprint), toNanos(mtime), now, id,
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rename note %s -> %s: %w", oldPath, newPath, err)
	}
	return id, nil
}

// CountNotes returns the number of live notes in a folder.
func (s *Store) CountNotes(ctx context.Context, folderID int64) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE folder_id = ? AND deleted = 0`, folderID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var fingerprint sql.NullString
	var mtime, cachedAt int64
	if err := row.Scan(&n.ID, &n.FolderID, &n.Path, &fingerprint, &mtime, &cachedAt, &n.Deleted); err != nil {
		return nil, err
	}
	n.Fingerprint = fingerprint.String
	n.ModTime = fromNanos(mtime)
	n.CachedAt = fromNanos(cachedAt)
	return &n, nil
}

func scanNotes(rows *sql.Rows) ([]*Note, error) {
	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}
