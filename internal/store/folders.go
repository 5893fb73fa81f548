package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Folder is a note folder registered in the cache. The remote secret is
// never stored here.
type Folder struct {
	ID             int64
	Root           string
	Name           string
	RemoteURL      string
	RemoteUsername string
	SyncInterval   time.Duration
	Subfolders     bool
	CreatedAt      time.Time
}

const folderColumns = `id, root, name, remote_url, remote_username, sync_interval, subfolders, created_at`

// CreateFolder inserts f and sets f.ID and f.CreatedAt.
func (s *Store) CreateFolder(ctx context.Context, f *Folder) error {
	if f.Root == "" {
		return fmt.Errorf("folder root is required")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO folders (root, name, remote_url, remote_username, sync_interval, subfolders, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	RETURNING id
	`
	err := s.withRetry(ctx, "create folder", func() error {
		return s.conn.QueryRowContext(ctx, query,
			f.Root,
			f.Name,
			nullString(f.RemoteURL),
			nullString(f.RemoteUsername),
			int64(f.SyncInterval),
			f.Subfolders,
			toNanos(f.CreatedAt),
		).Scan(&f.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to create folder %s: %w", f.Root, err)
	}
	return nil
}

// GetFolder returns a folder by id.
func (s *Store) GetFolder(ctx context.Context, id int64) (*Folder, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get folder %d: %w", id, err)
	}
	return f, nil
}

// GetFolderByRoot returns the folder registered for root.
func (s *Store) GetFolderByRoot(ctx context.Context, root string) (*Folder, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE root = ?`, root)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder %s: %w", root, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get folder %s: %w", root, err)
	}
	return f, nil
}

// EnsureFolder returns the folder for f.Root, creating it from f when it is
// not registered yet.
func (s *Store) EnsureFolder(ctx context.Context, f *Folder) (*Folder, error) {
	existing, err := s.GetFolderByRoot(ctx, f.Root)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := *f
	if err := s.CreateFolder(ctx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateFolder saves every mutable field of f.
func (s *Store) UpdateFolder(ctx context.Context, f *Folder) error {
	query := `
	UPDATE folders SET
		name = ?, remote_url = ?, remote_username = ?, sync_interval = ?, subfolders = ?
	WHERE id = ?
	`
	var affected int64
	err := s.withRetry(ctx, "update folder", func() error {
		res, err := s.conn.ExecContext(ctx, query,
			f.Name,
			nullString(f.RemoteURL),
			nullString(f.RemoteUsername),
			int64(f.SyncInterval),
			f.Subfolders,
			f.ID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update folder %d: %w", f.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("folder %d: %w", f.ID, ErrNotFound)
	}
	return nil
}

// ListFolders returns all registered folders ordered by name.
func (s *Store) ListFolders(ctx context.Context) ([]*Folder, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}

func scanFolder(row rowScanner) (*Folder, error) {
	var f Folder
	var remoteURL, remoteUser sql.NullString
	var interval, createdAt int64
	if err := row.Scan(&f.ID, &f.Root, &f.Name, &remoteURL, &remoteUser, &interval, &f.Subfolders, &createdAt); err != nil {
		return nil, err
	}
	f.RemoteURL = remoteURL.String
	f.RemoteUsername = remoteUser.String
	f.SyncInterval = time.Duration(interval)
	f.CreatedAt = fromNanos(createdAt)
	return &f, nil
}
