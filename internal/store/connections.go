package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Connection is the cached result of probing a folder's remote server.
type Connection struct {
	FolderID   int64
	ServerURL  string
	APIVersion string
	Versions   bool
	Trash      bool
	ProbedAt   time.Time
}

// SaveConnection stores the probe result for c.FolderID, replacing any
// previous one.
func (s *Store) SaveConnection(ctx context.Context, c *Connection) error {
	query := `
	INSERT INTO connections (folder_id, server_url, api_version, versions, trash, probed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(folder_id) DO UPDATE SET
		server_url = excluded.server_url,
		api_version = excluded.api_version,
		versions = excluded.versions,
		trash = excluded.trash,
		probed_at = excluded.probed_at
	`
	err := s.withRetry(ctx, "save connection", func() error {
		_, err := s.conn.ExecContext(ctx, query,
			c.FolderID, c.ServerURL, nullString(c.APIVersion), c.Versions, c.Trash, toNanos(c.ProbedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save connection for folder %d: %w", c.FolderID, err)
	}
	return nil
}

// GetConnection returns the cached probe result for a folder.
func (s *Store) GetConnection(ctx context.Context, folderID int64) (*Connection, error) {
	var c Connection
	var apiVersion sql.NullString
	var probedAt int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT folder_id, server_url, api_version, versions, trash, probed_at FROM connections WHERE folder_id = ?`,
		folderID,
	).Scan(&c.FolderID, &c.ServerURL, &apiVersion, &c.Versions, &c.Trash, &probedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection for folder %d: %w", folderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection for folder %d: %w", folderID, err)
	}
	c.APIVersion = apiVersion.String
	c.ProbedAt = fromNanos(probedAt)
	return &c, nil
}

// DeleteConnection drops the cached probe result so the next lookup probes
// the server again.
func (s *Store) DeleteConnection(ctx context.Context, folderID int64) error {
	err := s.withRetry(ctx, "delete connection", func() error {
		_, err := s.conn.ExecContext(ctx, `DELETE FROM connections WHERE folder_id = ?`, folderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete connection for folder %d: %w", folderID, err)
	}
	return nil
}
