package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Tag sources in note_tags.
const (
	TagSourceManual      = "manual"
	TagSourceFrontMatter = "frontmatter"
)

// Tag is a folder-scoped label. ParentID is 0 for top-level tags.
type Tag struct {
	ID       int64
	FolderID int64
	Name     string
	Color    string
	ParentID int64
}

const tagColumns = `id, folder_id, name, color, parent_id`

// CreateTag inserts a new tag. Names are unique per folder.
func (s *Store) CreateTag(ctx context.Context, folderID int64, name, color string, parentID int64) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}

	t := &Tag{FolderID: folderID, Name: name, Color: color, ParentID: parentID}
	err := s.withRetry(ctx, "create tag", func() error {
		return s.conn.QueryRowContext(ctx,
			`INSERT INTO tags (folder_id, name, color, parent_id) VALUES (?, ?, ?, ?) RETURNING id`,
			folderID, name, nullString(color), nullInt(parentID),
		).Scan(&t.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tag %s: %w", name, err)
	}
	return t, nil
}

// GetTagByName looks up a tag of the folder by its exact name.
func (s *Store) GetTagByName(ctx context.Context, folderID int64, name string) (*Tag, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE folder_id = ? AND name = ?`, folderID, name)
	t, err := scanTag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tag %s: %w", name, err)
	}
	return t, nil
}

// ListTags returns the folder's tags ordered by name.
func (s *Store) ListTags(ctx context.Context, folderID int64) ([]*Tag, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE folder_id = ? ORDER BY name`, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// DeleteTag removes a tag. Its children are re-parented to the tag's own
// parent and its note links are dropped. Notes are never deleted.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	err := s.inTx(ctx, "delete tag", func(tx *sql.Tx) error {
		var parent sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM tags WHERE id = ?`, id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("tag %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE tags SET parent_id = ? WHERE parent_id = ?`, parent, id); err != nil {
			return fmt.Errorf("failed to re-parent children: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE tag_id = ?`, id); err != nil {
			return fmt.Errorf("failed to unlink notes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete tag %d: %w", id, err)
	}
	return nil
}

// TagNote links a note to a tag. Linking twice is a no-op.
func (s *Store) TagNote(ctx context.Context, noteID, tagID int64) error {
	err := s.withRetry(ctx, "tag note", func() error {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO note_tags (note_id, tag_id, source) VALUES (?, ?, ?)
			 ON CONFLICT(note_id, tag_id) DO UPDATE SET source = excluded.source`,
			noteID, tagID, TagSourceManual)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to tag note %d: %w", noteID, err)
	}
	return nil
}

// UntagNote removes a note/tag link.
func (s *Store) UntagNote(ctx context.Context, noteID, tagID int64) error {
	err := s.withRetry(ctx, "untag note", func() error {
		_, err := s.conn.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ? AND tag_id = ?`, noteID, tagID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to untag note %d: %w", noteID, err)
	}
	return nil
}

// TagsForNote returns the tags linked to a note ordered by name.
func (s *Store) TagsForNote(ctx context.Context, noteID int64) ([]*Tag, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT t.id, t.folder_id, t.name, t.color, t.parent_id
		FROM tags t JOIN note_tags nt ON nt.tag_id = t.id
		WHERE nt.note_id = ?
		ORDER BY t.name`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for note %d: %w", noteID, err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// NotesForTag returns the live notes linked to a tag ordered by path.
func (s *Store) NotesForTag(ctx context.Context, tagID int64) ([]*Note, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT n.id, n.folder_id, n.path, n.fingerprint, n.mtime, n.cached_at, n.deleted
		FROM notes n JOIN note_tags nt ON nt.note_id = n.id
		WHERE nt.tag_id = ? AND n.deleted = 0
		ORDER BY n.path`, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes for tag %d: %w", tagID, err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// SetNoteTags replaces the front-matter tags of a note with names, creating
// missing tags. Manually applied tags are left alone.
func (s *Store) SetNoteTags(ctx context.Context, folderID, noteID int64, names []string) error {
	err := s.inTx(ctx, "set note tags", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM note_tags WHERE note_id = ? AND source = ?`, noteID, TagSourceFrontMatter,
		); err != nil {
			return fmt.Errorf("failed to clear front matter tags: %w", err)
		}

		for _, name := range names {
			var tagID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO tags (folder_id, name) VALUES (?, ?)
				ON CONFLICT(folder_id, name) DO UPDATE SET name = excluded.name
				RETURNING id`, folderID, name,
			).Scan(&tagID)
			if err != nil {
				return fmt.Errorf("failed to ensure tag %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO note_tags (note_id, tag_id, source) VALUES (?, ?, ?)
				 ON CONFLICT(note_id, tag_id) DO NOTHING`,
				noteID, tagID, TagSourceFrontMatter,
			); err != nil {
				return fmt.Errorf("failed to link tag %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set tags for note %d: %w", noteID, err)
	}
	return nil
}

func scanTag(row rowScanner) (*Tag, error) {
	var t Tag
	var color sql.NullString
	var parent sql.NullInt64
	if err := row.Scan(&t.ID, &t.FolderID, &t.Name, &color, &parent); err != nil {
		return nil, err
	}
	t.Color = color.String
	t.ParentID = parent.Int64
	return &t, nil
}

func scanTags(rows *sql.Rows) ([]*Tag, error) {
	var tags []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}
