package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mschirtzinger/notesync/internal/store"
)

// TagInfo is a tag with the number of live notes carrying it.
type TagInfo struct {
	store.Tag
	Notes int
}

// ListTags returns the folder's tags ordered by name.
func (e *Engine) ListTags(ctx context.Context) ([]TagInfo, error) {
	var out []TagInfo
	err := e.call(ctx, func() error {
		tags, err := e.store.ListTags(ctx, e.folder.ID)
		if err != nil {
			return err
		}
		out = make([]TagInfo, 0, len(tags))
		for _, t := range tags {
			notes, err := e.store.NotesForTag(ctx, t.ID)
			if err != nil {
				return err
			}
			out = append(out, TagInfo{Tag: *t, Notes: len(notes)})
		}
		return nil
	})
	return out, err
}

// CreateTag creates a tag. parent, when set, names an existing tag.
func (e *Engine) CreateTag(ctx context.Context, name, color, parent string) (*store.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}
	var tag *store.Tag
	err := e.call(ctx, func() error {
		var parentID int64
		if parent != "" {
			p, err := e.store.GetTagByName(ctx, e.folder.ID, parent)
			if err != nil {
				return fmt.Errorf("parent %q: %w", parent, err)
			}
			parentID = p.ID
		}
		t, err := e.store.CreateTag(ctx, e.folder.ID, name, color, parentID)
		if err != nil {
			return err
		}
		tag = t
		return nil
	})
	return tag, err
}

// DeleteTag deletes the tag named name. Notes keep existing; front matter
// tags come back on the next change to a note that declares them.
func (e *Engine) DeleteTag(ctx context.Context, name string) error {
	return e.call(ctx, func() error {
		t, err := e.store.GetTagByName(ctx, e.folder.ID, name)
		if err != nil {
			return fmt.Errorf("tag %q: %w", name, err)
		}
		return e.store.DeleteTag(ctx, t.ID)
	})
}

// NoteTags returns the names of the tags on path.
func (e *Engine) NoteTags(ctx context.Context, path string) ([]string, error) {
	path, err := cleanNotePath(path)
	if err != nil {
		return nil, err
	}
	var names []string
	err = e.call(ctx, func() error {
		n, err := e.store.GetByPath(ctx, e.folder.ID, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		tags, err := e.store.TagsForNote(ctx, n.ID)
		if err != nil {
			return err
		}
		for _, t := range tags {
			names = append(names, t.Name)
		}
		return nil
	})
	return names, err
}
