package note

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// FrontMatter is the subset of a note's YAML header the engine cares about.
type FrontMatter struct {
	Title string
	Tags  []string
}

type rawFrontMatter struct {
	Title string    `yaml:"title"`
	Tags  yaml.Node `yaml:"tags"`
}

// SplitFrontMatter separates a leading YAML block from the body. ok is false
// when the content has no front matter.
func SplitFrontMatter(content string) (header, body string, ok bool) {
	s := strings.TrimPrefix(content, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.HasPrefix(s, frontMatterDelim+"\n") {
		return "", content, false
	}
	rest := s[len(frontMatterDelim)+1:]

	if strings.HasPrefix(rest, frontMatterDelim+"\n") || rest == frontMatterDelim {
		return "", strings.TrimPrefix(strings.TrimPrefix(rest, frontMatterDelim), "\n"), true
	}
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return "", content, false
	}
	header = rest[:end]
	body = rest[end+len(frontMatterDelim)+1:]
	body = strings.TrimPrefix(body, "\n")
	return header, body, true
}

// ParseFrontMatter extracts title and tags from content. Tags may be a YAML
// list or a comma separated string. Content without front matter yields a
// zero FrontMatter and no error.
func ParseFrontMatter(content string) (FrontMatter, error) {
	header, _, ok := SplitFrontMatter(content)
	if !ok || strings.TrimSpace(header) == "" {
		return FrontMatter{}, nil
	}

	var raw rawFrontMatter
	if err := yaml.Unmarshal([]byte(header), &raw); err != nil {
		return FrontMatter{}, fmt.Errorf("failed to parse front matter: %w", err)
	}

	fm := FrontMatter{Title: raw.Title}
	switch raw.Tags.Kind {
	case 0:
	case yaml.ScalarNode:
		fm.Tags = strings.Split(raw.Tags.Value, ",")
	case yaml.SequenceNode:
		var list []string
		if err := raw.Tags.Decode(&list); err != nil {
			return FrontMatter{}, fmt.Errorf("failed to parse tags: %w", err)
		}
		fm.Tags = list
	default:
		return FrontMatter{}, fmt.Errorf("tags must be a list or a string")
	}
	fm.Tags = normalizeTags(fm.Tags)
	return fm, nil
}

// normalizeTags trims, drops "#" prefixes and empties, and de-duplicates.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
