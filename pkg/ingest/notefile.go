package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Wei1024/notegraph/internal/store"
)

// NoteWriter persists the on-disk markdown form of a note: YAML
// front-matter delimited by --- lines, then the body.
type NoteWriter struct {
	dir string
}

// NewNoteWriter creates a writer rooted at dir, creating it if needed.
func NewNoteWriter(dir string) (*NoteWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("notefile: create dir: %w", err)
	}
	return &NoteWriter{dir: dir}, nil
}

// frontMatter is the YAML header. Field order follows the declaration.
type frontMatter struct {
	ID             string              `yaml:"id"`
	Title          string              `yaml:"title"`
	Created        string              `yaml:"created"`
	Updated        string              `yaml:"updated"`
	Tags           []string            `yaml:"tags,omitempty"`
	Status         string              `yaml:"status,omitempty"`
	NeedsReview    bool                `yaml:"needs_review,omitempty"`
	ReviewReason   string              `yaml:"review_reason,omitempty"`
	Entities       map[string][]string `yaml:"entities,omitempty"`
	TimeReferences []timeRefYAML       `yaml:"time_references,omitempty"`
}

type timeRefYAML struct {
	Original string  `yaml:"original"`
	Parsed   *string `yaml:"parsed"`
	Kind     string  `yaml:"kind"`
}

// Write renders the note to <dir>/<id>.md and returns the path.
func (w *NoteWriter) Write(node *store.Node, created time.Time) (string, error) {
	front := frontMatter{
		ID:           node.ID,
		Title:        node.Title,
		Created:      created.Format(time.RFC3339),
		Updated:      created.Format(time.RFC3339),
		Tags:         node.Tags,
		NeedsReview:  node.NeedsReview,
		ReviewReason: node.ReviewReason,
	}
	if len(node.Who) > 0 || len(node.What) > 0 || len(node.Where) > 0 {
		front.Entities = map[string][]string{}
		if len(node.Who) > 0 {
			front.Entities["who"] = node.Who
		}
		if len(node.What) > 0 {
			front.Entities["what"] = node.What
		}
		if len(node.Where) > 0 {
			front.Entities["where"] = node.Where
		}
	}
	for _, ref := range node.When {
		front.TimeReferences = append(front.TimeReferences, timeRefYAML{
			Original: ref.Original,
			Parsed:   ref.Parsed,
			Kind:     string(ref.Kind),
		})
	}

	header, err := yaml.Marshal(front)
	if err != nil {
		return "", fmt.Errorf("notefile: marshal front-matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")
	sb.WriteString(node.Text)
	if !strings.HasSuffix(node.Text, "\n") {
		sb.WriteString("\n")
	}

	path := filepath.Join(w.dir, node.ID+".md")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("notefile: write %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes the on-disk note file, tolerating a file that was never
// written.
func (w *NoteWriter) Remove(id string) error {
	err := os.Remove(filepath.Join(w.dir, id+".md"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ParseNoteFile splits a note file into front-matter and body.
func ParseNoteFile(data []byte) (map[string]any, string, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, nil
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content, fmt.Errorf("notefile: unterminated front-matter")
	}

	var front map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &front); err != nil {
		return nil, "", fmt.Errorf("notefile: parse front-matter: %w", err)
	}
	body := strings.TrimPrefix(rest[end+4:], "\n")
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}
