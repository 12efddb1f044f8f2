package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	trie "github.com/derekparker/trie/v3"
	"github.com/google/uuid"

	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
)

// tagGrammar is the canonical tag shape: lowercase segments of
// [a-z0-9_-], at most three levels deep.
var tagGrammar = regexp.MustCompile(`^[a-z0-9_-]+(/[a-z0-9_-]+){0,2}$`)

// TagRegistry maintains the canonical tag table. A prefix trie over
// normalized names serves lookups and hierarchy listings without touching
// the store on the hot path.
type TagRegistry struct {
	store store.Storer
	trie  *trie.Trie[*store.TagRecord]
}

// NewTagRegistry loads the existing tag table into the trie.
func NewTagRegistry(s store.Storer) (*TagRegistry, error) {
	r := &TagRegistry{store: s, trie: trie.New[*store.TagRecord]()}
	existing, err := s.ListTags()
	if err != nil {
		return nil, fmt.Errorf("tags: load registry: %w", err)
	}
	for _, t := range existing {
		r.trie.Add(normalizeTagKey(t.Name), t)
	}
	return r, nil
}

// normalizeTagKey folds hyphens to underscores so "ai-research" and
// "ai_research" resolve to the same canonical record.
func normalizeTagKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// Register validates tags against the grammar and upserts a TagRecord for
// every level of each valid tag's hierarchy. Invalid tags are dropped and
// recorded in the audit log. Returns the surviving tags.
func (r *TagRegistry) Register(noteID string, tags []string) ([]string, error) {
	valid := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !tagGrammar.MatchString(tag) {
			r.auditInvalid(noteID, tag)
			continue
		}
		if err := r.registerHierarchy(tag); err != nil {
			return nil, err
		}
		valid = append(valid, tag)
	}
	return valid, nil
}

// registerHierarchy ensures records exist for "a", "a/b" and "a/b/c".
func (r *TagRegistry) registerHierarchy(tag string) error {
	segments := strings.Split(tag, "/")
	parentID := ""
	for level := range segments {
		name := strings.Join(segments[:level+1], "/")
		rec := r.lookup(name)
		if rec == nil {
			rec = &store.TagRecord{
				ID:       uuid.Must(uuid.NewV7()).String(),
				Name:     name,
				ParentID: parentID,
				Level:    level,
			}
			if err := r.store.UpsertTag(rec); err != nil {
				return fmt.Errorf("tags: upsert %q: %w", name, err)
			}
			r.trie.Add(normalizeTagKey(name), rec)
		}
		parentID = rec.ID
	}
	return nil
}

// lookup finds the canonical record for a tag name, if registered.
func (r *TagRegistry) lookup(name string) *store.TagRecord {
	node, ok := r.trie.Find(normalizeTagKey(name))
	if !ok {
		return nil
	}
	return node.Meta()
}

// Children lists the registered tags under a prefix, e.g. "project/" ->
// ["project/alpha", "project/beta"]. Names are returned in normalized form
// (hyphens folded to underscores).
func (r *TagRegistry) Children(prefix string) []string {
	return r.trie.PrefixSearch(normalizeTagKey(prefix))
}

func (r *TagRegistry) auditInvalid(noteID, tag string) {
	_, err := r.store.LogAuditRecord(&store.AuditRecord{
		NoteID:        noteID,
		OperationType: "tag_validation",
		CreatedAt:     time.Now().UnixMilli(),
		Model:         "none",
		PromptText:    tag,
		Error:         fmt.Sprintf("tag %q violates the tag grammar", tag),
		Success:       false,
	})
	if err != nil {
		logging.Warnf("audit write skipped for dropped tag %q: %v", tag, err)
	}
}
