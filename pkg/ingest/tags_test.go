package ingest

import (
	"testing"

	"github.com/Wei1024/notegraph/internal/store"
)

func newRegistry(t *testing.T) (*TagRegistry, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	r, err := NewTagRegistry(s)
	if err != nil {
		t.Fatalf("NewTagRegistry failed: %v", err)
	}
	return r, s
}

func TestRegisterCreatesHierarchy(t *testing.T) {
	r, s := newRegistry(t)

	valid, err := r.Register("n1", []string{"client/acme/project"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(valid) != 1 {
		t.Fatalf("expected the tag to survive, got %v", valid)
	}

	tags, _ := s.ListTags()
	if len(tags) != 3 {
		t.Fatalf("expected 3 hierarchy records, got %d", len(tags))
	}

	child, err := s.GetTagByName("client/acme/project")
	if err != nil {
		t.Fatalf("GetTagByName failed: %v", err)
	}
	if child.Level != 2 || child.ParentID == "" {
		t.Errorf("unexpected leaf record: %+v", child)
	}
}

func TestRegisterDropsInvalidTagAndAudits(t *testing.T) {
	r, s := newRegistry(t)

	valid, err := r.Register("n1", []string{"ok", "Bad Tag!", "a/b/c/d"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(valid) != 1 || valid[0] != "ok" {
		t.Errorf("expected only the valid tag, got %v", valid)
	}

	recs := s.AuditRecords()
	if len(recs) != 2 {
		t.Fatalf("expected an audit record per dropped tag, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Success || rec.OperationType != "tag_validation" {
			t.Errorf("unexpected audit record: %+v", rec)
		}
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, s := newRegistry(t)

	if _, err := r.Register("n1", []string{"project/alpha"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register("n2", []string{"project/alpha"}); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	tags, _ := s.ListTags()
	if len(tags) != 2 {
		t.Errorf("re-registering must not duplicate records, got %d", len(tags))
	}
}

func TestHyphenUnderscoreEquivalence(t *testing.T) {
	r, s := newRegistry(t)

	if _, err := r.Register("n1", []string{"ai-research"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register("n2", []string{"ai_research"}); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	tags, _ := s.ListTags()
	if len(tags) != 1 {
		t.Errorf("hyphen and underscore forms should share one record, got %d", len(tags))
	}
}

func TestChildrenPrefixSearch(t *testing.T) {
	r, _ := newRegistry(t)

	if _, err := r.Register("n1", []string{"project/alpha", "project/beta", "personal"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	children := r.Children("project/")
	if len(children) != 2 {
		t.Errorf("expected 2 children under project/, got %v", children)
	}
}
