package linker

import (
	"math"
	"testing"

	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/embedding"
)

// unitVec builds a 384-dim unit vector concentrated on the given axes.
func unitVec(axes ...int) []float32 {
	v := make([]float32, embedding.Dim)
	for _, a := range axes {
		v[a] = 1
	}
	embedding.Normalize(v)
	return v
}

func putNode(t *testing.T, s store.Storer, n *store.Node) {
	t.Helper()
	if err := s.PutNode(n); err != nil {
		t.Fatalf("PutNode %s failed: %v", n.ID, err)
	}
}

func TestSemanticEdgesAboveThreshold(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Embedding: unitVec(0, 1)})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Embedding: unitVec(0, 1)})
	putNode(t, s, &store.Node{ID: "c", Text: "c", CreatedAt: 3, Embedding: unitVec(7)})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("b")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("b", store.RelationSemantic)
	if len(edges) != 1 {
		t.Fatalf("expected 1 semantic edge, got %d", len(edges))
	}
	e := edges[0]
	if e.SrcID != "a" || e.DstID != "b" {
		t.Errorf("expected normalized direction a->b, got %s->%s", e.SrcID, e.DstID)
	}
	if e.Weight < 0.9999 {
		t.Errorf("identical embeddings should have similarity ~1, got %v", e.Weight)
	}
}

func TestNoSelfSemanticEdge(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Embedding: unitVec(0)})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("a")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("a", store.RelationSemantic)
	if len(edges) != 0 {
		t.Errorf("no self-edge may be written, got %+v", edges)
	}
}

func TestNoSemanticEdgesWithoutEmbedding(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Embedding: unitVec(0)})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("a")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("a", store.RelationSemantic)
	if len(edges) != 0 {
		t.Errorf("embedding-less node must emit no semantic edges, got %+v", edges)
	}
}

func TestEntityEdgesPerSubtype(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Who: []string{"Sarah"}, What: []string{"FAISS"}})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Who: []string{"sarah"}, What: []string{"faiss"}})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("b")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("b", store.RelationEntityLink)
	if len(edges) != 2 {
		t.Fatalf("expected one edge per subtype, got %d", len(edges))
	}

	bySubtype := map[string]*store.Edge{}
	for _, e := range edges {
		bySubtype[e.EntityType] = e
	}
	who, ok := bySubtype["who"]
	if !ok {
		t.Fatal("missing who edge")
	}
	if shared, _ := who.Metadata["shared_who"].([]string); len(shared) != 1 || shared[0] != "sarah" {
		t.Errorf("expected shared_who carrying the linking node's casing, got %v", who.Metadata["shared_who"])
	}
	if who.Weight != 1 {
		t.Errorf("expected weight 1 for one shared entity, got %v", who.Weight)
	}
	if _, ok := bySubtype["what"]; !ok {
		t.Fatal("missing what edge")
	}
}

func TestTagJaccardEdge(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Tags: []string{"project/alpha", "urgent"}})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Tags: []string{"project/alpha"}})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("b")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("b", store.RelationTagLink)
	if len(edges) != 1 {
		t.Fatalf("expected 1 tag edge, got %d", len(edges))
	}
	if math.Abs(edges[0].Weight-0.5) > 1e-9 {
		t.Errorf("expected Jaccard weight 0.5, got %v", edges[0].Weight)
	}
}

func TestTagEdgeBelowThreshold(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Tags: []string{"alpha"}})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Tags: []string{"beta"}})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("b")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("b", store.RelationTagLink)
	if len(edges) != 0 {
		t.Errorf("disjoint tags must produce no edge, got %+v", edges)
	}
}

func TestTagNormalizationEquivalence(t *testing.T) {
	sim, shared := tagSimilarity([]string{"ai-research"}, []string{"ai_research"})
	if sim != 1.0 {
		t.Errorf("hyphen and underscore forms should be equal, got %v", sim)
	}
	if len(shared) != 1 || shared[0] != "ai-research" {
		t.Errorf("shared tags should carry the first set's casing, got %v", shared)
	}
}

func TestTimeNextEdgesDirection(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "old", Text: "old", CreatedAt: 100})
	putNode(t, s, &store.Node{ID: "mid", Text: "mid", CreatedAt: 200})
	putNode(t, s, &store.Node{ID: "new", Text: "new", CreatedAt: 300})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("mid")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}

	edges, _ := s.GetEdges("mid", store.RelationTimeNext)
	if len(edges) != 2 {
		t.Fatalf("expected edges to both chronological neighbours, got %d", len(edges))
	}
	for _, e := range edges {
		switch {
		case e.SrcID == "old" && e.DstID == "mid":
		case e.SrcID == "mid" && e.DstID == "new":
		default:
			t.Errorf("unexpected time_next direction %s->%s", e.SrcID, e.DstID)
		}
		if e.Weight != 1.0 {
			t.Errorf("expected fixed weight 1.0, got %v", e.Weight)
		}
	}
}

func TestLinkNodeIdempotent(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Text: "a", CreatedAt: 1, Tags: []string{"x"}, Embedding: unitVec(0)})
	putNode(t, s, &store.Node{ID: "b", Text: "b", CreatedAt: 2, Tags: []string{"x"}, Embedding: unitVec(0)})

	l := New(s, DefaultConfig())
	node, _ := s.GetNode("b")
	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("first LinkNode failed: %v", err)
	}
	first, _ := s.ListAllEdges()

	if _, err := l.LinkNode(node); err != nil {
		t.Fatalf("second LinkNode failed: %v", err)
	}
	second, _ := s.ListAllEdges()

	if len(first) != len(second) {
		t.Errorf("re-linking changed the edge count: %d vs %d", len(first), len(second))
	}
}
