package retrieval

import (
	"context"
	"testing"

	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/embedding"
)

// fixedEmbedder returns a preset vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func axisVec(axes ...int) []float32 {
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

func TestSearchLexicalSignal(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "n1", Title: "FAISS notes", Text: "Met with Sarah at Café Awesome to discuss FAISS.", FilePath: "n1.md", CreatedAt: 100})
	putNode(t, s, &store.Node{ID: "n2", Title: "Groceries", Text: "Buy milk and eggs", FilePath: "n2.md", CreatedAt: 200})

	r := New(s, nil, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "FAISS", 10, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "n1" {
		t.Fatalf("expected only the FAISS note, got %+v", results)
	}
	if results[0].Signals.Lex <= 0 {
		t.Errorf("expected a positive lexical signal, got %+v", results[0].Signals)
	}
	if results[0].Snippet == "" {
		t.Error("expected an FTS snippet")
	}
}

func TestSearchVectorSignal(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "a", Title: "a", Text: "completely unrelated words", CreatedAt: 1, Embedding: axisVec(0)})
	putNode(t, s, &store.Node{ID: "b", Title: "b", Text: "other text entirely", CreatedAt: 2, Embedding: axisVec(5)})

	r := New(s, &fixedEmbedder{vec: axisVec(0)}, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "no lexical overlap here", 10, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("expected vector match on a, got %+v", results)
	}
	if results[0].Signals.Vec < 0.99 {
		t.Errorf("expected vec signal ~1, got %v", results[0].Signals.Vec)
	}
}

func TestSearchGraphExpansion(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "seed", Title: "seed", Text: "vector search with FAISS", CreatedAt: 1})
	putNode(t, s, &store.Node{ID: "nbr", Title: "nbr", Text: "nothing lexically related", CreatedAt: 2})
	if err := s.UpsertEdge(&store.Edge{SrcID: "nbr", DstID: "seed", Relation: store.RelationSemantic, Weight: 0.8, CreatedAt: 1}); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	r := New(s, nil, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "FAISS", 10, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected seed plus expanded neighbour, got %+v", results)
	}
	if results[0].ID != "seed" {
		t.Errorf("seed should outrank the neighbour, got %s first", results[0].ID)
	}
	nbr := results[1]
	if nbr.ID != "nbr" || nbr.Signals.Graph <= 0 {
		t.Errorf("expected graph signal on neighbour, got %+v", nbr)
	}
	// seed partial = alpha*1; graph = weight * partial * decay.
	want := 0.8 * 0.4 * 0.5
	if diff := nbr.Signals.Graph - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected graph signal %v, got %v", want, nbr.Signals.Graph)
	}
	if len(nbr.Edges) != 1 || nbr.Edges[0].From != "seed" {
		t.Errorf("expected the contributing edge to be reported, got %+v", nbr.Edges)
	}
}

func TestSearchFusionPrefersSemanticCluster(t *testing.T) {
	s := store.NewMemStore()
	// Two notes tie lexically; the one close to the query vector must win.
	putNode(t, s, &store.Node{ID: "faiss", Title: "faiss", Text: "notes about search indexes", CreatedAt: 1, Embedding: axisVec(0)})
	putNode(t, s, &store.Node{ID: "cook", Title: "cook", Text: "notes about search for recipes", CreatedAt: 2, Embedding: axisVec(9)})

	r := New(s, &fixedEmbedder{vec: axisVec(0)}, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "search", 10, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both notes, got %+v", results)
	}
	if results[0].ID != "faiss" {
		t.Errorf("vector similarity should break the lexical tie, got %s first", results[0].ID)
	}
}

func TestSearchTieBreakByCreatedThenID(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "older", Title: "t", Text: "identical text", CreatedAt: 100})
	putNode(t, s, &store.Node{ID: "newer", Title: "t", Text: "identical text", CreatedAt: 200})

	r := New(s, nil, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "identical", 10, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "newer" {
		t.Errorf("higher created must win ties, got %+v", results)
	}
}

func TestSearchPersonFilterNarrowsPool(t *testing.T) {
	s := store.NewMemStore()
	putNode(t, s, &store.Node{ID: "withsarah", Title: "t", Text: "project sync", CreatedAt: 1, Who: []string{"Sarah"}})
	putNode(t, s, &store.Node{ID: "withtom", Title: "t", Text: "project sync", CreatedAt: 2, Who: []string{"Tom"}})

	r := New(s, nil, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "project", 10, Filters{Person: "Sarah"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "withsarah" {
		t.Errorf("person filter should narrow the pool, got %+v", results)
	}
}

func TestSearchLimitApplied(t *testing.T) {
	s := store.NewMemStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		putNode(t, s, &store.Node{ID: id, Title: id, Text: "common keyword here", CreatedAt: 1})
	}

	r := New(s, nil, nil, DefaultConfig())
	results, err := r.Search(context.Background(), "keyword", 2, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected the limit to apply, got %d", len(results))
	}
}

func TestBuildFTSQueryFoldsFilters(t *testing.T) {
	q := buildFTSQuery("memory", Filters{Entity: "FAISS", Emotion: "excited"})
	want := `"memory" OR "FAISS" OR "excited"`
	if q != want {
		t.Errorf("expected %q, got %q", want, q)
	}

	if q := buildFTSQuery("memory", Filters{}); q != "memory" {
		t.Errorf("single term should pass through, got %q", q)
	}
}
