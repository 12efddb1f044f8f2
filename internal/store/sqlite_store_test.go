package store

import "testing"

func newTestNode(id, text string) *Node {
	return &Node{
		ID:        id,
		Text:      text,
		FilePath:  id + ".md",
		CreatedAt: 1000,
		Who:       []string{"Alice"},
		What:      []string{"standup"},
		Where:     []string{"office"},
		Tags:      []string{"work"},
	}
}

func TestPutNodeAndGetNode(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	n := newTestNode("n1", "Met with Alice about the project")
	n.Embedding = make([]float32, 384)
	n.Embedding[0] = 0.5

	if err := s.PutNode(n); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if n.Version != 1 {
		t.Errorf("expected version 1 on first insert, got %d", n.Version)
	}

	got, err := s.GetNode("n1")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got.Text != n.Text {
		t.Errorf("expected text %q, got %q", n.Text, got.Text)
	}
	if len(got.Embedding) != 384 || got.Embedding[0] != 0.5 {
		t.Errorf("embedding not round-tripped correctly: %v", got.Embedding)
	}
	if len(got.Who) != 1 || got.Who[0] != "Alice" {
		t.Errorf("who not round-tripped correctly: %v", got.Who)
	}
}

func TestPutNodeVersionConflict(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	n := newTestNode("n1", "first text")
	if err := s.PutNode(n); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	stale := newTestNode("n1", "racing writer")
	stale.Version = 1
	if err := s.PutNode(stale); err != nil {
		t.Fatalf("PutNode with matching version should succeed: %v", err)
	}

	again := newTestNode("n1", "stale writer")
	again.Version = 1 // this is now behind the stored version of 2
	if err := s.PutNode(again); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := s.GetNode("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteNodeCascades(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	a := newTestNode("a", "note a")
	b := newTestNode("b", "note b")
	if err := s.PutNode(a); err != nil {
		t.Fatalf("PutNode a failed: %v", err)
	}
	if err := s.PutNode(b); err != nil {
		t.Fatalf("PutNode b failed: %v", err)
	}
	if err := s.UpsertEdge(&Edge{SrcID: "a", DstID: "b", Relation: RelationSemantic, Weight: 0.9, CreatedAt: 1000}); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	if err := s.DeleteNode("a"); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}

	if _, err := s.GetNode("a"); err != ErrNotFound {
		t.Fatalf("expected node a to be gone, got %v", err)
	}
	edges, err := s.GetEdges("b", "")
	if err != nil {
		t.Fatalf("GetEdges failed: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("expected edges touching deleted node to be removed, got %d", len(edges))
	}
}

func TestUpsertEdgeConflictUpdatesWeight(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"a", "b"} {
		if err := s.PutNode(newTestNode(id, "text "+id)); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}
	}

	e := &Edge{SrcID: "a", DstID: "b", Relation: RelationEntityLink, Weight: 2, CreatedAt: 1000}
	if err := s.UpsertEdge(e); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}
	e.Weight = 3
	if err := s.UpsertEdge(e); err != nil {
		t.Fatalf("UpsertEdge (update) failed: %v", err)
	}

	edges, err := s.GetEdges("a", RelationEntityLink)
	if err != nil {
		t.Fatalf("GetEdges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected exactly 1 edge, got %d", len(edges))
	}
	if edges[0].Weight != 3 {
		t.Errorf("expected updated weight 3, got %v", edges[0].Weight)
	}
}

func TestClusterAndTagCRUD(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	c := &Cluster{ID: 1, Title: "Work", Summary: "Work-related notes", Size: 2, CreatedAt: 1000, UpdatedAt: 1000}
	if err := s.PutCluster(c); err != nil {
		t.Fatalf("PutCluster failed: %v", err)
	}
	got, err := s.GetCluster(1)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if got.Title != "Work" {
		t.Errorf("expected title Work, got %q", got.Title)
	}

	if err := s.ClearClusters(); err != nil {
		t.Fatalf("ClearClusters failed: %v", err)
	}
	if _, err := s.GetCluster(1); err != ErrNotFound {
		t.Fatalf("expected cluster to be gone after ClearClusters, got %v", err)
	}

	tag := &TagRecord{ID: "t1", Name: "work", Level: 0}
	if err := s.UpsertTag(tag); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	gotTag, err := s.GetTagByName("work")
	if err != nil {
		t.Fatalf("GetTagByName failed: %v", err)
	}
	if gotTag.ID != "t1" {
		t.Errorf("expected tag id t1, got %s", gotTag.ID)
	}
}

func TestFTSSearch(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.PutNode(newTestNode("n1", "Meeting about the quarterly roadmap")); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if err := s.PutNode(newTestNode("n2", "Grocery list for the weekend")); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	hits, err := s.FTSSearch("roadmap", 10)
	if err != nil {
		t.Fatalf("FTSSearch failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "n1" {
		t.Errorf("expected single hit on n1, got %+v", hits)
	}
}

func TestFTSSearchSanitizesHostileInput(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.PutNode(newTestNode("n1", "ordinary note text")); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	hits, err := s.FTSSearch(`*:impossible token:*`, 10)
	if err != nil {
		t.Fatalf("expected hostile query to be sanitized, got error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for impossible token, got %d", len(hits))
	}
}

func TestUpdateNodeCluster(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.PutNode(newTestNode("n1", "clustered note")); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	cid := int64(3)
	if err := s.UpdateNodeCluster("n1", &cid); err != nil {
		t.Fatalf("UpdateNodeCluster failed: %v", err)
	}
	got, err := s.GetNode("n1")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got.ClusterID == nil || *got.ClusterID != 3 {
		t.Errorf("expected cluster id 3, got %v", got.ClusterID)
	}

	if err := s.UpdateNodeCluster("n1", nil); err != nil {
		t.Fatalf("UpdateNodeCluster (clear) failed: %v", err)
	}
	got, _ = s.GetNode("n1")
	if got.ClusterID != nil {
		t.Errorf("expected cluster id cleared, got %v", got.ClusterID)
	}

	if err := s.UpdateNodeCluster("missing", &cid); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown node, got %v", err)
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	tokensIn := int64(120)
	tokensOut := int64(48)
	cost := 0.0012
	id, err := s.LogAuditRecord(&AuditRecord{
		NoteID:        "n1",
		OperationType: "episodic_extraction",
		CreatedAt:     1000,
		Model:         "gpt-4o-mini",
		DurationMS:    340,
		TokensInput:   &tokensIn,
		TokensOutput:  &tokensOut,
		CostUSD:       &cost,
		PromptText:    "extract who/what/where",
		RawResponse:   `{"who":[]}`,
		Success:       true,
	})
	if err != nil {
		t.Fatalf("LogAuditRecord failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero audit record id")
	}

	stats, err := s.GetOperationStats("episodic_extraction", 0)
	if err != nil {
		t.Fatalf("GetOperationStats failed: %v", err)
	}
	if stats.TotalOperations != 1 || stats.Successful != 1 {
		t.Errorf("expected 1 successful operation, got %+v", stats)
	}
	if stats.TotalTokensInput != 120 {
		t.Errorf("expected total tokens input 120, got %d", stats.TotalTokensInput)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.UpsertTag(&TagRecord{ID: "t1", Name: "work"}); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	n := newTestNode("n1", "Met with Alice about the project")
	if err := s.PutNode(n); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if err := s.PutCluster(&Cluster{ID: 1, Title: "Work", CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
		t.Fatalf("PutCluster failed: %v", err)
	}

	data, err := s.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("exported data is empty")
	}

	s2, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to create second store: %v", err)
	}
	defer s2.Close()

	if err := s2.Import(data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	restored, err := s2.GetNode("n1")
	if err != nil {
		t.Fatalf("failed to get restored node: %v", err)
	}
	if restored.Text != n.Text {
		t.Errorf("expected text %q, got %q", n.Text, restored.Text)
	}

	tags, err := s2.ListTags()
	if err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "work" {
		t.Errorf("expected 1 tag named work, got %+v", tags)
	}

	clusters, err := s2.ListClusters()
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Errorf("expected 1 cluster, got %d", len(clusters))
	}
}
