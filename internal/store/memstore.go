package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Storer. It backs tests for the ingest, linking,
// retrieval and clustering layers without a database file; the services only
// see the Storer interface, so swapping it for SQLiteStore is transparent.
// FTS here is a token-containment approximation of FTS5 with a term-count
// pseudo-BM25, which is enough for ranking assertions in tests.
type MemStore struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    map[string]*Edge
	clusters map[int64]*Cluster
	tags     map[string]*TagRecord
	audits   []*AuditRecord

	// FailPutNode, when set, is returned by every PutNode call. Tests use
	// it to simulate a busy or conflicted writer.
	FailPutNode error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		clusters: make(map[int64]*Cluster),
		tags:     make(map[string]*TagRecord),
	}
}

func edgeKey(e *Edge) string {
	return e.SrcID + "\x00" + e.DstID + "\x00" + string(e.Relation) + "\x00" + e.EntityType
}

func cloneNode(n *Node) *Node {
	cp := *n
	cp.Who = append([]string(nil), n.Who...)
	cp.What = append([]string(nil), n.What...)
	cp.Where = append([]string(nil), n.Where...)
	cp.When = append([]TimeRef(nil), n.When...)
	cp.Tags = append([]string(nil), n.Tags...)
	cp.Embedding = append([]float32(nil), n.Embedding...)
	cp.Prospective = append([]ProspectiveItem(nil), n.Prospective...)
	if n.ClusterID != nil {
		cid := *n.ClusterID
		cp.ClusterID = &cid
	}
	return &cp
}

// PutNode upserts a node with the same optimistic version check as the
// SQLite implementation.
func (s *MemStore) PutNode(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPutNode != nil {
		return s.FailPutNode
	}

	existing, ok := s.nodes[n.ID]
	if !ok {
		n.Version = 1
	} else {
		if n.Version != 0 && n.Version != existing.Version {
			return ErrConflict
		}
		n.Version = existing.Version + 1
	}
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

func (s *MemStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNode(n), nil
}

func (s *MemStore) ListNodes(filters NodeFilters) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Node
	for _, n := range s.nodes {
		if filters.Tag != "" && !containsFold(n.Tags, filters.Tag) {
			continue
		}
		if filters.Who != "" && !containsFold(n.Who, filters.Who) {
			continue
		}
		if filters.Status == "needs_review" && !n.NeedsReview {
			continue
		}
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func (s *MemStore) UpdateNodeCluster(id string, clusterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	if clusterID == nil {
		n.ClusterID = nil
	} else {
		cid := *clusterID
		n.ClusterID = &cid
	}
	return nil
}

func (s *MemStore) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return ErrNotFound
	}
	delete(s.nodes, id)
	for k, e := range s.edges {
		if e.SrcID == id || e.DstID == id {
			delete(s.edges, k)
		}
	}
	for _, r := range s.audits {
		if r.NoteID == id {
			r.NoteID = ""
		}
	}
	return nil
}

func (s *MemStore) CountNodes() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), nil
}

func (s *MemStore) UpsertEdge(e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	s.edges[edgeKey(e)] = &cp
	return nil
}

func (s *MemStore) GetEdges(nodeID string, relation Relation) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Edge
	for _, e := range s.edges {
		if e.SrcID != nodeID && e.DstID != nodeID {
			continue
		}
		if relation != "" && e.Relation != relation {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return edgeKey(out[i]) < edgeKey(out[j]) })
	return out, nil
}

func (s *MemStore) ListAllEdges() ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return edgeKey(out[i]) < edgeKey(out[j]) })
	return out, nil
}

func (s *MemStore) DeleteEdgesForNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.edges {
		if e.SrcID == nodeID || e.DstID == nodeID {
			delete(s.edges, k)
		}
	}
	return nil
}

func (s *MemStore) PutCluster(c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clusters[c.ID] = &cp
	return nil
}

func (s *MemStore) GetCluster(id int64) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) ListClusters() ([]*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) ClearClusters() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = make(map[int64]*Cluster)
	for _, n := range s.nodes {
		n.ClusterID = nil
	}
	return nil
}

func (s *MemStore) UpsertTag(t *TagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tags[t.ID] = &cp
	return nil
}

func (s *MemStore) GetTagByName(name string) (*TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListTags() ([]*TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TagRecord, 0, len(s.tags))
	for _, t := range s.tags {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FTSSearch approximates FTS5: a node matches when its title, text or tags
// contain at least one bare query term (quotes are stripped and OR/AND
// dropped first), and the pseudo-BM25 score is
// the negated total term count so that more occurrences rank better, like
// SQLite's smaller-is-better bm25().
func (s *MemStore) FTSSearch(query string, limit int) ([]FtsHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	terms := ftsTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []FtsHit
	for _, n := range s.nodes {
		haystack := strings.ToLower(n.Title + " " + n.Text + " " + strings.Join(n.Tags, " "))
		count := 0
		for _, term := range terms {
			count += strings.Count(haystack, term)
		}
		if count == 0 {
			continue
		}
		hits = append(hits, FtsHit{
			ID:      n.ID,
			Path:    n.FilePath,
			Snippet: snippetAround(n.Text, terms[0]),
			BM25:    -float64(count),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].BM25 != hits[j].BM25 {
			return hits[i].BM25 < hits[j].BM25
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func ftsTerms(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.ReplaceAll(q, `"`, " ")
	var terms []string
	for _, f := range strings.Fields(q) {
		if f == "or" || f == "and" {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func snippetAround(text, term string) string {
	idx := strings.Index(strings.ToLower(text), term)
	if idx < 0 {
		if len(text) > 80 {
			return text[:80] + "..."
		}
		return text
	}
	start := idx - 30
	if start < 0 {
		start = 0
	}
	end := idx + len(term) + 30
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// VectorSearch brute-forces cosine similarity over stored embeddings.
// Embeddings are unit-norm, so the dot product is the cosine.
func (s *MemStore) VectorSearch(query []float32, limit int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var hits []VectorHit
	for _, n := range s.nodes {
		if len(n.Embedding) == 0 || len(n.Embedding) != len(query) {
			continue
		}
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(n.Embedding[i])
		}
		hits = append(hits, VectorHit{ID: n.ID, Similarity: dot})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemStore) LogAuditRecord(r *AuditRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.ID = int64(len(s.audits) + 1)
	s.audits = append(s.audits, &cp)
	return cp.ID, nil
}

// AuditRecords returns everything logged so far, for test assertions.
func (s *MemStore) AuditRecords() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemStore) GetOperationStats(operationType string, sinceMillis int64) (OperationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats OperationStats
	var totalDuration int64
	var totalCost float64
	var costCount int
	for _, r := range s.audits {
		if r.OperationType != operationType || r.CreatedAt < sinceMillis {
			continue
		}
		stats.TotalOperations++
		if r.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		totalDuration += r.DurationMS
		if r.DurationMS > stats.MaxDurationMS {
			stats.MaxDurationMS = r.DurationMS
		}
		if r.TokensInput != nil {
			stats.TotalTokensInput += *r.TokensInput
		}
		if r.TokensOutput != nil {
			stats.TotalTokensOutput += *r.TokensOutput
		}
		if r.CostUSD != nil {
			totalCost += *r.CostUSD
			costCount++
		}
	}
	if stats.TotalOperations > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(stats.TotalOperations)
	}
	stats.TotalCostUSD = totalCost
	if costCount > 0 {
		stats.AvgCostUSD = totalCost / float64(costCount)
	}
	return stats, nil
}

func (s *MemStore) Export() ([]byte, error) {
	nodes, _ := s.ListNodes(NodeFilters{})
	edges, _ := s.ListAllEdges()
	clusters, _ := s.ListClusters()
	tags, _ := s.ListTags()
	return json.Marshal(exportBundle{Nodes: nodes, Edges: edges, Clusters: clusters, Tags: tags})
}

func (s *MemStore) Import(data []byte) error {
	var bundle exportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("unmarshal export bundle: %w", err)
	}
	s.mu.Lock()
	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.clusters = make(map[int64]*Cluster)
	s.tags = make(map[string]*TagRecord)
	s.mu.Unlock()

	for _, t := range bundle.Tags {
		if err := s.UpsertTag(t); err != nil {
			return err
		}
	}
	for _, n := range bundle.Nodes {
		n.Version = 0
		if err := s.PutNode(n); err != nil {
			return err
		}
	}
	for _, c := range bundle.Clusters {
		if err := s.PutCluster(c); err != nil {
			return err
		}
	}
	for _, e := range bundle.Edges {
		if err := s.UpsertEdge(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

var _ Storer = (*MemStore)(nil)
