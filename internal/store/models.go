// Package store provides SQLite-backed persistence for the note graph.
package store

import "errors"

// Sentinel errors distinguished by callers per the error-kind table.
var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by PutNode when a concurrent writer raced
	// the read-modify-write cycle on the same node id.
	ErrConflict = errors.New("store: version conflict")
	// ErrBusy marks a write that could not acquire the writer lock.
	// SQLiteStore does not return it: a SQLite busy error (raised once the
	// 5-second busy_timeout expires) is returned wrapped as it comes, and
	// errors.Is(err, ErrBusy) is false for it.
	ErrBusy = errors.New("store: busy")
)

// TimeRefKind enumerates the closed set of time-reference classifications.
type TimeRefKind string

const (
	TimeRefAbsolute  TimeRefKind = "absolute"
	TimeRefRelative  TimeRefKind = "relative"
	TimeRefDuration  TimeRefKind = "duration"
	TimeRefRecurring TimeRefKind = "recurring"
)

// TimeRef is one parsed time expression found in a note's text.
type TimeRef struct {
	Original string      `json:"original"`
	Parsed   *string     `json:"parsed"` // ISO-8601, or nil if unresolved/past-duration
	Kind     TimeRefKind `json:"kind"`
}

// ProspectiveItem is a future-facing action/question/decision bound to an
// optional timepoint drawn from the node's When list. Stored as node
// metadata only, never as a graph edge.
type ProspectiveItem struct {
	Content  string  `json:"content"`
	Timedata *string `json:"timedata"`
}

// Node is one note in the graph, carrying episodic metadata and an
// optional dense embedding.
type Node struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Text         string            `json:"text"`
	FilePath     string            `json:"filePath"`
	CreatedAt    int64             `json:"createdAt"` // unix millis
	Who          []string          `json:"who"`
	What         []string          `json:"what"`
	Where        []string          `json:"where"`
	When         []TimeRef         `json:"when"`
	Tags         []string          `json:"tags"`
	Embedding    []float32         `json:"embedding,omitempty"` // nil if absent; else len 384
	ClusterID    *int64            `json:"clusterId,omitempty"`
	NeedsReview  bool              `json:"needsReview"`
	ReviewReason string            `json:"reviewReason,omitempty"`
	Prospective  []ProspectiveItem `json:"prospective,omitempty"`
	Version      int64             `json:"version"` // optimistic-concurrency token
}

// Relation enumerates the closed set of edge relation kinds.
type Relation string

const (
	RelationSemantic   Relation = "semantic"
	RelationEntityLink Relation = "entity_link"
	RelationTagLink    Relation = "tag_link"
	RelationTimeNext   Relation = "time_next"
)

// Edge connects two nodes. For symmetric relations (semantic, entity_link,
// tag_link), SrcID < DstID lexicographically. time_next is directional,
// older -> newer. Identity is (SrcID, DstID, Relation, EntityType):
// entity_link carries one edge per entity subtype ("who", "what", "where"),
// so the subtype participates in the key; every other relation leaves
// EntityType empty.
type Edge struct {
	SrcID      string         `json:"srcId"`
	DstID      string         `json:"dstId"`
	Relation   Relation       `json:"relation"`
	EntityType string         `json:"entityType,omitempty"`
	Weight     float64        `json:"weight"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

// Cluster is a titled, summarized community produced by C8.
type Cluster struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Size      int    `json:"size"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// TagRecord is a canonical, hierarchical user tag.
type TagRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Level    int    `json:"level"` // 0..2
	UseCount int    `json:"useCount"`
}

// AuditRecord is one logged LLM/embedder call (C9).
type AuditRecord struct {
	ID            int64    `json:"id"`
	NoteID        string   `json:"noteId,omitempty"`
	OperationType string   `json:"operationType"`
	CreatedAt     int64    `json:"createdAt"`
	Model         string   `json:"model"`
	DurationMS    int64    `json:"durationMs"`
	TokensInput   *int64   `json:"tokensInput,omitempty"`
	TokensOutput  *int64   `json:"tokensOutput,omitempty"`
	CostUSD       *float64 `json:"costUsd,omitempty"`
	PromptText    string   `json:"promptText"`
	RawResponse   string   `json:"rawResponse"`
	ParsedOutput  string   `json:"parsedOutput,omitempty"` // JSON-encoded
	Error         string   `json:"error,omitempty"`
	Success       bool     `json:"success"`
}

// FtsHit is one lexical search result from the FTS5 index.
type FtsHit struct {
	ID      string
	Path    string
	Snippet string
	BM25    float64
}

// VectorHit is one result from a cosine-similarity scan.
type VectorHit struct {
	ID         string
	Similarity float64
}

// NodeFilters narrows ListNodes / fts_search candidate pools. Limit of 0
// means no cap.
type NodeFilters struct {
	Tag    string
	Who    string
	Status string
	Limit  int
}

// Storer is the full persistence contract for the note graph: CRUD for
// nodes, edges, clusters and tags, FTS/vector search primitives, and the
// LLM audit log. SQLiteStore is the persistent implementation; MemStore is
// an in-memory implementation used by tests.
type Storer interface {
	// Nodes
	PutNode(n *Node) error
	GetNode(id string) (*Node, error)
	ListNodes(filters NodeFilters) ([]*Node, error)
	UpdateNodeCluster(id string, clusterID *int64) error
	DeleteNode(id string) error
	CountNodes() (int, error)

	// Edges
	UpsertEdge(e *Edge) error
	GetEdges(nodeID string, relation Relation) ([]*Edge, error)
	ListAllEdges() ([]*Edge, error)
	DeleteEdgesForNode(nodeID string) error

	// Clusters
	PutCluster(c *Cluster) error
	GetCluster(id int64) (*Cluster, error)
	ListClusters() ([]*Cluster, error)
	ClearClusters() error

	// Tags
	UpsertTag(t *TagRecord) error
	GetTagByName(name string) (*TagRecord, error)
	ListTags() ([]*TagRecord, error)

	// Search
	FTSSearch(query string, limit int) ([]FtsHit, error)
	VectorSearch(query []float32, limit int) ([]VectorHit, error)

	// Audit log
	LogAuditRecord(r *AuditRecord) (int64, error)
	GetOperationStats(operationType string, sinceMillis int64) (OperationStats, error)

	// Bulk
	Export() ([]byte, error)
	Import(data []byte) error

	Close() error
}

// OperationStats aggregates llm_operations rows, mirroring the prototype's
// get_operation_stats.
type OperationStats struct {
	TotalOperations   int
	Successful        int
	Failed            int
	AvgDurationMS     float64
	MaxDurationMS     int64
	TotalTokensInput  int64
	TotalTokensOutput int64
	TotalCostUSD      float64
	AvgCostUSD        float64
}
