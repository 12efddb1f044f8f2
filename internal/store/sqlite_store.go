// Package store provides SQLite-backed persistence for the note graph.
// Uses ncruces/go-sqlite3/driver, which provides a database/sql interface,
// plus sqlite-vec for dense-vector storage and FTS5 for lexical search.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the SQLite-backed data store. A single RWMutex enforces
// the single-writer/many-reader discipline: every exported method takes
// the write lock for mutation, the read lock for lookups.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines every table backing the graph.
const schema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    file_path TEXT,
    created_at INTEGER NOT NULL,
    who TEXT NOT NULL DEFAULT '[]',
    what TEXT NOT NULL DEFAULT '[]',
    where_list TEXT NOT NULL DEFAULT '[]',
    when_list TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    cluster_id INTEGER,
    needs_review INTEGER DEFAULT 0,
    review_reason TEXT,
    prospective TEXT NOT NULL DEFAULT '[]',
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_nodes_cluster ON graph_nodes(cluster_id);

-- Manually synced lexical index (not an external-content table: ids are
-- TEXT, not an INTEGER rowid alias, so FTS5's content_rowid can't track
-- them automatically).
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(id UNINDEXED, title, text, tags);

-- Dense vectors, keyed by graph_nodes' implicit rowid. Populated only for
-- nodes that have an embedding.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_nodes USING vec0(embedding float[384]);

CREATE TABLE IF NOT EXISTS graph_edges (
    src_id TEXT NOT NULL,
    dst_id TEXT NOT NULL,
    relation TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    weight REAL NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (src_id, dst_id, relation, entity_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_src ON graph_edges(src_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON graph_edges(dst_id);

CREATE TABLE IF NOT EXISTS graph_clusters (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    parent_id TEXT,
    level INTEGER NOT NULL DEFAULT 0,
    use_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS note_tags (
    note_id TEXT NOT NULL,
    tag_id TEXT NOT NULL,
    PRIMARY KEY (note_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);

CREATE TABLE IF NOT EXISTS llm_operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    note_id TEXT,
    operation_type TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    model TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    tokens_input INTEGER,
    tokens_output INTEGER,
    cost_usd REAL,
    prompt_text TEXT,
    raw_response TEXT,
    parsed_output TEXT,
    error TEXT,
    success INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_llm_ops_type ON llm_operations(operation_type);
CREATE INDEX IF NOT EXISTS idx_llm_ops_note ON llm_operations(note_id);
`

// NewSQLiteStore creates a new in-memory store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// FileDSN builds the data source name for a persistent database file,
// enabling write-ahead journaling and a bounded busy timeout so concurrent
// openers see SQLITE_BUSY instead of blocking forever.
func FileDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// NewSQLiteStoreWithDSN creates a store backed by the given data source
// name. Use ":memory:" for in-memory or a file path for persistent
// storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Node CRUD
// =============================================================================

// PutNode inserts a node, or updates it in place when one with the same
// id already exists. An embedding, if present, is written (replacing any
// prior vector) into vec_nodes keyed by the node's SQLite rowid.
func (s *SQLiteStore) PutNode(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	who, err := json.Marshal(n.Who)
	if err != nil {
		return fmt.Errorf("marshal who: %w", err)
	}
	what, err := json.Marshal(n.What)
	if err != nil {
		return fmt.Errorf("marshal what: %w", err)
	}
	where, err := json.Marshal(n.Where)
	if err != nil {
		return fmt.Errorf("marshal where: %w", err)
	}
	when, err := json.Marshal(n.When)
	if err != nil {
		return fmt.Errorf("marshal when: %w", err)
	}
	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	prospective, err := json.Marshal(n.Prospective)
	if err != nil {
		return fmt.Errorf("marshal prospective: %w", err)
	}

	var existingVersion sql.NullInt64
	err = s.db.QueryRow(`SELECT version FROM graph_nodes WHERE id = ?`, n.ID).Scan(&existingVersion)
	switch {
	case err == sql.ErrNoRows:
		n.Version = 1
	case err != nil:
		return err
	default:
		if n.Version != 0 && n.Version != existingVersion.Int64 {
			return ErrConflict
		}
		n.Version = existingVersion.Int64 + 1
	}

	_, err = s.db.Exec(`
		INSERT INTO graph_nodes (id, title, text, file_path, created_at, who, what, where_list,
			when_list, tags, cluster_id, needs_review, review_reason, prospective, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			text = excluded.text,
			file_path = excluded.file_path,
			who = excluded.who,
			what = excluded.what,
			where_list = excluded.where_list,
			when_list = excluded.when_list,
			tags = excluded.tags,
			cluster_id = excluded.cluster_id,
			needs_review = excluded.needs_review,
			review_reason = excluded.review_reason,
			prospective = excluded.prospective,
			version = excluded.version
	`, n.ID, n.Title, n.Text, n.FilePath, n.CreatedAt, string(who), string(what), string(where),
		string(when), string(tags), n.ClusterID, boolToInt(n.NeedsReview), nullIfEmpty(n.ReviewReason),
		string(prospective), n.Version)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	if _, err := s.db.Exec(`DELETE FROM notes_fts WHERE id = ?`, n.ID); err != nil {
		return fmt.Errorf("resync fts: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO notes_fts (id, title, text, tags) VALUES (?, ?, ?, ?)`,
		n.ID, n.Title, n.Text, joinTags(n.Tags)); err != nil {
		return fmt.Errorf("resync fts: %w", err)
	}

	var rowid int64
	if err := s.db.QueryRow(`SELECT rowid FROM graph_nodes WHERE id = ?`, n.ID).Scan(&rowid); err != nil {
		return fmt.Errorf("locate rowid: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM vec_nodes WHERE rowid = ?`, rowid); err != nil {
		return fmt.Errorf("clear vector: %w", err)
	}
	if len(n.Embedding) > 0 {
		vec, err := json.Marshal(n.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO vec_nodes (rowid, embedding) VALUES (?, ?)`, rowid, string(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}

	return s.syncNodeTags(n.ID, n.Tags)
}

// syncNodeTags replaces a node's note_tags rows and bumps use_count on
// each referenced tag. Caller holds the write lock.
func (s *SQLiteStore) syncNodeTags(nodeID string, tagNames []string) error {
	if _, err := s.db.Exec(`DELETE FROM note_tags WHERE note_id = ?`, nodeID); err != nil {
		return fmt.Errorf("clear note_tags: %w", err)
	}
	for _, name := range tagNames {
		var tagID string
		err := s.db.QueryRow(`SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID)
		if err == sql.ErrNoRows {
			continue // tags are created by the ingest TagRegistry before the node is stored; silently skip unknown names
		}
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)`, nodeID, tagID); err != nil {
			return fmt.Errorf("insert note_tag: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE tags SET use_count = use_count + 1 WHERE id = ?`, tagID); err != nil {
			return fmt.Errorf("bump use_count: %w", err)
		}
	}
	return nil
}

// GetNode retrieves a node by id, including its embedding if one was
// stored.
func (s *SQLiteStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNodeLocked(id)
}

func (s *SQLiteStore) getNodeLocked(id string) (*Node, error) {
	var n Node
	var who, what, where, when, tags, prospective string
	var clusterID sql.NullInt64
	var needsReview int
	var reviewReason sql.NullString
	var rowid int64

	err := s.db.QueryRow(`
		SELECT rowid, id, title, text, file_path, created_at, who, what, where_list, when_list,
			tags, cluster_id, needs_review, review_reason, prospective, version
		FROM graph_nodes WHERE id = ?
	`, id).Scan(&rowid, &n.ID, &n.Title, &n.Text, &n.FilePath, &n.CreatedAt, &who, &what, &where, &when,
		&tags, &clusterID, &needsReview, &reviewReason, &prospective, &n.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := unmarshalAll(&n, who, what, where, when, tags, prospective); err != nil {
		return nil, err
	}
	if clusterID.Valid {
		n.ClusterID = &clusterID.Int64
	}
	n.NeedsReview = needsReview != 0
	n.ReviewReason = reviewReason.String

	var vecJSON string
	err = s.db.QueryRow(`SELECT embedding FROM vec_nodes WHERE rowid = ?`, rowid).Scan(&vecJSON)
	if err == nil {
		var vec []float32
		if jsonErr := json.Unmarshal([]byte(vecJSON), &vec); jsonErr == nil {
			n.Embedding = vec
		}
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	return &n, nil
}

func unmarshalAll(n *Node, who, what, where, when, tags, prospective string) error {
	if err := json.Unmarshal([]byte(who), &n.Who); err != nil {
		return fmt.Errorf("unmarshal who: %w", err)
	}
	if err := json.Unmarshal([]byte(what), &n.What); err != nil {
		return fmt.Errorf("unmarshal what: %w", err)
	}
	if err := json.Unmarshal([]byte(where), &n.Where); err != nil {
		return fmt.Errorf("unmarshal where: %w", err)
	}
	if err := json.Unmarshal([]byte(when), &n.When); err != nil {
		return fmt.Errorf("unmarshal when: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(prospective), &n.Prospective); err != nil {
		return fmt.Errorf("unmarshal prospective: %w", err)
	}
	return nil
}

// ListNodes returns nodes matching the given filters. An empty
// NodeFilters returns every node.
func (s *SQLiteStore) ListNodes(filters NodeFilters) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id FROM graph_nodes`
	var args []any
	var clauses []string
	if filters.Tag != "" {
		clauses = append(clauses, `id IN (SELECT note_id FROM note_tags JOIN tags ON tags.id = note_tags.tag_id WHERE tags.name = ?)`)
		args = append(args, filters.Tag)
	}
	if filters.Who != "" {
		clauses = append(clauses, `who LIKE ?`)
		args = append(args, "%"+filters.Who+"%")
	}
	if filters.Status == "needs_review" {
		clauses = append(clauses, `needs_review = 1`)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.getNodeLocked(id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// DeleteNode removes a node along with its FTS row, vector, tag links and
// incident edges.
func (s *SQLiteStore) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rowid int64
	err := s.db.QueryRow(`SELECT rowid FROM graph_nodes WHERE id = ?`, id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM vec_nodes WHERE rowid = ?`, rowid); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM notes_fts WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM note_tags WHERE note_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM graph_edges WHERE src_id = ? OR dst_id = ?`, id, id); err != nil {
		return err
	}
	// Audit rows outlive the note, but their reference to it does not.
	if _, err := s.db.Exec(`UPDATE llm_operations SET note_id = NULL WHERE note_id = ?`, id); err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM graph_nodes WHERE id = ?`, id)
	return err
}

// UpdateNodeCluster sets or clears a node's cluster assignment without
// touching the rest of the row (no version bump, no FTS resync).
func (s *SQLiteStore) UpdateNodeCluster(id string, clusterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE graph_nodes SET cluster_id = ? WHERE id = ?`, clusterID, id)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountNodes returns the total number of nodes.
func (s *SQLiteStore) CountNodes() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM graph_nodes`).Scan(&count)
	return count, err
}

// =============================================================================
// Edge CRUD
// =============================================================================

// UpsertEdge inserts an edge, or replaces its weight/metadata when the
// (src, dst, relation, entity_type) key already exists. Callers are responsible for
// the min/max id direction-normalization for symmetric relations.
func (s *SQLiteStore) UpsertEdge(e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metaJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal edge metadata: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO graph_edges (src_id, dst_id, relation, entity_type, weight, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id, relation, entity_type) DO UPDATE SET
			weight = excluded.weight,
			metadata = excluded.metadata
	`, e.SrcID, e.DstID, string(e.Relation), e.EntityType, e.Weight, string(metaJSON), e.CreatedAt)
	return err
}

// GetEdges returns edges touching nodeID, optionally filtered to one
// relation kind (pass "" for all).
func (s *SQLiteStore) GetEdges(nodeID string, relation Relation) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT src_id, dst_id, relation, entity_type, weight, metadata, created_at FROM graph_edges WHERE (src_id = ? OR dst_id = ?)`
	args := []any{nodeID, nodeID}
	if relation != "" {
		query += " AND relation = ?"
		args = append(args, string(relation))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// ListAllEdges returns every edge in the graph, used by the clusterer to
// build its community-detection graph.
func (s *SQLiteStore) ListAllEdges() ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT src_id, dst_id, relation, entity_type, weight, metadata, created_at FROM graph_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var edges []*Edge
	for rows.Next() {
		var e Edge
		var relation string
		var metaJSON sql.NullString
		if err := rows.Scan(&e.SrcID, &e.DstID, &relation, &e.EntityType, &e.Weight, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Relation = Relation(relation)
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal edge metadata: %w", err)
			}
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// DeleteEdgesForNode removes every edge touching nodeID.
func (s *SQLiteStore) DeleteEdgesForNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM graph_edges WHERE src_id = ? OR dst_id = ?`, nodeID, nodeID)
	return err
}

// =============================================================================
// Cluster CRUD
// =============================================================================

// PutCluster inserts or replaces a cluster row.
func (s *SQLiteStore) PutCluster(c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO graph_clusters (id, title, summary, size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			size = excluded.size,
			updated_at = excluded.updated_at
	`, c.ID, c.Title, c.Summary, c.Size, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCluster retrieves a cluster by id.
func (s *SQLiteStore) GetCluster(id int64) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Cluster
	err := s.db.QueryRow(`
		SELECT id, title, summary, size, created_at, updated_at FROM graph_clusters WHERE id = ?
	`, id).Scan(&c.ID, &c.Title, &c.Summary, &c.Size, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClusters returns every cluster, most recently updated first.
func (s *SQLiteStore) ListClusters() ([]*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, title, summary, size, created_at, updated_at FROM graph_clusters ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*Cluster
	for rows.Next() {
		var c Cluster
		if err := rows.Scan(&c.ID, &c.Title, &c.Summary, &c.Size, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// ClearClusters deletes every cluster row and detaches every node from its
// cluster, ahead of a fresh clustering run.
func (s *SQLiteStore) ClearClusters() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE graph_nodes SET cluster_id = NULL`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM graph_clusters`)
	return err
}

// =============================================================================
// Tag CRUD
// =============================================================================

// UpsertTag inserts or updates a tag by id.
func (s *SQLiteStore) UpsertTag(t *TagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tags (id, name, parent_id, level, use_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			level = excluded.level
	`, t.ID, t.Name, nullIfEmpty(t.ParentID), t.Level, t.UseCount)
	return err
}

// GetTagByName looks up a canonical tag by its normalized name.
func (s *SQLiteStore) GetTagByName(name string) (*TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t TagRecord
	var parentID sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, parent_id, level, use_count FROM tags WHERE name = ?
	`, name).Scan(&t.ID, &t.Name, &parentID, &t.Level, &t.UseCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	return &t, nil
}

// ListTags returns every known tag.
func (s *SQLiteStore) ListTags() ([]*TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, name, parent_id, level, use_count FROM tags ORDER BY use_count DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*TagRecord
	for rows.Next() {
		var t TagRecord
		var parentID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &parentID, &t.Level, &t.UseCount); err != nil {
			return nil, err
		}
		t.ParentID = parentID.String
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// =============================================================================
// Search
// =============================================================================

// sanitizeFTSQuery passes boolean/phrase queries through unchanged and
// wraps anything else as a quoted phrase, so arbitrary user input cannot
// reach the FTS5 query tokenizer as syntax.
func sanitizeFTSQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	if strings.Contains(trimmed, " OR ") || strings.Contains(trimmed, " AND ") || strings.HasPrefix(trimmed, `"`) {
		return trimmed
	}
	return `"` + strings.ReplaceAll(trimmed, `"`, `""`) + `"`
}

// FTSSearch runs a BM25-ranked lexical query over notes_fts.
func (s *SQLiteStore) FTSSearch(query string, limit int) ([]FtsHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT notes_fts.id, graph_nodes.file_path, snippet(notes_fts, 2, '[', ']', '...', 10), bm25(notes_fts)
		FROM notes_fts
		JOIN graph_nodes ON graph_nodes.id = notes_fts.id
		WHERE notes_fts MATCH ?
		ORDER BY bm25(notes_fts)
		LIMIT ?
	`, sanitizeFTSQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []FtsHit
	for rows.Next() {
		var h FtsHit
		if err := rows.Scan(&h.ID, &h.Path, &h.Snippet, &h.BM25); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// VectorSearch returns the nodes whose stored embedding is closest to
// query by cosine distance, ascending (sqlite-vec's vec_distance_cosine
// returns a distance; similarity is reported as 1 - distance).
func (s *SQLiteStore) VectorSearch(query []float32, limit int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT graph_nodes.id, vec_distance_cosine(vec_nodes.embedding, ?)
		FROM vec_nodes
		JOIN graph_nodes ON graph_nodes.rowid = vec_nodes.rowid
		ORDER BY vec_distance_cosine(vec_nodes.embedding, ?)
		LIMIT ?
	`, string(queryJSON), string(queryJSON), limit)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, VectorHit{ID: id, Similarity: 1 - distance})
	}
	return hits, rows.Err()
}

// =============================================================================
// Audit log
// =============================================================================

// LogAuditRecord writes one llm_operations row and returns its id.
func (s *SQLiteStore) LogAuditRecord(r *AuditRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO llm_operations (note_id, operation_type, created_at, model, duration_ms,
			tokens_input, tokens_output, cost_usd, prompt_text, raw_response, parsed_output, error, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullIfEmpty(r.NoteID), r.OperationType, r.CreatedAt, r.Model, r.DurationMS,
		r.TokensInput, r.TokensOutput, r.CostUSD, r.PromptText, r.RawResponse,
		nullIfEmpty(r.ParsedOutput), nullIfEmpty(r.Error), boolToInt(r.Success))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetOperationStats aggregates llm_operations rows for operationType
// created at or after sinceMillis (0 means no lower bound), mirroring the
// prototype's get_operation_stats.
func (s *SQLiteStore) GetOperationStats(operationType string, sinceMillis int64) (OperationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats OperationStats
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(success), 0),
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(MAX(duration_ms), 0),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(AVG(cost_usd), 0)
		FROM llm_operations WHERE operation_type = ? AND created_at >= ?
	`
	err := s.db.QueryRow(query, operationType, sinceMillis).Scan(
		&stats.TotalOperations, &stats.Successful, &stats.Failed,
		&stats.AvgDurationMS, &stats.MaxDurationMS,
		&stats.TotalTokensInput, &stats.TotalTokensOutput,
		&stats.TotalCostUSD, &stats.AvgCostUSD,
	)
	return stats, err
}

// =============================================================================
// Export / Import
// =============================================================================

// exportBundle is the full JSON snapshot shape used by Export/Import.
type exportBundle struct {
	Nodes    []*Node      `json:"nodes"`
	Edges    []*Edge      `json:"edges"`
	Clusters []*Cluster   `json:"clusters"`
	Tags     []*TagRecord `json:"tags"`
}

// Export serializes every node, edge, cluster and tag to JSON.
func (s *SQLiteStore) Export() ([]byte, error) {
	nodes, err := s.ListNodes(NodeFilters{})
	if err != nil {
		return nil, fmt.Errorf("export nodes: %w", err)
	}
	edges, err := s.ListAllEdges()
	if err != nil {
		return nil, fmt.Errorf("export edges: %w", err)
	}
	clusters, err := s.ListClusters()
	if err != nil {
		return nil, fmt.Errorf("export clusters: %w", err)
	}
	tags, err := s.ListTags()
	if err != nil {
		return nil, fmt.Errorf("export tags: %w", err)
	}

	return json.Marshal(exportBundle{Nodes: nodes, Edges: edges, Clusters: clusters, Tags: tags})
}

// Import replaces the entire store's content with a bundle previously
// produced by Export, clearing tables in dependency order first.
func (s *SQLiteStore) Import(data []byte) error {
	var bundle exportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("unmarshal export bundle: %w", err)
	}

	s.mu.Lock()
	for _, table := range []string{"note_tags", "graph_edges", "vec_nodes", "notes_fts", "graph_nodes", "graph_clusters", "tags"} {
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	s.mu.Unlock()

	for _, t := range bundle.Tags {
		if err := s.UpsertTag(t); err != nil {
			return fmt.Errorf("import tag %s: %w", t.ID, err)
		}
	}
	for _, n := range bundle.Nodes {
		n.Version = 0 // let PutNode assign version 1 on the fresh insert
		if err := s.PutNode(n); err != nil {
			return fmt.Errorf("import node %s: %w", n.ID, err)
		}
	}
	for _, c := range bundle.Clusters {
		if err := s.PutCluster(c); err != nil {
			return fmt.Errorf("import cluster %d: %w", c.ID, err)
		}
	}
	for _, e := range bundle.Edges {
		if err := s.UpsertEdge(e); err != nil {
			return fmt.Errorf("import edge %s->%s: %w", e.SrcID, e.DstID, err)
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinTags(tags []string) string {
	joined := ""
	for i, t := range tags {
		if i > 0 {
			joined += " "
		}
		joined += t
	}
	return joined
}

var _ Storer = (*SQLiteStore)(nil)
