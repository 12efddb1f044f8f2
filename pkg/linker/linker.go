// Package linker creates and weights the typed edges of the note graph:
// semantic (cosine similarity), entity_link (shared who/what/where values),
// tag_link (tag-set Jaccard), and time_next (chronological adjacency).
//
// A link is a link: any shared entity produces an edge, weighted by how
// much is shared. Symmetric relations store one direction only, with the
// lexicographically smaller id first.
package linker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Wei1024/notegraph/internal/store"
)

// Config carries the edge-creation thresholds.
type Config struct {
	SemanticThreshold float64 // minimum cosine similarity for a semantic edge
	SemanticTopK      int     // candidate cap before the threshold cut
	TagJaccard        float64 // minimum Jaccard for a tag_link edge
	TimeEdgeWeight    float64 // fixed weight of time_next edges
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SemanticThreshold: 0.5,
		SemanticTopK:      20,
		TagJaccard:        0.3,
		TimeEdgeWeight:    1.0,
	}
}

// Linker computes edges for a node against the rest of the graph.
type Linker struct {
	store store.Storer
	cfg   Config
}

// New creates a linker over the given store.
func New(s store.Storer, cfg Config) *Linker {
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = 20
	}
	return &Linker{store: s, cfg: cfg}
}

// LinkNode computes and upserts every edge for node. Re-running for the
// same node reproduces the same edge set; weights reflect the current
// embeddings. Returns the edges written.
func (l *Linker) LinkNode(node *store.Node) ([]*store.Edge, error) {
	others, err := l.store.ListNodes(store.NodeFilters{})
	if err != nil {
		return nil, fmt.Errorf("linker: list nodes: %w", err)
	}

	now := time.Now().UnixMilli()
	var edges []*store.Edge

	semantic, err := l.semanticEdges(node, others, now)
	if err != nil {
		return nil, err
	}
	edges = append(edges, semantic...)
	edges = append(edges, l.entityEdges(node, others, now)...)
	edges = append(edges, l.tagEdges(node, others, now)...)
	edges = append(edges, l.timeEdges(node, others, now)...)

	for _, e := range edges {
		if err := l.store.UpsertEdge(e); err != nil {
			return nil, fmt.Errorf("linker: upsert %s edge %s->%s: %w", e.Relation, e.SrcID, e.DstID, err)
		}
	}
	return edges, nil
}

// orient returns the (src, dst) pair for a symmetric relation: smaller id
// first.
func orient(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// normalizeEntity lower-cases and trims an entity for comparison.
func normalizeEntity(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// normalizeTag folds hyphens and spaces to underscores so "ai-research",
// "AI Research" and "ai_research" compare equal.
func normalizeTag(t string) string {
	t = strings.ToLower(t)
	t = strings.ReplaceAll(t, "-", "_")
	t = strings.ReplaceAll(t, " ", "_")
	return strings.TrimSpace(t)
}

// sharedEntities intersects two entity lists case-insensitively, returning
// the original casing from a.
func sharedEntities(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	normA := make(map[string]string, len(a))
	for _, e := range a {
		normA[normalizeEntity(e)] = e
	}
	normB := make(map[string]bool, len(b))
	for _, e := range b {
		normB[normalizeEntity(e)] = true
	}

	keys := make([]string, 0, len(normA))
	for k := range normA {
		if normB[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	shared := make([]string, 0, len(keys))
	for _, k := range keys {
		shared = append(shared, normA[k])
	}
	return shared
}

// tagSimilarity computes the Jaccard coefficient of two tag sets under
// normalization, returning the shared tags in a's casing.
func tagSimilarity(a, b []string) (float64, []string) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	normA := make(map[string]string, len(a))
	for _, t := range a {
		normA[normalizeTag(t)] = t
	}
	normB := make(map[string]bool, len(b))
	for _, t := range b {
		normB[normalizeTag(t)] = true
	}

	union := make(map[string]bool, len(normA)+len(normB))
	for k := range normA {
		union[k] = true
	}
	for k := range normB {
		union[k] = true
	}

	var keys []string
	for k := range normA {
		if normB[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	shared := make([]string, 0, len(keys))
	for _, k := range keys {
		shared = append(shared, normA[k])
	}
	return float64(len(keys)) / float64(len(union)), shared
}

// entityEdges emits one entity_link edge per entity subtype with a
// non-empty intersection. Weight is the shared count.
func (l *Linker) entityEdges(node *store.Node, others []*store.Node, now int64) []*store.Edge {
	var edges []*store.Edge
	for _, other := range others {
		if other.ID == node.ID {
			continue
		}
		for _, sub := range []struct {
			name string
			mine []string
			its  []string
		}{
			{"who", node.Who, other.Who},
			{"what", node.What, other.What},
			{"where", node.Where, other.Where},
		} {
			shared := sharedEntities(sub.mine, sub.its)
			if len(shared) == 0 {
				continue
			}
			src, dst := orient(node.ID, other.ID)
			edges = append(edges, &store.Edge{
				SrcID:      src,
				DstID:      dst,
				Relation:   store.RelationEntityLink,
				EntityType: sub.name,
				Weight:     float64(len(shared)),
				Metadata: map[string]any{
					"entity_type":        sub.name,
					"shared_" + sub.name: shared,
					"count":              len(shared),
				},
				CreatedAt: now,
			})
		}
	}
	return edges
}

// tagEdges emits a tag_link edge when the Jaccard similarity of the tag
// sets reaches the threshold. Weight is the coefficient itself.
func (l *Linker) tagEdges(node *store.Node, others []*store.Node, now int64) []*store.Edge {
	if len(node.Tags) == 0 {
		return nil
	}
	var edges []*store.Edge
	for _, other := range others {
		if other.ID == node.ID || len(other.Tags) == 0 {
			continue
		}
		similarity, shared := tagSimilarity(node.Tags, other.Tags)
		if similarity < l.cfg.TagJaccard {
			continue
		}
		src, dst := orient(node.ID, other.ID)
		edges = append(edges, &store.Edge{
			SrcID:    src,
			DstID:    dst,
			Relation: store.RelationTagLink,
			Weight:   similarity,
			Metadata: map[string]any{
				"shared_tags": shared,
				"jaccard":     similarity,
			},
			CreatedAt: now,
		})
	}
	return edges
}

// timeEdges links the node to its immediate chronological neighbours,
// directed older to newer, with a fixed weight.
func (l *Linker) timeEdges(node *store.Node, others []*store.Node, now int64) []*store.Edge {
	var prev, next *store.Node
	for _, other := range others {
		if other.ID == node.ID {
			continue
		}
		if other.CreatedAt < node.CreatedAt || (other.CreatedAt == node.CreatedAt && other.ID < node.ID) {
			if prev == nil || other.CreatedAt > prev.CreatedAt || (other.CreatedAt == prev.CreatedAt && other.ID > prev.ID) {
				prev = other
			}
		} else {
			if next == nil || other.CreatedAt < next.CreatedAt || (other.CreatedAt == next.CreatedAt && other.ID < next.ID) {
				next = other
			}
		}
	}

	var edges []*store.Edge
	if prev != nil {
		edges = append(edges, &store.Edge{
			SrcID:     prev.ID,
			DstID:     node.ID,
			Relation:  store.RelationTimeNext,
			Weight:    l.cfg.TimeEdgeWeight,
			Metadata:  map[string]any{"kind": "chronological"},
			CreatedAt: now,
		})
	}
	if next != nil {
		edges = append(edges, &store.Edge{
			SrcID:     node.ID,
			DstID:     next.ID,
			Relation:  store.RelationTimeNext,
			Weight:    l.cfg.TimeEdgeWeight,
			Metadata:  map[string]any{"kind": "chronological"},
			CreatedAt: now,
		})
	}
	return edges
}
