// Package cluster partitions the note graph into themed communities with
// weighted modularity maximization (Louvain), then titles and summarizes
// each community. A clustering run is a full recomputation; it never merges
// with previous state.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
)

// Completer is the audited completion seam used for cluster summaries.
type Completer interface {
	Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error)
}

// Info describes one detected cluster.
type Info struct {
	ID      int64  `json:"id"`
	Size    int    `json:"size"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Stats is the clustering run's output.
type Stats struct {
	NumNodes    int    `json:"num_nodes"`
	NumEdges    int    `json:"num_edges"`
	NumClusters int    `json:"num_clusters"`
	Clusters    []Info `json:"clusters"`
}

// Clusterer regenerates cluster assignments and summaries. llm may be nil;
// every cluster then gets the deterministic fallback title.
type Clusterer struct {
	store store.Storer
	llm   Completer
}

// New creates a clusterer.
func New(s store.Storer, llm Completer) *Clusterer {
	return &Clusterer{store: s, llm: llm}
}

// Run executes the full pipeline: build the weighted graph, detect
// communities at the given resolution (1.0 when zero), write back cluster
// ids, and store a title and summary per cluster.
func (c *Clusterer) Run(ctx context.Context, resolution float64) (*Stats, error) {
	if resolution <= 0 {
		resolution = 1.0
	}

	nodes, err := c.store.ListNodes(store.NodeFilters{})
	if err != nil {
		return nil, fmt.Errorf("cluster: list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return &Stats{Clusters: []Info{}}, nil
	}
	edges, err := c.store.ListAllEdges()
	if err != nil {
		return nil, fmt.Errorf("cluster: list edges: %w", err)
	}

	// Dense integer indices into the node slice; opaque ids only at the
	// boundary.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	index := make(map[string]int64, len(nodes))
	for i, n := range nodes {
		index[n.ID] = int64(i)
	}

	// Accumulate weights when multiple edge relations connect a pair.
	type pair struct{ a, b int64 }
	weights := make(map[pair]float64, len(edges))
	for _, e := range edges {
		src, okSrc := index[e.SrcID]
		dst, okDst := index[e.DstID]
		if !okSrc || !okDst || src == dst {
			continue
		}
		p := pair{a: src, b: dst}
		if p.a > p.b {
			p.a, p.b = p.b, p.a
		}
		weights[p] += e.Weight
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range nodes {
		g.AddNode(simple.Node(int64(i)))
	}
	for p, w := range weights {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(p.a), simple.Node(p.b), w))
	}

	// A fixed source keeps repeated runs over an unchanged graph stable.
	reduced := community.Modularize(g, resolution, rand.NewSource(1))
	communities := reduced.Communities()

	// Renumber deterministically by each community's smallest member id.
	sort.Slice(communities, func(i, j int) bool {
		return minMember(communities[i]) < minMember(communities[j])
	})

	if err := c.store.ClearClusters(); err != nil {
		return nil, fmt.Errorf("cluster: clear: %w", err)
	}

	stats := &Stats{
		NumNodes: len(nodes),
		NumEdges: len(weights),
		Clusters: make([]Info, 0, len(communities)),
	}

	now := time.Now().UnixMilli()
	for clusterID, members := range communities {
		cid := int64(clusterID)
		memberNodes := make([]*store.Node, 0, len(members))
		for _, m := range members {
			node := nodes[m.ID()]
			memberNodes = append(memberNodes, node)
			if err := c.store.UpdateNodeCluster(node.ID, &cid); err != nil {
				return nil, fmt.Errorf("cluster: assign %s: %w", node.ID, err)
			}
		}

		title, summary := c.summarize(ctx, memberNodes)
		if err := c.store.PutCluster(&store.Cluster{
			ID:        cid,
			Title:     title,
			Summary:   summary,
			Size:      len(memberNodes),
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("cluster: store cluster %d: %w", cid, err)
		}

		stats.Clusters = append(stats.Clusters, Info{
			ID:      cid,
			Size:    len(memberNodes),
			Title:   title,
			Summary: summary,
		})
	}
	stats.NumClusters = len(stats.Clusters)

	logging.Infof("clustering complete: %d nodes, %d edges, %d clusters",
		stats.NumNodes, stats.NumEdges, stats.NumClusters)
	return stats, nil
}

func minMember(members []graph.Node) int64 {
	min := members[0].ID()
	for _, m := range members[1:] {
		if m.ID() < min {
			min = m.ID()
		}
	}
	return min
}
