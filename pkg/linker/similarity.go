package linker

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/Wei1024/notegraph/internal/store"
)

// semanticEdges ranks every other embedded node by cosine similarity to the
// node's embedding and emits a semantic edge for each neighbour at or above
// the threshold, capped at the best SemanticTopK candidates. Embeddings are
// unit-norm, so one matrix-vector multiply yields all cosines at once. A
// node without an embedding produces no semantic edges.
func (l *Linker) semanticEdges(node *store.Node, others []*store.Node, now int64) ([]*store.Edge, error) {
	if len(node.Embedding) == 0 {
		return nil, nil
	}

	var candidates []*store.Node
	for _, other := range others {
		if other.ID == node.ID || len(other.Embedding) != len(node.Embedding) {
			continue
		}
		candidates = append(candidates, other)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	dim := len(node.Embedding)
	data := make([]float64, len(candidates)*dim)
	for i, c := range candidates {
		row := data[i*dim : (i+1)*dim]
		for j, v := range c.Embedding {
			row[j] = float64(v)
		}
	}
	matrix := mat.NewDense(len(candidates), dim, data)

	query := make([]float64, dim)
	for j, v := range node.Embedding {
		query[j] = float64(v)
	}

	var sims mat.VecDense
	sims.MulVec(matrix, mat.NewVecDense(dim, query))

	type scored struct {
		node *store.Node
		sim  float64
	}
	ranked := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		ranked = append(ranked, scored{node: c, sim: sims.AtVec(i)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sim != ranked[j].sim {
			return ranked[i].sim > ranked[j].sim
		}
		return ranked[i].node.ID < ranked[j].node.ID
	})
	if len(ranked) > l.cfg.SemanticTopK {
		ranked = ranked[:l.cfg.SemanticTopK]
	}

	var edges []*store.Edge
	for _, r := range ranked {
		if r.sim < l.cfg.SemanticThreshold {
			break
		}
		src, dst := orient(node.ID, r.node.ID)
		edges = append(edges, &store.Edge{
			SrcID:     src,
			DstID:     dst,
			Relation:  store.RelationSemantic,
			Weight:    r.sim,
			Metadata:  map[string]any{"similarity": r.sim},
			CreatedAt: now,
		})
	}
	return edges, nil
}
