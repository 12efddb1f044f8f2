// Package retrieval answers queries over the note graph with hybrid
// search: BM25 lexical hits, cosine vector hits, and one hop of graph
// expansion, fused into a single ranked list.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/embedding"
)

// Completer is the audited completion seam used by the natural-language
// query preprocessor.
type Completer interface {
	Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error)
}

// Config carries the fusion parameters.
type Config struct {
	CandidateK int     // per-signal candidate pool size
	Limit      int     // default result count
	Alpha      float64 // lexical weight
	Beta       float64 // vector weight
	Gamma      float64 // graph weight
	Decay      float64 // per-hop graph decay
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{CandidateK: 20, Limit: 10, Alpha: 0.4, Beta: 0.4, Gamma: 0.2, Decay: 0.5}
}

// Filters narrow the candidate pool before fusion. Zero values are
// wildcards.
type Filters struct {
	Person    string
	Emotion   string
	Entity    string
	Context   string
	Sort      string // "recent" or "oldest"
	TextQuery string
	Status    string
}

// Signals are the per-node contributions to the fused score.
type Signals struct {
	Lex   float64 `json:"lex"`
	Vec   float64 `json:"vec"`
	Graph float64 `json:"graph"`
}

// ContributingEdge records one graph-expansion step that added score.
type ContributingEdge struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Relation store.Relation `json:"relation"`
	Weight   float64        `json:"weight"`
}

// Result is one ranked hit.
type Result struct {
	ID        string             `json:"id"`
	Path      string             `json:"path"`
	Snippet   string             `json:"snippet,omitempty"`
	Score     float64            `json:"score"`
	Title     string             `json:"title"`
	Created   int64              `json:"created"`
	ClusterID *int64             `json:"clusterId,omitempty"`
	Signals   Signals            `json:"signals"`
	Edges     []ContributingEdge `json:"edges,omitempty"`
}

// Retriever fuses the three search signals. Read-only: it never writes to
// the store.
type Retriever struct {
	store    store.Storer
	embedder embedding.Embedder
	llm      Completer
	cfg      Config
}

// New creates a retriever. llm may be nil; natural-language filter
// extraction is then disabled.
func New(s store.Storer, e embedding.Embedder, llm Completer, cfg Config) *Retriever {
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = 20
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	return &Retriever{store: s, embedder: e, llm: llm, cfg: cfg}
}

type candidate struct {
	lex     float64
	vec     float64
	graph   float64
	snippet string
	edges   []ContributingEdge
}

// Search runs the three-phase hybrid retrieval and returns the top results
// by fused score.
func (r *Retriever) Search(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}

	textQuery := filters.TextQuery
	if textQuery == "" {
		textQuery = query
	}
	ftsQuery := buildFTSQuery(textQuery, filters)

	allowed, err := r.allowedSet(filters)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*candidate)
	get := func(id string) *candidate {
		c, ok := candidates[id]
		if !ok {
			c = &candidate{}
			candidates[id] = c
		}
		return c
	}

	// Phase 1: lexical. BM25 is min-max normalized over the returned set
	// (SQLite's bm25 is smaller-is-better).
	hits, err := r.store.FTSSearch(ftsQuery, r.cfg.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fts: %w", err)
	}
	hits = filterHits(hits, allowed)
	if len(hits) > 0 {
		minBM, maxBM := hits[0].BM25, hits[0].BM25
		for _, h := range hits {
			if h.BM25 < minBM {
				minBM = h.BM25
			}
			if h.BM25 > maxBM {
				maxBM = h.BM25
			}
		}
		for _, h := range hits {
			c := get(h.ID)
			if maxBM == minBM {
				c.lex = 1
			} else {
				c.lex = (maxBM - h.BM25) / (maxBM - minBM)
			}
			c.snippet = h.Snippet
		}
	}

	// Phase 2: vector. A query embedding failure degrades to
	// lexical+graph rather than failing the search.
	if r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			logging.Warnf("query embedding failed, vector signal skipped: %v", err)
		} else if vec != nil {
			vhits, err := r.store.VectorSearch(vec, r.cfg.CandidateK)
			if err != nil {
				return nil, fmt.Errorf("retrieval: vector: %w", err)
			}
			for _, h := range vhits {
				if allowed != nil && !allowed[h.ID] {
					continue
				}
				if h.Similarity < 0 {
					continue
				}
				get(h.ID).vec = h.Similarity
			}
		}
	}

	// Phase 3: one hop of graph expansion from every seed. A walked
	// neighbour inherits edge.weight x parent partial score x decay.
	seeds := make([]string, 0, len(candidates))
	for id := range candidates {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)
	for _, seedID := range seeds {
		seed := candidates[seedID]
		parentScore := r.cfg.Alpha*seed.lex + r.cfg.Beta*seed.vec
		if parentScore <= 0 {
			continue
		}
		edges, err := r.store.GetEdges(seedID, "")
		if err != nil {
			return nil, fmt.Errorf("retrieval: expand %s: %w", seedID, err)
		}
		for _, e := range edges {
			otherID := e.DstID
			if otherID == seedID {
				otherID = e.SrcID
			}
			if otherID == seedID {
				continue
			}
			if allowed != nil && !allowed[otherID] {
				continue
			}
			c := get(otherID)
			c.graph += e.Weight * parentScore * r.cfg.Decay
			c.edges = append(c.edges, ContributingEdge{
				From:     seedID,
				To:       otherID,
				Relation: e.Relation,
				Weight:   e.Weight,
			})
		}
	}

	return r.assemble(candidates, limit, filters.Sort)
}

// assemble fuses scores, applies the tie-break (higher created, then
// lexicographic id) and materializes node metadata.
func (r *Retriever) assemble(candidates map[string]*candidate, limit int, sortPref string) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for id, c := range candidates {
		score := r.cfg.Alpha*c.lex + r.cfg.Beta*c.vec + r.cfg.Gamma*c.graph
		if score <= 0 {
			continue
		}
		node, err := r.store.GetNode(id)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		results = append(results, Result{
			ID:        id,
			Path:      node.FilePath,
			Snippet:   c.snippet,
			Score:     score,
			Title:     node.Title,
			Created:   node.CreatedAt,
			ClusterID: node.ClusterID,
			Signals:   Signals{Lex: c.lex, Vec: c.vec, Graph: c.graph},
			Edges:     c.edges,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Created != results[j].Created {
			return results[i].Created > results[j].Created
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	switch sortPref {
	case "recent":
		sort.SliceStable(results, func(i, j int) bool { return results[i].Created > results[j].Created })
	case "oldest":
		sort.SliceStable(results, func(i, j int) bool { return results[i].Created < results[j].Created })
	}
	return results, nil
}

// allowedSet resolves the structural filters to a node-id whitelist, or nil
// for no restriction.
func (r *Retriever) allowedSet(filters Filters) (map[string]bool, error) {
	nf := store.NodeFilters{}
	restrict := false
	if filters.Person != "" {
		nf.Who = filters.Person
		restrict = true
	}
	if filters.Status != "" {
		nf.Status = filters.Status
		restrict = true
	}
	// Context values double as tags ("meetings" notes carry #meetings).
	if filters.Context != "" {
		nf.Tag = filters.Context
		restrict = true
	}
	if !restrict {
		return nil, nil
	}
	nodes, err := r.store.ListNodes(nf)
	if err != nil {
		return nil, fmt.Errorf("retrieval: filter nodes: %w", err)
	}
	allowed := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		allowed[n.ID] = true
	}
	return allowed, nil
}

// buildFTSQuery folds the entity and emotion filters into the lexical
// query as additional OR terms.
func buildFTSQuery(textQuery string, filters Filters) string {
	terms := []string{}
	if strings.TrimSpace(textQuery) != "" {
		terms = append(terms, strings.TrimSpace(textQuery))
	}
	if filters.Entity != "" && !strings.EqualFold(filters.Entity, textQuery) {
		terms = append(terms, filters.Entity)
	}
	if filters.Emotion != "" {
		terms = append(terms, filters.Emotion)
	}
	if len(terms) <= 1 {
		if len(terms) == 0 {
			return ""
		}
		return terms[0]
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func filterHits(hits []store.FtsHit, allowed map[string]bool) []store.FtsHit {
	if allowed == nil {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if allowed[h.ID] {
			out = append(out, h)
		}
	}
	return out
}
