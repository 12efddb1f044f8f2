// Command notegraph runs the knowledge-graph core as one-shot CLI
// operations: ingest a note, query the graph, recompute clusters, report
// LLM operation stats.
//
// Exit codes: 0 success, 1 configuration error, 2 store error, 3 external
// provider error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Wei1024/notegraph/internal/config"
	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/batch"
	"github.com/Wei1024/notegraph/pkg/cluster"
	"github.com/Wei1024/notegraph/pkg/embedding"
	"github.com/Wei1024/notegraph/pkg/extraction"
	"github.com/Wei1024/notegraph/pkg/ingest"
	"github.com/Wei1024/notegraph/pkg/linker"
	"github.com/Wei1024/notegraph/pkg/llm"
	"github.com/Wei1024/notegraph/pkg/pool"
	"github.com/Wei1024/notegraph/pkg/prospective"
	"github.com/Wei1024/notegraph/pkg/retrieval"
)

const (
	exitOK       = 0
	exitConfig   = 1
	exitStore    = 2
	exitProvider = 3
)

// app holds the process-wide singletons: one store handle, one LLM client,
// one embedder. Initialized once, released by shutdown.
type app struct {
	cfg       config.Config
	store     *store.SQLiteStore
	llm       *llm.Client
	embedder  embedding.Embedder
	ingestor  *ingest.Ingestor
	retriever *retrieval.Retriever
	clusterer *cluster.Clusterer
}

func initApp(cfg config.Config) (*app, error) {
	s, err := store.NewSQLiteStoreWithDSN(store.FileDSN(cfg.Store.Path))
	if err != nil {
		return nil, err
	}

	batchSvc := batch.NewService(batch.Config{
		Provider:         batch.Provider(cfg.LLM.Provider),
		GoogleAPIKey:     cfg.LLM.GoogleAPIKey,
		GoogleModel:      cfg.LLM.GoogleModel,
		OpenRouterAPIKey: cfg.LLM.OpenRouterAPIKey,
		OpenRouterModel:  cfg.LLM.OpenRouterModel,
		Timeout:          cfg.LLM.Timeout,
	})
	client := llm.NewClient(batchSvc, s)
	embedder := llm.NewAuditedEmbedder(
		embedding.NewHTTPEmbedder(cfg.Embedding.URL, cfg.Embedding.Timeout),
		s,
		"all-MiniLM-L6-v2",
	)

	extractor := extraction.NewService(client)
	if dict, err := buildDictionary(s); err == nil {
		extractor.SetDictionary(dict)
	} else {
		logging.Warnf("entity dictionary unavailable: %v", err)
	}

	tags, err := ingest.NewTagRegistry(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	notes, err := ingest.NewNoteWriter(cfg.Notes.Dir)
	if err != nil {
		s.Close()
		return nil, err
	}

	link := linker.New(s, linker.Config{
		SemanticThreshold: cfg.Linker.SemanticThreshold,
		SemanticTopK:      cfg.Linker.SemanticTopK,
		TagJaccard:        cfg.Linker.TagJaccard,
		TimeEdgeWeight:    cfg.Linker.TimeEdgeWeight,
	})

	return &app{
		cfg:      cfg,
		store:    s,
		llm:      client,
		embedder: embedder,
		ingestor: ingest.New(s, extractor, embedder, prospective.NewService(client), link, notes, tags),
		retriever: retrieval.New(s, embedder, client, retrieval.Config{
			CandidateK: cfg.Retrieval.CandidateK,
			Limit:      cfg.Retrieval.Limit,
			Alpha:      cfg.Retrieval.Alpha,
			Beta:       cfg.Retrieval.Beta,
			Gamma:      cfg.Retrieval.Gamma,
			Decay:      cfg.Retrieval.Decay,
		}),
		clusterer: cluster.New(s, client),
	}, nil
}

// buildDictionary compiles the known-entity automaton from everything the
// graph has already seen.
func buildDictionary(s store.Storer) (*extraction.EntityDictionary, error) {
	nodes, err := s.ListNodes(store.NodeFilters{})
	if err != nil {
		return nil, err
	}
	var known []extraction.KnownEntity
	for _, n := range nodes {
		for _, w := range n.Who {
			known = append(known, extraction.KnownEntity{Name: w, Subtype: "who"})
		}
		for _, w := range n.What {
			known = append(known, extraction.KnownEntity{Name: w, Subtype: "what"})
		}
		for _, w := range n.Where {
			known = append(known, extraction.KnownEntity{Name: w, Subtype: "where"})
		}
	}
	return extraction.CompileDictionary(known)
}

func (a *app) shutdown() {
	a.ingestor.Wait()
	if err := a.store.Close(); err != nil {
		logging.Errorf("store close failed: %v", err)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("notegraph", flag.ContinueOnError)
	configPath := global.String("config", "notegraph.yaml", "path to the YAML config file")
	if err := global.Parse(args); err != nil {
		return exitConfig
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: notegraph [-config path] <ingest|query|cluster|stats> [args]")
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Errorf("%v", err)
		return exitConfig
	}

	a, err := initApp(cfg)
	if err != nil {
		logging.Errorf("init failed: %v", err)
		return exitStore
	}
	defer a.shutdown()

	ctx := context.Background()
	switch rest[0] {
	case "ingest":
		return a.cmdIngest(ctx, rest[1:])
	case "query":
		return a.cmdQuery(ctx, rest[1:])
	case "cluster":
		return a.cmdCluster(ctx, rest[1:])
	case "stats":
		return a.cmdStats(rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", rest[0])
		return exitConfig
	}
}

// classify maps an operation error to an exit code: store errors are 2,
// everything else reached an external provider and exhausted retries.
func classify(err error) int {
	if errors.Is(err, store.ErrBusy) || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return exitStore
	}
	return exitProvider
}

func (a *app) cmdIngest(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	file := fs.String("file", "", "read the note text from a file (- for stdin)")
	async := fs.Bool("async", false, "write a placeholder immediately and enrich in the background")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	var text string
	switch {
	case *file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logging.Errorf("read stdin: %v", err)
			return exitConfig
		}
		text = string(data)
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			logging.Errorf("read %s: %v", *file, err)
			return exitConfig
		}
		text = string(data)
	default:
		text = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "usage: notegraph ingest [-async] [-file path] [text]")
		return exitConfig
	}

	var (
		res *ingest.Result
		err error
	)
	if *async {
		res, err = a.ingestor.IngestAsync(ctx, text, time.Now())
	} else {
		res, err = a.ingestor.Ingest(ctx, text, time.Now())
	}
	if err != nil {
		logging.Errorf("ingest failed: %v", err)
		return classify(err)
	}

	out := pool.GetMap()
	defer pool.PutMap(out)
	out["note_id"] = res.NoteID
	out["title"] = res.Title
	out["path"] = res.Path
	out["episodic"] = res.Episodic
	return printJSON(out)
}

func (a *app) cmdQuery(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum results (default from config)")
	status := fs.String("status", "", "status filter (e.g. needs_review)")
	contextFilter := fs.String("context", "", "context filter (tasks, meetings, ideas, reference, journal)")
	natural := fs.Bool("natural", false, "extract filters from the query with the LLM first")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: notegraph query [-limit n] [-status s] [-context c] [-natural] <query>")
		return exitConfig
	}

	var (
		results []retrieval.Result
		err     error
	)
	if *natural {
		results, err = a.retriever.SearchNatural(ctx, query, *limit)
	} else {
		results, err = a.retriever.Search(ctx, query, *limit, retrieval.Filters{
			Status:  *status,
			Context: *contextFilter,
		})
	}
	if err != nil {
		logging.Errorf("query failed: %v", err)
		return classify(err)
	}

	out := pool.GetSlice()
	defer pool.PutSlice(out)
	for _, r := range results {
		m := pool.GetMap()
		m["path"] = r.Path
		m["snippet"] = r.Snippet
		m["score"] = r.Score
		meta := map[string]any{
			"title":   r.Title,
			"created": time.UnixMilli(r.Created).Format(time.RFC3339),
			"signals": r.Signals,
		}
		if r.ClusterID != nil {
			meta["cluster_id"] = *r.ClusterID
		}
		m["metadata"] = meta
		out = append(out, m)
	}
	code := printJSON(out)
	for _, m := range out {
		pool.PutMap(m.(map[string]any))
	}
	return code
}

func (a *app) cmdCluster(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	resolution := fs.Float64("resolution", 0, "community detection resolution (default from config)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *resolution == 0 {
		*resolution = a.cfg.Cluster.Resolution
	}

	stats, err := a.clusterer.Run(ctx, *resolution)
	if err != nil {
		logging.Errorf("clustering failed: %v", err)
		return classify(err)
	}
	return printJSON(stats)
}

func (a *app) cmdStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	since := fs.Duration("since", 0, "window, e.g. 24h (default: all time)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: notegraph stats [-since 24h] <operation_type>")
		return exitConfig
	}

	var sinceMillis int64
	if *since > 0 {
		sinceMillis = time.Now().Add(-*since).UnixMilli()
	}
	stats, err := a.store.GetOperationStats(fs.Arg(0), sinceMillis)
	if err != nil {
		logging.Errorf("stats failed: %v", err)
		return exitStore
	}
	return printJSON(stats)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logging.Errorf("marshal output: %v", err)
		return exitStore
	}
	fmt.Println(string(data))
	return exitOK
}
