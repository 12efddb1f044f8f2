// Package ingest is the only write path for new notes. It orchestrates
// episodic extraction, embedding, prospective extraction and linking, and
// commits the result atomically: a failure after the node insert rolls the
// node and its edges back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/embedding"
	"github.com/Wei1024/notegraph/pkg/extraction"
	"github.com/Wei1024/notegraph/pkg/linker"
	"github.com/Wei1024/notegraph/pkg/prospective"
)

// Episodic is the caller-facing slice of the extracted metadata.
type Episodic struct {
	Who   []string        `json:"who"`
	What  []string        `json:"what"`
	Where []string        `json:"where"`
	When  []store.TimeRef `json:"when"`
	Tags  []string        `json:"tags"`
}

// Result is the ingest operation's output.
type Result struct {
	NoteID   string   `json:"note_id"`
	Title    string   `json:"title"`
	Path     string   `json:"path"`
	Episodic Episodic `json:"episodic"`
}

// Ingestor wires the pipeline stages together.
type Ingestor struct {
	store       store.Storer
	extractor   *extraction.Service
	embedder    embedding.Embedder
	prospective *prospective.Service
	linker      *linker.Linker
	notes       *NoteWriter
	tags        *TagRegistry

	wg sync.WaitGroup
}

// New creates an ingestor. notes may be nil when no on-disk files are
// wanted (tests, import tooling).
func New(s store.Storer, ex *extraction.Service, em embedding.Embedder, pr *prospective.Service, l *linker.Linker, notes *NoteWriter, tags *TagRegistry) *Ingestor {
	return &Ingestor{
		store:       s,
		extractor:   ex,
		embedder:    em,
		prospective: pr,
		linker:      l,
		notes:       notes,
		tags:        tags,
	}
}

// newNodeID returns a fresh node id, lexicographically ordered by creation
// time (UUIDv7).
func newNodeID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// withRetry retries fn on a busy store with capped exponential backoff and
// jitter, up to 3 attempts, then bubbles the error.
func withRetry(fn func() error) error {
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrBusy) {
			return err
		}
		time.Sleep(backoff + time.Duration(rand.Int63n(int64(backoff))))
		backoff *= 2
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
	}
	return err
}

// Ingest runs the full synchronous pipeline for one note. now anchors
// relative time parsing; pass time.Now() outside tests.
func (ing *Ingestor) Ingest(ctx context.Context, text string, now time.Time) (*Result, error) {
	rec, err := ing.extractor.Extract(ctx, text, now)
	if err != nil {
		return nil, err
	}

	// An embedder failure is recoverable: the node is stored without a
	// vector and a later sweep fills it in.
	emb, err := ing.embedder.Embed(ctx, text)
	if err != nil {
		logging.Warnf("embedding failed, node will be stored without a vector: %v", err)
		emb = nil
	}

	items, err := ing.prospective.Extract(ctx, text, rec.When)
	if err != nil {
		return nil, err
	}

	tags := rec.Tags
	if ing.tags != nil {
		tags, err = ing.tags.Register("", rec.Tags)
		if err != nil {
			return nil, err
		}
	}

	node := &store.Node{
		ID:           newNodeID(),
		Title:        rec.Title,
		Text:         text,
		CreatedAt:    now.UnixMilli(),
		Who:          rec.Who,
		What:         rec.What,
		Where:        rec.Where,
		When:         rec.When,
		Tags:         tags,
		Embedding:    emb,
		NeedsReview:  rec.NeedsReview,
		ReviewReason: rec.ReviewReason,
		Prospective:  items,
	}

	if ing.notes != nil {
		path, err := ing.notes.Write(node, now)
		if err != nil {
			return nil, err
		}
		node.FilePath = path
	}

	if err := withRetry(func() error { return ing.store.PutNode(node) }); err != nil {
		return nil, fmt.Errorf("ingest: persist node: %w", err)
	}

	if _, err := ing.linker.LinkNode(node); err != nil {
		ing.rollback(node.ID)
		return nil, fmt.Errorf("ingest: link node: %w", err)
	}

	return ing.result(node), nil
}

// rollback removes the node, its edges and its note file after a failure
// past the insert, restoring the pre-ingest state.
func (ing *Ingestor) rollback(nodeID string) {
	if err := ing.store.DeleteNode(nodeID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Errorf("rollback of node %s failed: %v", nodeID, err)
	}
	if ing.notes != nil {
		if err := ing.notes.Remove(nodeID); err != nil {
			logging.Errorf("rollback of note file %s failed: %v", nodeID, err)
		}
	}
}

func (ing *Ingestor) result(node *store.Node) *Result {
	return &Result{
		NoteID: node.ID,
		Title:  node.Title,
		Path:   node.FilePath,
		Episodic: Episodic{
			Who:   node.Who,
			What:  node.What,
			Where: node.Where,
			When:  node.When,
			Tags:  node.Tags,
		},
	}
}

// IngestAsync writes a placeholder node immediately (title = first line)
// and defers the pipeline to a background worker. The worker's update is an
// idempotent upsert, so re-running it after a crash converges on the same
// node.
func (ing *Ingestor) IngestAsync(ctx context.Context, text string, now time.Time) (*Result, error) {
	node := &store.Node{
		ID:        newNodeID(),
		Title:     extraction.FallbackTitle(text),
		Text:      text,
		CreatedAt: now.UnixMilli(),
	}
	if ing.notes != nil {
		path, err := ing.notes.Write(node, now)
		if err != nil {
			return nil, err
		}
		node.FilePath = path
	}
	if err := withRetry(func() error { return ing.store.PutNode(node) }); err != nil {
		return nil, fmt.Errorf("ingest: persist placeholder: %w", err)
	}

	bgCtx := context.WithoutCancel(ctx)
	ing.wg.Add(1)
	go func() {
		defer ing.wg.Done()
		ing.completeAsync(bgCtx, node.ID, text, now)
	}()

	return ing.result(node), nil
}

// completeAsync runs the deferred pipeline stages for a placeholder node.
// A provider failure marks the note for review instead of losing it.
func (ing *Ingestor) completeAsync(ctx context.Context, nodeID, text string, now time.Time) {
	node, err := ing.store.GetNode(nodeID)
	if err != nil {
		logging.Errorf("background ingest lost node %s: %v", nodeID, err)
		return
	}

	rec, err := ing.extractor.Extract(ctx, text, now)
	if err != nil {
		node.NeedsReview = true
		node.ReviewReason = fmt.Sprintf("background extraction failed: %v", err)
		if err := withRetry(func() error { return ing.store.PutNode(node) }); err != nil {
			logging.Errorf("background ingest could not flag node %s: %v", nodeID, err)
		}
		return
	}

	emb, err := ing.embedder.Embed(ctx, text)
	if err != nil {
		logging.Warnf("background embedding failed for %s: %v", nodeID, err)
		emb = nil
	}

	items, err := ing.prospective.Extract(ctx, text, rec.When)
	if err != nil {
		logging.Warnf("background prospective extraction failed for %s: %v", nodeID, err)
		items = nil
	}

	tags := rec.Tags
	if ing.tags != nil {
		if valid, err := ing.tags.Register(nodeID, rec.Tags); err == nil {
			tags = valid
		}
	}

	node.Title = rec.Title
	node.Who = rec.Who
	node.What = rec.What
	node.Where = rec.Where
	node.When = rec.When
	node.Tags = tags
	node.Embedding = emb
	node.NeedsReview = rec.NeedsReview
	node.ReviewReason = rec.ReviewReason
	node.Prospective = items

	if err := withRetry(func() error { return ing.store.PutNode(node) }); err != nil {
		logging.Errorf("background ingest could not update node %s: %v", nodeID, err)
		return
	}
	if _, err := ing.linker.LinkNode(node); err != nil {
		logging.Errorf("background linking failed for node %s: %v", nodeID, err)
	}
}

// Wait blocks until all background ingest workers finish. Called on
// shutdown.
func (ing *Ingestor) Wait() {
	ing.wg.Wait()
}

// RetryMissingEmbeddings sweeps nodes persisted without a vector, embeds
// them, and re-links so the semantic edges appear. Returns how many nodes
// were repaired.
func (ing *Ingestor) RetryMissingEmbeddings(ctx context.Context) (int, error) {
	nodes, err := ing.store.ListNodes(store.NodeFilters{})
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, node := range nodes {
		if len(node.Embedding) > 0 {
			continue
		}
		emb, err := ing.embedder.Embed(ctx, node.Text)
		if err != nil {
			logging.Warnf("embedding retry failed for %s: %v", node.ID, err)
			continue
		}
		if emb == nil {
			continue
		}
		node.Embedding = emb
		if err := withRetry(func() error { return ing.store.PutNode(node) }); err != nil {
			return repaired, err
		}
		if _, err := ing.linker.LinkNode(node); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}
