package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/Wei1024/notegraph/internal/store"
)

func TestEstimateCost(t *testing.T) {
	in, out := int64(1_000_000), int64(1_000_000)
	cost := estimateCost("openai/gpt-4o-mini-2024-07-18", &in, &out)
	if cost == nil {
		t.Fatal("expected a cost estimate for a known model prefix")
	}
	if *cost < 0.74 || *cost > 0.76 {
		t.Errorf("expected ~0.75 USD for 1M in + 1M out, got %v", *cost)
	}

	if got := estimateCost("some/unknown-model", &in, &out); got != nil {
		t.Errorf("unknown model should yield no estimate, got %v", *got)
	}
	if got := estimateCost("openai/gpt-4o-mini", nil, nil); got != nil {
		t.Errorf("missing token counts should yield no estimate, got %v", *got)
	}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func TestAuditedEmbedderLogsSuccess(t *testing.T) {
	s := store.NewMemStore()
	e := NewAuditedEmbedder(&fakeEmbedder{vec: []float32{1, 0}}, s, "all-MiniLM-L6-v2")

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	recs := s.AuditRecords()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if !recs[0].Success || recs[0].OperationType != "embedding" {
		t.Errorf("unexpected audit record: %+v", recs[0])
	}
}

func TestAuditedEmbedderLogsFailureAndPropagates(t *testing.T) {
	s := store.NewMemStore()
	boom := errors.New("endpoint down")
	e := NewAuditedEmbedder(&fakeEmbedder{err: boom}, s, "all-MiniLM-L6-v2")

	if _, err := e.Embed(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("expected the wrapped error, got %v", err)
	}

	recs := s.AuditRecords()
	if len(recs) != 1 || recs[0].Success {
		t.Fatalf("expected 1 failed audit record, got %+v", recs)
	}
	if recs[0].Error == "" {
		t.Error("expected the error message to be recorded")
	}
}

func TestAuditedEmbedderSkipsEmptyText(t *testing.T) {
	s := store.NewMemStore()
	e := NewAuditedEmbedder(&fakeEmbedder{}, s, "all-MiniLM-L6-v2")

	vec, err := e.Embed(context.Background(), "")
	if err != nil || vec != nil {
		t.Fatalf("empty text should be a no-op, got %v %v", vec, err)
	}
	if len(s.AuditRecords()) != 0 {
		t.Error("empty text should not produce an audit record")
	}
}
