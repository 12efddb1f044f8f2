package prospective

import (
	"context"
	"errors"
	"testing"

	"github.com/Wei1024/notegraph/internal/store"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error) {
	return f.response, f.err
}

func whenWith(parsed string) []store.TimeRef {
	return []store.TimeRef{{Original: "Friday", Parsed: &parsed, Kind: store.TimeRefRelative}}
}

func TestExtractBindsKnownTimepoint(t *testing.T) {
	llm := &fakeCompleter{response: `{"contains_prospective": true, "prospective_items": [{"content": "review proposal", "timedata": "2025-10-24T00:00:00"}]}`}
	svc := NewService(llm)

	items, err := svc.Extract(context.Background(), "Need to review the proposal by Friday.", whenWith("2025-10-24T00:00:00"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Timedata == nil || *items[0].Timedata != "2025-10-24T00:00:00" {
		t.Errorf("expected bound timepoint, got %+v", items[0])
	}
}

func TestExtractDiscardsInventedTimedata(t *testing.T) {
	llm := &fakeCompleter{response: `{"contains_prospective": true, "prospective_items": [{"content": "ship release", "timedata": "2031-01-01T00:00:00"}]}`}
	svc := NewService(llm)

	items, err := svc.Extract(context.Background(), "Ship the release.", whenWith("2025-10-24T00:00:00"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the item to survive, got %d", len(items))
	}
	if items[0].Timedata != nil {
		t.Errorf("invented timedata must be discarded to nil, got %s", *items[0].Timedata)
	}
}

func TestExtractMalformedResponseYieldsNoItems(t *testing.T) {
	svc := NewService(&fakeCompleter{response: "no json here"})

	items, err := svc.Extract(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("malformed response must not error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %+v", items)
	}
}

func TestExtractProviderErrorBubbles(t *testing.T) {
	boom := errors.New("deadline exceeded")
	svc := NewService(&fakeCompleter{err: boom})

	if _, err := svc.Extract(context.Background(), "text", nil); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestExtractEmptyTextSkipsLLM(t *testing.T) {
	svc := NewService(&fakeCompleter{err: errors.New("should not be called")})

	items, err := svc.Extract(context.Background(), "   ", nil)
	if err != nil || items != nil {
		t.Fatalf("empty text should be a no-op, got %v %v", items, err)
	}
}

func TestExtractDropsEmptyContent(t *testing.T) {
	llm := &fakeCompleter{response: `{"contains_prospective": true, "prospective_items": [{"content": "  ", "timedata": null}, {"content": "decide on vendor", "timedata": null}]}`}
	svc := NewService(llm)

	items, err := svc.Extract(context.Background(), "Need to decide on vendor.", nil)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(items) != 1 || items[0].Content != "decide on vendor" {
		t.Errorf("expected blank items dropped, got %+v", items)
	}
}
