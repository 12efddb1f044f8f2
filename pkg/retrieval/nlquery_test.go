package retrieval

import (
	"context"
	"errors"
	"testing"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error) {
	return f.response, f.err
}

func TestParseQueryExtractsFilters(t *testing.T) {
	llm := &fakeCompleter{response: `{"person": "Sarah", "emotion": null, "entity": "FAISS", "context": "meetings", "sort": "recent", "text_query": "vector search"}`}

	f := ParseQuery(context.Background(), llm, "recent meetings with Sarah about FAISS vector search")
	if f.Person != "Sarah" || f.Entity != "FAISS" || f.Context != "meetings" {
		t.Errorf("unexpected filters: %+v", f)
	}
	if f.Sort != "recent" || f.TextQuery != "vector search" {
		t.Errorf("unexpected sort/text_query: %+v", f)
	}
	if f.Emotion != "" {
		t.Errorf("null fields must stay wildcards, got %q", f.Emotion)
	}
}

func TestParseQueryDiscardsInventedContext(t *testing.T) {
	llm := &fakeCompleter{response: `{"person": null, "emotion": null, "entity": null, "context": "kitchen", "sort": "sideways", "text_query": null}`}

	f := ParseQuery(context.Background(), llm, "whatever")
	if f.Context != "" {
		t.Errorf("unknown context must be discarded, got %q", f.Context)
	}
	if f.Sort != "" {
		t.Errorf("unknown sort must be discarded, got %q", f.Sort)
	}
}

func TestParseQueryToleratesFailures(t *testing.T) {
	if f := ParseQuery(context.Background(), &fakeCompleter{err: errors.New("down")}, "q"); f != (Filters{}) {
		t.Errorf("LLM failure should yield empty filters, got %+v", f)
	}
	if f := ParseQuery(context.Background(), &fakeCompleter{response: "not json"}, "q"); f != (Filters{}) {
		t.Errorf("malformed response should yield empty filters, got %+v", f)
	}
	if f := ParseQuery(context.Background(), nil, "q"); f != (Filters{}) {
		t.Errorf("nil completer should yield empty filters, got %+v", f)
	}
}

func TestParseQueryStripsCodeFence(t *testing.T) {
	llm := &fakeCompleter{response: "```json\n{\"person\": \"Tom\", \"emotion\": null, \"entity\": null, \"context\": null, \"sort\": null, \"text_query\": null}\n```"}

	f := ParseQuery(context.Background(), llm, "notes with Tom")
	if f.Person != "Tom" {
		t.Errorf("expected fenced JSON to parse, got %+v", f)
	}
}
