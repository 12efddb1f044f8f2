package extraction

import (
	"context"

	"github.com/Wei1024/notegraph/internal/store"
)

// Completer is the audited completion seam. llm.Client satisfies it; tests
// inject fakes.
type Completer interface {
	Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error)
}

// EpisodicRecord is the structured metadata derived from one note: entities
// and title from the LLM, time references and hashtags from deterministic
// parsers.
type EpisodicRecord struct {
	Who   []string        `json:"who"`
	What  []string        `json:"what"`
	Where []string        `json:"where"`
	When  []store.TimeRef `json:"when"`
	Tags  []string        `json:"tags"`
	Title string          `json:"title"`

	// NeedsReview is set when the LLM response could not be parsed and the
	// entity fields were defaulted to empty.
	NeedsReview  bool   `json:"needsReview,omitempty"`
	ReviewReason string `json:"reviewReason,omitempty"`
}

// entityPayload is the closed record the entity LLM call must produce.
// Unknown fields are discarded; missing fields default to empty.
type entityPayload struct {
	Who   []string `json:"who"`
	What  []string `json:"what"`
	Where []string `json:"where"`
	Title string   `json:"title"`
}
