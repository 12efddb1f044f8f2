// Package llm wraps the completion and embedding providers with audit
// logging: every call is timed, its prompt and raw response captured, token
// counts and an estimated cost recorded, and the result persisted as one
// llm_operations row. An audit write failure never fails the wrapped call.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/Wei1024/notegraph/internal/logging"
	"github.com/Wei1024/notegraph/internal/store"
	"github.com/Wei1024/notegraph/pkg/batch"
	"github.com/Wei1024/notegraph/pkg/embedding"
)

// modelPricing maps a model-name prefix to (input, output) USD per token.
// Models without an entry get no cost estimate, never a fabricated one.
var modelPricing = map[string][2]float64{
	"openai/gpt-4o-mini": {0.15 / 1_000_000, 0.60 / 1_000_000},
	"openai/gpt-4o":      {2.50 / 1_000_000, 10.00 / 1_000_000},
	"gpt-4o-mini":        {0.15 / 1_000_000, 0.60 / 1_000_000},
	"gpt-4o":             {2.50 / 1_000_000, 10.00 / 1_000_000},
	"gemini-2.0-flash":   {0.10 / 1_000_000, 0.40 / 1_000_000},
}

func estimateCost(model string, tokensIn, tokensOut *int64) *float64 {
	if tokensIn == nil || tokensOut == nil {
		return nil
	}
	// Longest matching prefix wins so "gpt-4o-mini" is not priced as
	// "gpt-4o".
	best := ""
	for prefix := range modelPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	prices := modelPricing[best]
	cost := float64(*tokensIn)*prices[0] + float64(*tokensOut)*prices[1]
	return &cost
}

// Client is the audited completion provider handed to the extraction,
// prospective, retrieval and clustering services.
type Client struct {
	svc   *batch.Service
	store store.Storer
}

// NewClient wraps a batch service with audit logging into the given store.
func NewClient(svc *batch.Service, s store.Storer) *Client {
	return &Client{svc: svc, store: s}
}

// Complete performs one audited completion. operation tags the audit row
// (e.g. "episodic_extraction"); noteID may be empty for calls not tied to a
// note. The call's error is returned unchanged after the audit row is
// written.
func (c *Client) Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error) {
	rec := &store.AuditRecord{
		NoteID:        noteID,
		OperationType: operation,
		CreatedAt:     time.Now().UnixMilli(),
		Model:         c.svc.GetCurrentModel(),
		PromptText:    userPrompt,
	}
	start := time.Now()
	defer func() {
		rec.DurationMS = time.Since(start).Milliseconds()
		if _, err := c.store.LogAuditRecord(rec); err != nil {
			// Audit logging is not critical; a busy store must not fail
			// the wrapped call.
			logging.Warnf("audit write skipped for %s: %v", operation, err)
		}
	}()

	completion, err := c.svc.Complete(ctx, userPrompt, systemPrompt)
	if err != nil {
		rec.Error = err.Error()
		rec.Success = false
		return "", err
	}

	rec.RawResponse = completion.Text
	rec.Model = completion.Model
	rec.TokensInput = completion.TokensInput
	rec.TokensOutput = completion.TokensOutput
	rec.CostUSD = estimateCost(completion.Model, completion.TokensInput, completion.TokensOutput)
	rec.Success = true
	return completion.Text, nil
}

// Model reports the active completion model.
func (c *Client) Model() string {
	return c.svc.GetCurrentModel()
}

// AuditedEmbedder wraps an Embedder so every embedding call is also logged.
type AuditedEmbedder struct {
	inner embedding.Embedder
	store store.Storer
	model string
}

// NewAuditedEmbedder wraps inner; model names the embedding model in audit
// rows.
func NewAuditedEmbedder(inner embedding.Embedder, s store.Storer, model string) *AuditedEmbedder {
	return &AuditedEmbedder{inner: inner, store: s, model: model}
}

// Embed performs one audited embedding call.
func (e *AuditedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	rec := &store.AuditRecord{
		OperationType: "embedding",
		CreatedAt:     time.Now().UnixMilli(),
		Model:         e.model,
		PromptText:    text,
	}
	start := time.Now()
	defer func() {
		rec.DurationMS = time.Since(start).Milliseconds()
		if _, err := e.store.LogAuditRecord(rec); err != nil {
			logging.Warnf("audit write skipped for embedding: %v", err)
		}
	}()

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		rec.Error = err.Error()
		rec.Success = false
		return nil, err
	}
	rec.Success = true
	return vec, nil
}

var _ embedding.Embedder = (*AuditedEmbedder)(nil)
