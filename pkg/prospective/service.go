// Package prospective extracts future-facing items (actions, questions,
// decisions) from a note and binds each to a timepoint already parsed from
// the note's text. Items are stored as node metadata only, never as graph
// edges: an earlier edge-based design drowned the graph in noise.
package prospective

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Wei1024/notegraph/internal/store"
)

// Completer is the audited completion seam, satisfied by llm.Client.
type Completer interface {
	Complete(ctx context.Context, operation, noteID, userPrompt, systemPrompt string) (string, error)
}

// Service extracts prospective items via the LLM.
type Service struct {
	llm Completer
}

// NewService creates a prospective extraction service.
func NewService(llm Completer) *Service {
	return &Service{llm: llm}
}

const systemPrompt = `You are a prospective memory extraction system for personal notes.
Identify future-oriented action items, open questions, and pending decisions.
Return ONLY a valid JSON object. No markdown, no explanation.`

// extractionResult is the closed record the LLM must produce.
type extractionResult struct {
	ContainsProspective bool                    `json:"contains_prospective"`
	Items               []store.ProspectiveItem `json:"prospective_items"`
}

// Extract returns the prospective items found in text. timedata values the
// LLM invents (anything not verbatim among the parsed values of when) are
// discarded down to nil. A malformed response yields an empty item list
// without error; provider errors bubble.
func (s *Service) Extract(ctx context.Context, text string, when []store.TimeRef) ([]store.ProspectiveItem, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("prospective: completer not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	raw, err := s.llm.Complete(ctx, "prospective_extraction", "", buildPrompt(text, when), systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("prospective: LLM call failed: %w", err)
	}

	cleaned := stripCodeFence(strings.TrimSpace(raw))
	var result extractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		// Noisy extraction is tolerated; the note simply carries no items.
		return nil, nil
	}

	valid := make(map[string]bool, len(when))
	for _, ref := range when {
		if ref.Parsed != nil {
			valid[*ref.Parsed] = true
		}
	}

	items := make([]store.ProspectiveItem, 0, len(result.Items))
	for _, item := range result.Items {
		item.Content = strings.TrimSpace(item.Content)
		if item.Content == "" {
			continue
		}
		if item.Timedata != nil && !valid[*item.Timedata] {
			item.Timedata = nil
		}
		items = append(items, item)
	}
	return items, nil
}

func buildPrompt(text string, when []store.TimeRef) string {
	whenJSON := "[]"
	if len(when) > 0 {
		if data, err := json.MarshalIndent(when, "", "  "); err == nil {
			whenJSON = string(data)
		}
	}

	var sb strings.Builder
	sb.WriteString("Extract future-oriented action items from this note.\n\n")
	sb.WriteString("NOTE TEXT:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nTIMEPOINTS EXTRACTED:\n")
	sb.WriteString(whenJSON)
	sb.WriteString("\n\nTASK:\n")
	sb.WriteString("Identify any prospective items (things to do, evaluate, discuss, decide, or questions to answer).\n\n")
	sb.WriteString("For each prospective item:\n")
	sb.WriteString("1. Provide a brief description of the action/decision/question\n")
	sb.WriteString("2. If the item is associated with a specific timepoint, return the \"parsed\" timestamp from the TIMEPOINTS above\n")
	sb.WriteString("3. If no specific timepoint is mentioned with the item, use null\n\n")
	sb.WriteString("OUTPUT FORMAT (JSON only, no explanation):\n")
	sb.WriteString("{\n  \"contains_prospective\": true,\n  \"prospective_items\": [\n    {\"content\": \"<action description>\", \"timedata\": \"<ISO timestamp or null>\"}\n  ]\n}\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("- Only extract items requiring future action, decision, or answer\n")
	sb.WriteString("- Do NOT extract pure observations or completed past events\n")
	sb.WriteString("- For timedata: use the EXACT \"parsed\" value from TIMEPOINTS\n")
	sb.WriteString("- If no prospective items found, return {\"contains_prospective\": false, \"prospective_items\": []}\n\n")
	sb.WriteString("Return ONLY the JSON object:")
	return sb.String()
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
