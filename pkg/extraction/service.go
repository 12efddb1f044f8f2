package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service coordinates episodic metadata extraction from note text: one LLM
// call for entities and title, deterministic parsers for hashtags and time
// references, and an optional known-entity dictionary pass.
type Service struct {
	llm  Completer
	dict *EntityDictionary
}

// NewService creates an extraction service backed by the given completer.
func NewService(llm Completer) *Service {
	return &Service{llm: llm}
}

// SetDictionary installs (or replaces) the known-entity dictionary used to
// supplement LLM output. A nil dictionary disables the pass.
func (s *Service) SetDictionary(d *EntityDictionary) {
	s.dict = d
}

// Extract produces the full EpisodicRecord for a note. Provider errors
// bubble; a malformed LLM response is swallowed into an empty entity set
// with NeedsReview set, since the deterministic fields are still usable.
func (s *Service) Extract(ctx context.Context, text string, now time.Time) (*EpisodicRecord, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("extraction: completer not initialized")
	}

	rec := &EpisodicRecord{
		Tags: ExtractHashtags(text),
		When: ExtractTimeRefs(text, now),
	}

	raw, err := s.llm.Complete(ctx, "episodic_extraction", "", BuildEntityPrompt(text, now), SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("extraction: LLM call failed: %w", err)
	}

	payload, parseErr := parseEntityResponse(raw)
	if parseErr != nil {
		rec.NeedsReview = true
		rec.ReviewReason = "entity extraction response could not be parsed"
		rec.Title = FallbackTitle(text)
	} else {
		rec.Who = payload.Who
		rec.What = payload.What
		rec.Where = payload.Where
		rec.Title = payload.Title
		if rec.Title == "" {
			rec.Title = FallbackTitle(text)
		}
	}

	s.mergeDictionaryMatches(rec, text)
	return rec, nil
}

// mergeDictionaryMatches appends known-entity mentions the LLM missed,
// keeping the dictionary's display casing and deduplicating
// case-insensitively.
func (s *Service) mergeDictionaryMatches(rec *EpisodicRecord, text string) {
	if s.dict == nil {
		return
	}
	for _, m := range s.dict.Scan(text) {
		switch m.Subtype {
		case "who":
			rec.Who = appendUnique(rec.Who, m.Name)
		case "what":
			rec.What = appendUnique(rec.What, m.Name)
		case "where":
			rec.Where = appendUnique(rec.Where, m.Name)
		}
	}
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return values
		}
	}
	return append(values, v)
}

// FallbackTitle derives a title from the first line of the note, capped at
// 60 characters.
func FallbackTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = line[:60]
	}
	return line
}
