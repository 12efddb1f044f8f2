package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// parseEntityResponse parses the raw LLM response into an entityPayload.
// Handles markdown code fences and attempts repair on malformed JSON.
func parseEntityResponse(raw string) (*entityPayload, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, fmt.Errorf("extraction: empty LLM response")
	}

	var payload entityPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		cleanPayload(&payload)
		return &payload, nil
	}

	// Last resort: pull each field's array out by regex from the malformed
	// response.
	repaired := entityPayload{
		Who:   repairStringArray(cleaned, "who"),
		What:  repairStringArray(cleaned, "what"),
		Where: repairStringArray(cleaned, "where"),
		Title: repairStringField(cleaned, "title"),
	}
	if len(repaired.Who) == 0 && len(repaired.What) == 0 && len(repaired.Where) == 0 && repaired.Title == "" {
		return nil, fmt.Errorf("extraction: failed to parse LLM response")
	}
	cleanPayload(&repaired)
	return &repaired, nil
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

// cleanPayload trims values and drops empties, deduplicating
// case-insensitively while keeping the first-seen casing.
func cleanPayload(p *entityPayload) {
	p.Who = dedupeStrings(p.Who)
	p.What = dedupeStrings(p.What)
	p.Where = dedupeStrings(p.Where)
	p.Title = strings.TrimSpace(p.Title)
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

var arrayPattern = `"%s"\s*:\s*(\[[^\]]*\])`

// repairStringArray recovers one named string array from malformed JSON.
func repairStringArray(raw, field string) []string {
	re := regexp.MustCompile(fmt.Sprintf(arrayPattern, field))
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(m[1]), &values); err != nil {
		return nil
	}
	return values
}

// repairStringField recovers one named string value from malformed JSON.
func repairStringField(raw, field string) string {
	re := regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"([^"]*)"`, field))
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}
