package retrieval

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Wei1024/notegraph/internal/logging"
)

// validContexts is the closed set of context filter values; anything else
// from the LLM is discarded.
var validContexts = map[string]bool{
	"tasks": true, "meetings": true, "ideas": true, "reference": true, "journal": true,
}

const queryParseSystemPrompt = `You are a search query parser for a personal notes system.
Extract structured filters from the user's natural language query.
Return ONLY a valid JSON object. Never invent values that are not in the query.`

// queryFilters is the closed record the query-parse LLM call must produce.
// Missing fields are wildcards.
type queryFilters struct {
	Person    string `json:"person"`
	Emotion   string `json:"emotion"`
	Entity    string `json:"entity"`
	Context   string `json:"context"`
	Sort      string `json:"sort"`
	TextQuery string `json:"text_query"`
}

func buildQueryParsePrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("Extract search filters from this query.\n\n")
	sb.WriteString("User query: \"")
	sb.WriteString(query)
	sb.WriteString("\"\n\n")
	sb.WriteString("FILTERS:\n")
	sb.WriteString("- \"person\": Proper name of a person mentioned (e.g. \"notes with Sarah\" -> \"Sarah\")\n")
	sb.WriteString("- \"emotion\": Feeling or mood word expressed in the query\n")
	sb.WriteString("- \"entity\": Specific named tool, concept, project, or topic being searched\n")
	sb.WriteString("- \"context\": One of: tasks, meetings, ideas, reference, journal. Only if explicitly mentioned\n")
	sb.WriteString("- \"sort\": \"recent\" or \"oldest\". Only if explicitly mentioned\n")
	sb.WriteString("- \"text_query\": Core searchable keywords with filler words removed\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("- Use null for any filter not present in the query\n")
	sb.WriteString("- Never invent values\n\n")
	sb.WriteString("OUTPUT FORMAT:\n")
	sb.WriteString("{\"person\": null, \"emotion\": null, \"entity\": null, \"context\": null, \"sort\": null, \"text_query\": null}\n\n")
	sb.WriteString("Your JSON response:")
	return sb.String()
}

// ParseQuery extracts structured filters from a natural-language query via
// the LLM. Unknown context and sort values are discarded; a parse failure
// yields empty filters rather than an error, so search degrades to the raw
// query.
func ParseQuery(ctx context.Context, llm Completer, query string) Filters {
	if llm == nil {
		return Filters{}
	}

	raw, err := llm.Complete(ctx, "search_parse", "", buildQueryParsePrompt(query), queryParseSystemPrompt)
	if err != nil {
		logging.Warnf("query parse failed, searching with the raw query: %v", err)
		return Filters{}
	}

	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) > 2 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var parsed queryFilters
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		logging.Warnf("query parse returned malformed JSON, searching with the raw query")
		return Filters{}
	}

	f := Filters{
		Person:    strings.TrimSpace(parsed.Person),
		Emotion:   strings.TrimSpace(parsed.Emotion),
		Entity:    strings.TrimSpace(parsed.Entity),
		TextQuery: strings.TrimSpace(parsed.TextQuery),
	}
	if c := strings.ToLower(strings.TrimSpace(parsed.Context)); validContexts[c] {
		f.Context = c
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Sort)) {
	case "recent":
		f.Sort = "recent"
	case "oldest":
		f.Sort = "oldest"
	}
	return f
}

// SearchNatural parses filters out of the query first, then runs the
// hybrid search with them.
func (r *Retriever) SearchNatural(ctx context.Context, query string, limit int) ([]Result, error) {
	filters := ParseQuery(ctx, r.llm, query)
	return r.Search(ctx, query, limit, filters)
}
