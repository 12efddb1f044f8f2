package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/Wei1024/notegraph/internal/store"
)

var englishStopwords = stopwords.MustGet("en")

// summaryPayload is the closed record the summary LLM call must produce.
type summaryPayload struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

const summarySystemPrompt = `You are a summarization assistant for clusters of personal notes.
Return ONLY a valid JSON object with "title" and "summary". No markdown, no explanation.`

// summarize produces the cluster's title (at most 5 words) and summary (the
// prompt asks for 1-2 sentences; the returned text is not shortened). The
// LLM path is attempted first; any failure falls
// back to a deterministic title from the most frequent topic entities.
func (c *Clusterer) summarize(ctx context.Context, members []*store.Node) (string, string) {
	if c.llm != nil {
		raw, err := c.llm.Complete(ctx, "cluster_summary", "", buildSummaryPrompt(members), summarySystemPrompt)
		if err == nil {
			cleaned := stripCodeFence(strings.TrimSpace(raw))
			var payload summaryPayload
			if jsonErr := json.Unmarshal([]byte(cleaned), &payload); jsonErr == nil && payload.Title != "" {
				return capWords(strings.TrimSpace(payload.Title), 5), strings.TrimSpace(payload.Summary)
			}
		}
	}
	return fallbackSummary(members)
}

// buildSummaryPrompt samples up to 3 member texts plus the aggregated
// entities and tags, capped per field to keep the prompt small.
func buildSummaryPrompt(members []*store.Node) string {
	var who, what, where, tags []string
	for _, n := range members {
		who = appendCapped(who, n.Who, 5)
		what = appendCapped(what, n.What, 8)
		where = appendCapped(where, n.Where, 5)
		tags = appendCapped(tags, n.Tags, 5)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a title and summary for this cluster of %d related notes.\n\n", len(members))
	sb.WriteString("CLUSTER ENTITIES:\n")
	fmt.Fprintf(&sb, "- People/Orgs: %s\n", orNone(who))
	fmt.Fprintf(&sb, "- Topics: %s\n", orNone(what))
	fmt.Fprintf(&sb, "- Locations: %s\n", orNone(where))
	fmt.Fprintf(&sb, "- Tags: %s\n\n", orNone(tags))

	sb.WriteString("SAMPLE NOTES:\n")
	for i, n := range members {
		if i == 3 {
			break
		}
		text := n.Text
		if len(text) > 200 {
			text = text[:200]
		}
		fmt.Fprintf(&sb, "%d. %s...\n", i+1, text)
	}

	sb.WriteString("\nOUTPUT FORMAT (JSON):\n")
	sb.WriteString("{\n  \"title\": \"3-5 word cluster title\",\n  \"summary\": \"1-2 sentence description of what these notes are about\"\n}\n\n")
	sb.WriteString("Your JSON response:")
	return sb.String()
}

// fallbackSummary derives a title from the highest-frequency topic
// entities, filtering stopwords so a cluster is never titled "The, Of".
func fallbackSummary(members []*store.Node) (string, string) {
	freq := make(map[string]int)
	display := make(map[string]string)
	for _, n := range members {
		for _, w := range n.What {
			key := strings.ToLower(strings.TrimSpace(w))
			if key == "" || englishStopwords.Contains(key) {
				continue
			}
			freq[key]++
			if _, ok := display[key]; !ok {
				display[key] = strings.TrimSpace(w)
			}
		}
	}

	keys := make([]string, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 3 {
		keys = keys[:3]
	}

	if len(keys) == 0 {
		return fmt.Sprintf("Cluster of %d notes", len(members)),
			fmt.Sprintf("Cluster of %d related notes", len(members))
	}

	topics := make([]string, len(keys))
	for i, k := range keys {
		topics[i] = display[k]
	}
	titleTopics := topics
	if len(titleTopics) > 2 {
		titleTopics = titleTopics[:2]
	}
	return capWords(strings.Join(titleTopics, ", "), 5),
		fmt.Sprintf("Notes about %s", strings.Join(topics, ", "))
}

func appendCapped(dst []string, src []string, limit int) []string {
	for _, v := range src {
		if len(dst) >= limit {
			return dst
		}
		found := false
		for _, existing := range dst {
			if strings.EqualFold(existing, v) {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func orNone(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	return strings.Join(values, ", ")
}

func capWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

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
