package extraction

import (
	"strings"
	"time"
)

// MaxTextLength is the maximum number of characters sent to the LLM.
const MaxTextLength = 8000

// SystemPrompt instructs the LLM to return structured JSON only.
const SystemPrompt = `You are an entity extraction assistant for personal notes.
Extract people, topics, and locations mentioned in the given note.
Return ONLY a valid JSON object. No markdown, no explanation.
Start with { and end with }.`

// BuildEntityPrompt constructs the episodic extraction prompt. The current
// date anchors any wording the model needs for context; time parsing itself
// is deterministic and never delegated to the LLM.
func BuildEntityPrompt(text string, now time.Time) string {
	truncated := text
	if len(truncated) > MaxTextLength {
		truncated = truncated[:MaxTextLength]
	}

	var sb strings.Builder
	sb.WriteString("Extract people, topics, and locations from this note.\n\n")
	sb.WriteString("TODAY'S DATE: ")
	sb.WriteString(now.Format("2006-01-02 15:04 MST"))
	sb.WriteString("\n\nNOTE TEXT:\n")
	sb.WriteString(truncated)
	sb.WriteString("\n\nINSTRUCTIONS:\n")
	sb.WriteString("1. \"who\": Names of people and organizations mentioned in the note\n")
	sb.WriteString("2. \"what\": Specific concepts, technologies, or topics mentioned\n")
	sb.WriteString("3. \"where\": Physical places, virtual locations, or meeting contexts\n")
	sb.WriteString("4. \"title\": A short descriptive title (max 10 words)\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("- Only extract entities EXPLICITLY mentioned in the text\n")
	sb.WriteString("- Use empty arrays if nothing found\n")
	sb.WriteString("- Return valid JSON only\n\n")
	sb.WriteString("OUTPUT FORMAT:\n")
	sb.WriteString("{\n  \"who\": [],\n  \"what\": [],\n  \"where\": [],\n  \"title\": \"\"\n}\n\n")
	sb.WriteString("Your JSON response:")

	return sb.String()
}
