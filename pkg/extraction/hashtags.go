package extraction

import (
	"regexp"
	"strings"
)

// hashtagPattern matches #tag, #parent/child and #a/b/c. Characters are
// restricted to [a-zA-Z0-9_-] with / as the hierarchy delimiter, max depth 3.
var hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9_-]+(?:/[a-zA-Z0-9_-]+){0,2})`)

// ExtractHashtags pulls user hashtags out of note text. Tags are
// lower-cased and deduplicated case-insensitively, preserving first-seen
// order. No LLM involvement: the tag taxonomy is user-controlled.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
