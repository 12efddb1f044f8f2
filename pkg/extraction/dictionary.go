package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// EntityDictionary finds mentions of already-known who/what/where entities
// in raw text with a single Aho-Corasick pass. It supplements the LLM
// extraction: an entity the graph already knows is matched deterministically
// even when the model misses it.
type EntityDictionary struct {
	ac           *ahocorasick.Automaton
	patternIndex map[string]int
	patterns     []string
	// pattern index -> entity subtype ("who", "what", "where") and the
	// display form recorded first
	subtypes []string
	displays []string
}

// KnownEntity is one input to dictionary compilation.
type KnownEntity struct {
	Name    string
	Subtype string // "who", "what" or "where"
}

// isJoiner returns true for punctuation that commonly appears inside
// names/terms and must survive canonicalization ("O'Brien", "Jean-Luc").
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

// canonicalize folds text to the normalized form shared by pattern
// compilation and scanning: lowercase, joiners preserved, every separator
// run collapsed to a single space.
func canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// CompileDictionary builds the automaton from known entities. Patterns are
// canonicalized; the first entity registered for a pattern wins.
func CompileDictionary(entities []KnownEntity) (*EntityDictionary, error) {
	d := &EntityDictionary{patternIndex: make(map[string]int)}

	for _, e := range entities {
		key := canonicalize(e.Name)
		if key == "" {
			continue
		}
		if _, exists := d.patternIndex[key]; exists {
			continue
		}
		d.patternIndex[key] = len(d.patterns)
		d.patterns = append(d.patterns, key)
		d.subtypes = append(d.subtypes, e.Subtype)
		d.displays = append(d.displays, e.Name)
	}

	if len(d.patterns) == 0 {
		return d, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(d.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = ac
	return d, nil
}

// EntityMatch is one known-entity mention found in text.
type EntityMatch struct {
	Name    string
	Subtype string
}

// Scan finds every known-entity mention in text. Matches are whole-token:
// a pattern that ends mid-word ("Sara" inside "Sarah") is discarded.
func (d *EntityDictionary) Scan(text string) []EntityMatch {
	if d == nil || d.ac == nil {
		return nil
	}

	haystack := canonicalize(text)
	raw := d.ac.FindAllOverlapping([]byte(haystack))

	seen := make(map[string]bool)
	var out []EntityMatch
	for _, m := range raw {
		if !wholeToken(haystack, m.Start, m.End) {
			continue
		}
		idx := m.PatternID
		if idx < 0 || idx >= len(d.patterns) {
			continue
		}
		key := d.subtypes[idx] + "\x00" + d.patterns[idx]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, EntityMatch{Name: d.displays[idx], Subtype: d.subtypes[idx]})
	}
	return out
}

// wholeToken checks the match is bounded by separators in the canonicalized
// haystack.
func wholeToken(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if r != ' ' {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if r != ' ' {
			return false
		}
	}
	return true
}
