package extraction

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Wei1024/notegraph/internal/store"
)

// Candidate spans are found by regex, resolved longest-first when they
// overlap, then parsed in two deterministic stages: a relative-date pass
// anchored at the current clock, and a coarser calendar pass for phrases
// the first stage rejects. No LLM is involved.

var timePatterns = []*regexp.Regexp{
	// next/this/last + weekday + clock time (most specific first)
	regexp.MustCompile(`(?i)\b(?:next|this|last)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s+(?:at\s+)?\d{1,2}(?::\d{2})?\s*(?:am|pm)\b`),
	// relative day words with optional time
	regexp.MustCompile(`(?i)\b(?:tomorrow|today|yesterday|tonight)(?:\s+at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?)?\b`),
	// next/this/last + period or weekday
	regexp.MustCompile(`(?i)\b(?:next|this|last)\s+(?:week|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	// month name + day with optional time
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?\b(?:\s+at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?)?`),
	// ISO date and ISO month
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{4}-(?:0[1-9]|1[0-2])\b`),
	// standalone clock times
	regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s*(?:am|pm)\b`),
	// start/end of a period
	regexp.MustCompile(`(?i)\b(?:end of|start of)\s+(?:month|week|year|day)\b`),
	// bare weekday names
	regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	// durations
	regexp.MustCompile(`(?i)\b\d+\s+(?:hours?|minutes?|days?|weeks?|months?)\b`),
	// recurring
	regexp.MustCompile(`(?i)\b(?:weekly|daily|monthly|annually|yearly)\b`),
	// quarters
	regexp.MustCompile(`(?i)\bQ[1-4]\b`),
}

// pastIndicators flag a duration as elapsed rather than scheduled.
var pastIndicators = []string{"for", "after", "took", "spent", "waited", "lasted"}

type timeSpan struct {
	start, end int
	text       string
}

// ExtractTimeRefs finds and parses every time expression in text, anchored
// at now.
func ExtractTimeRefs(text string, now time.Time) []store.TimeRef {
	spans := collectSpans(text)

	refs := make([]store.TimeRef, 0, len(spans))
	for _, span := range spans {
		kind := classifyKind(span.text)

		var parsed *string
		if kind == store.TimeRefDuration && inPastContext(text, span.start) {
			// An elapsed duration is not a timestamp.
			parsed = nil
		} else if t, ok := parseTimeText(span.text, now); ok {
			iso := t.Format("2006-01-02T15:04:05")
			parsed = &iso
		}

		refs = append(refs, store.TimeRef{
			Original: span.text,
			Parsed:   parsed,
			Kind:     kind,
		})
	}
	return refs
}

// collectSpans runs every pattern, then resolves overlapping candidate
// spans longest-first and deduplicates by lower-cased text.
func collectSpans(text string) []timeSpan {
	var all []timeSpan
	for _, re := range timePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			all = append(all, timeSpan{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]]})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		li, lj := all[i].end-all[i].start, all[j].end-all[j].start
		if li != lj {
			return li > lj
		}
		return all[i].start < all[j].start
	})

	var kept []timeSpan
	for _, span := range all {
		overlaps := false
		for _, k := range kept {
			if span.start < k.end && k.start < span.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, span)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	seen := make(map[string]bool, len(kept))
	out := kept[:0]
	for _, span := range kept {
		key := strings.ToLower(span.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, span)
	}
	return out
}

var durationKindPattern = regexp.MustCompile(`\d+\s+(?:hour|minute|day|week|month)`)

func classifyKind(text string) store.TimeRefKind {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "tomorrow", "today", "yesterday", "tonight", "next ", "this ", "last "):
		return store.TimeRefRelative
	case durationKindPattern.MatchString(lower):
		return store.TimeRefDuration
	case containsAny(lower, "weekly", "daily", "monthly", "annually", "yearly"):
		return store.TimeRefRecurring
	default:
		return store.TimeRefAbsolute
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inPastContext reports whether a past-context word precedes position
// within 50 characters.
func inPastContext(text string, pos int) bool {
	start := pos - 50
	if start < 0 {
		start = 0
	}
	before := strings.ToLower(text[start:pos])
	for _, word := range pastIndicators {
		for _, f := range strings.Fields(before) {
			if strings.Trim(f, ".,;:!?") == word {
				return true
			}
		}
	}
	return false
}

// parseTimeText resolves a candidate span: the relative pass first, then
// the calendar pass.
func parseTimeText(text string, now time.Time) (time.Time, bool) {
	if t, ok := parseRelative(text, now); ok {
		return t, true
	}
	return parseCalendar(text, now)
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

var (
	clockPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	bareClockPattern = regexp.MustCompile(`^\d{1,2}(?::\d{2})?\s*(?:am|pm)$`)
	relModPattern    = regexp.MustCompile(`^(next|this|last)\s+(\w+)`)
	isoPattern       = regexp.MustCompile(`^(\d{4})-(\d{2})(?:-(\d{2}))?$`)
	durationSpan     = regexp.MustCompile(`^(\d+)\s+(hour|minute|day|week|month)s?$`)
	quarterPattern   = regexp.MustCompile(`^q([1-4])$`)
	boundaryPattern  = regexp.MustCompile(`^(start of|end of)\s+(day|week|month|year)$`)
	monthDayPattern  = regexp.MustCompile(`^(\w+)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
)

// parseClock extracts an am/pm clock time from the span, if present.
func parseClock(text string) (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	meridiem := strings.ToLower(m[3])
	if meridiem == "pm" && hour != 12 {
		hour += 12
	}
	if meridiem == "am" && hour == 12 {
		hour = 0
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func withClock(day time.Time, text string, defaultHour int) time.Time {
	if h, m, ok := parseClock(text); ok {
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
	}
	return time.Date(day.Year(), day.Month(), day.Day(), defaultHour, 0, 0, 0, day.Location())
}

// parseRelative anchors relative expressions (today, next Tuesday, 3 days,
// ISO dates, clock times) at now.
func parseRelative(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case strings.HasPrefix(lower, "today"):
		return withClock(midnight(now), lower, 0), true
	case strings.HasPrefix(lower, "tonight"):
		return withClock(midnight(now), lower, 20), true
	case strings.HasPrefix(lower, "tomorrow"):
		return withClock(midnight(now).AddDate(0, 0, 1), lower, 0), true
	case strings.HasPrefix(lower, "yesterday"):
		return withClock(midnight(now).AddDate(0, 0, -1), lower, 0), true
	}

	// next/this/last + weekday or period
	if m := relModPattern.FindStringSubmatch(lower); m != nil {
		modifier, unit := m[1], m[2]
		if wd, ok := weekdays[unit]; ok {
			day := resolveWeekday(now, wd, modifier)
			return withClock(day, lower, 0), true
		}
		switch unit {
		case "week":
			return shiftPeriod(midnight(now), modifier, 0, 0, 7), true
		case "month":
			first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
			return shiftPeriod(first, modifier, 0, 1, 0), true
		case "year":
			first := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
			return shiftPeriod(first, modifier, 1, 0, 0), true
		}
		return time.Time{}, false
	}

	// ISO date / ISO month
	if m := isoPattern.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day := 1
		if m[3] != "" {
			day, _ = strconv.Atoi(m[3])
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()), true
	}

	// standalone clock time: today at that time, rolling to tomorrow once
	// the time has passed
	if bareClockPattern.MatchString(lower) {
		t := withClock(midnight(now), lower, 0)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	}

	// durations: scheduled durations resolve to now + span
	if m := durationSpan.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "minute":
			return now.Add(time.Duration(n) * time.Minute), true
		case "hour":
			return now.Add(time.Duration(n) * time.Hour), true
		case "day":
			return now.AddDate(0, 0, n), true
		case "week":
			return now.AddDate(0, 0, 7*n), true
		case "month":
			return now.AddDate(0, n, 0), true
		}
	}

	// quarters: start of the named quarter in the current year
	if m := quarterPattern.FindStringSubmatch(lower); m != nil {
		q, _ := strconv.Atoi(m[1])
		return time.Date(now.Year(), time.Month((q-1)*3+1), 1, 0, 0, 0, 0, now.Location()), true
	}

	// start/end of period
	if m := boundaryPattern.FindStringSubmatch(lower); m != nil {
		return periodBoundary(now, m[1] == "end of", m[2]), true
	}

	return time.Time{}, false
}

// resolveWeekday maps next/this/last + weekday onto a date. "this" is the
// upcoming occurrence within the next 0-6 days (today counts), "next" that
// occurrence plus seven days (a week from today when today matches), "last"
// the most recent past occurrence.
func resolveWeekday(now time.Time, target time.Weekday, modifier string) time.Time {
	base := midnight(now)
	diff := (int(target) - int(now.Weekday()) + 7) % 7
	switch modifier {
	case "next":
		if diff == 0 {
			diff = 7
		} else {
			diff += 7
		}
		return base.AddDate(0, 0, diff)
	case "last":
		back := (int(now.Weekday()) - int(target) + 7) % 7
		if back == 0 {
			back = 7
		}
		return base.AddDate(0, 0, -back)
	default: // "this"
		return base.AddDate(0, 0, diff)
	}
}

func shiftPeriod(base time.Time, modifier string, y, mo, d int) time.Time {
	switch modifier {
	case "next":
		return base.AddDate(y, mo, d)
	case "last":
		return base.AddDate(-y, -mo, -d)
	default:
		return base
	}
}

func periodBoundary(now time.Time, end bool, unit string) time.Time {
	base := midnight(now)
	switch unit {
	case "day":
		if end {
			return base.AddDate(0, 0, 1).Add(-time.Second)
		}
		return base
	case "week":
		// Week starts Monday.
		back := (int(now.Weekday()) - int(time.Monday) + 7) % 7
		start := base.AddDate(0, 0, -back)
		if end {
			return start.AddDate(0, 0, 7).Add(-time.Second)
		}
		return start
	case "month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		if end {
			return start.AddDate(0, 1, 0).Add(-time.Second)
		}
		return start
	default: // year
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		if end {
			return start.AddDate(1, 0, 0).Add(-time.Second)
		}
		return start
	}
}

// parseCalendar is the coarser natural-language fallback: month-and-day
// phrases and bare weekday names, future-preferring.
func parseCalendar(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	// "march 5", "march 5th at 2pm"
	if m := monthDayPattern.FindStringSubmatch(lower); m != nil {
		if month, ok := months[m[1]]; ok {
			day, _ := strconv.Atoi(m[2])
			if day >= 1 && day <= 31 {
				candidate := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
				if candidate.Before(midnight(now)) {
					candidate = candidate.AddDate(1, 0, 0)
				}
				return withClock(candidate, lower, 0), true
			}
		}
	}

	// bare weekday: upcoming occurrence, today excluded
	if wd, ok := weekdays[lower]; ok {
		diff := (int(wd) - int(now.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		return midnight(now).AddDate(0, 0, diff), true
	}

	return time.Time{}, false
}
