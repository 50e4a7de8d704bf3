package privacy

import (
	"regexp"
	"slices"
	"strings"
)

var (
	// Headings whose sections tend to hold third-party or personal details.
	sensitiveHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:references|personal(?:[ \t]+(?:information|details|info))?|about[ \t]+me)[ \t]*(?::|$)`)

	// Any full-line résumé heading; ends the section before it.
	anyHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:professional[ \t]+)?(?:summary|experience|work[ \t]+experience|work[ \t]+history|employment(?:[ \t]+history)?|education|skills|technical[ \t]+skills|projects|certifications?|awards|publications|languages|interests|volunteer(?:ing)?|objective|profile|references|personal(?:[ \t]+(?:information|details|info))?|about[ \t]+me|contact(?:[ \t]+information)?)[ \t]*:?[ \t]*$`)

	// "Contact: Jane Smith" style lines in job descriptions. The keyword is
	// case-insensitive, the name is not.
	contactLine = regexp.MustCompile(`(?m)^([ \t]*(?i:contact|manager|hiring[ \t]+manager|recruiter|reports[ \t]+to)[ \t]*:[ \t]*)([A-Z][a-z]+(?:[ \t]+[A-Z]\.)?[ \t]+[A-Z][a-z]+(?:['-][A-Z]?[a-z]+)?)\b`)
)

// sensitiveSections returns the trimmed bodies of References / Personal /
// About Me sections.
func sensitiveSections(text string) []Span {
	var sections []Span
	for _, loc := range sensitiveHeading.FindAllStringIndex(text, -1) {
		bodyStart := loc[1]
		bodyEnd := len(text)

		if nl := strings.IndexByte(text[bodyStart:], '\n'); nl >= 0 {
			next := bodyStart + nl + 1
			if h := anyHeading.FindStringIndex(text[next:]); h != nil {
				bodyEnd = next + h[0]
			}
		}

		body := text[bodyStart:bodyEnd]
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			continue
		}
		start := bodyStart + strings.Index(body, trimmed)
		sections = append(sections, Span{Start: start, End: start + len(trimmed)})
	}
	return sections
}

// redactSections replaces a sensitive section wholesale, but only when the
// section itself contained a detection. Benign sections are left alone. It
// returns the merged edits and the number of sections replaced.
func redactSections(text string, matches []Match, edits []edit) ([]edit, int) {
	replaced := 0
	for _, sec := range sensitiveSections(text) {
		triggered := false
		for _, m := range matches {
			if m.Start >= sec.Start && m.Start < sec.End {
				triggered = true
				break
			}
		}
		if !triggered {
			continue
		}

		start, end := sec.Start, sec.End
		kept := make([]edit, 0, len(edits)+1)
		for _, e := range edits {
			if e.start < sec.End && e.end > sec.Start {
				start = min(start, e.start)
				end = max(end, e.end)
				continue
			}
			kept = append(kept, e)
		}
		kept = append(kept, edit{start: start, end: end, label: SectionLabel})
		slices.SortFunc(kept, func(a, b edit) int { return a.start - b.start })
		edits = kept
		replaced++
	}
	return edits, replaced
}

// redactContactLines replaces the person named on contact/manager lines.
func redactContactLines(text, label string) (string, int) {
	locs := contactLine.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, loc := range locs {
		nameStart, nameEnd := loc[4], loc[5]
		b.WriteString(text[cursor:nameStart])
		b.WriteString(label)
		cursor = nameEnd
	}
	b.WriteString(text[cursor:])
	return b.String(), len(locs)
}
