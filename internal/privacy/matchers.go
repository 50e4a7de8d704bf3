package privacy

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Matcher finds candidate spans for a single category.
type Matcher interface {
	FindAll(text string, scope Scope) []Span
}

// regexMatcher reports either the whole match or, when the pattern has
// capture groups, the first group that participated in the match.
type regexMatcher struct {
	re       *regexp.Regexp
	validate func(string) bool
}

func newRegexMatcher(pattern string, validate func(string) bool) *regexMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern), validate: validate}
}

func (m *regexMatcher) FindAll(text string, _ Scope) []Span {
	var spans []Span
	for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		for g := 1; g*2+1 < len(loc); g++ {
			if loc[g*2] >= 0 {
				start, end = loc[g*2], loc[g*2+1]
				break
			}
		}
		if start >= end {
			continue
		}
		if m.validate != nil && !m.validate(text[start:end]) {
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// nameMatcher combines a first-name dictionary with a positional heuristic:
// on a résumé the first non-empty line is usually the candidate's name.
type nameMatcher struct {
	dictionary *regexp.Regexp
}

var defaultFirstNames = []string{
	"James", "John", "Robert", "Michael", "William", "David", "Richard", "Joseph",
	"Thomas", "Charles", "Christopher", "Daniel", "Matthew", "Anthony", "Mark",
	"Steven", "Paul", "Andrew", "Joshua", "Kevin", "Brian", "George", "Edward",
	"Ryan", "Jacob", "Nicholas", "Eric", "Jonathan", "Justin", "Brandon",
	"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Barbara", "Susan",
	"Jessica", "Sarah", "Karen", "Nancy", "Lisa", "Margaret", "Sandra", "Ashley",
	"Emily", "Michelle", "Amanda", "Melissa", "Stephanie", "Rebecca", "Laura",
	"Emma", "Olivia", "Sophia", "Hannah", "Rachel", "Jane", "Anna", "Maria",
	"Wei", "Priya", "Raj", "Mohammed", "Ahmed", "Fatima", "Carlos", "Juan",
	"Luis", "Ana", "Sofia", "Yuki", "Hiroshi", "Chen", "Arjun", "Aisha",
}

func newNameMatcher(extraFirstNames []string) *nameMatcher {
	names := slices.Clone(defaultFirstNames)
	for _, n := range extraFirstNames {
		n = strings.TrimSpace(n)
		if n != "" {
			names = append(names, n)
		}
	}
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	// First name, optional middle initial, capitalised surname (hyphenated or
	// with an apostrophe). Only horizontal whitespace separates the parts.
	pattern := `\b(?:` + strings.Join(quoted, "|") + `)(?:[ \t]+[A-Z]\.)?[ \t]+[A-Z][a-z]+(?:['-][A-Z]?[a-z]+)?\b`
	return &nameMatcher{dictionary: regexp.MustCompile(pattern)}
}

func (m *nameMatcher) FindAll(text string, scope Scope) []Span {
	var spans []Span
	for _, loc := range m.dictionary.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}

	if scope == ScopeResume {
		if head, ok := leadingNameLine(text); ok {
			covered := false
			for _, s := range spans {
				if s.Start < head.End && head.Start < s.End {
					covered = true
					break
				}
			}
			if !covered {
				spans = append(spans, head)
			}
		}
	}

	slices.SortFunc(spans, func(a, b Span) int { return a.Start - b.Start })
	return spans
}

var headingWords = map[string]bool{
	"resume": true, "résumé": true, "curriculum": true, "vitae": true, "cv": true,
	"summary": true, "profile": true, "objective": true, "experience": true,
	"education": true, "skills": true, "projects": true, "references": true,
	"contact": true, "professional": true, "personal": true, "work": true,
	"history": true, "employment": true, "about": true, "me": true,
	"senior": true, "junior": true, "lead": true, "principal": true,
	"software": true, "engineer": true, "developer": true, "manager": true,
	"designer": true, "analyst": true, "consultant": true, "director": true,
	"dear": true, "hello": true, "hi": true, "job": true, "description": true,
}

// leadingNameLine returns the span of the first non-empty line when it looks
// like a bare personal name: 2-4 capitalised words and nothing else.
func leadingNameLine(text string) (Span, bool) {
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += offset
		}
		line := text[offset:end]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			offset = end + 1
			continue
		}
		if !looksLikeName(trimmed) {
			return Span{}, false
		}
		start := offset + strings.Index(line, trimmed)
		return Span{Start: start, End: start + len(trimmed)}, true
	}
	return Span{}, false
}

func looksLikeName(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 4 {
		return false
	}
	for _, f := range fields {
		if headingWords[strings.ToLower(f)] {
			return false
		}
		if !isNameToken(f) {
			return false
		}
	}
	return true
}

func isNameToken(tok string) bool {
	runes := []rune(tok)
	if len(runes) == 2 && unicode.IsUpper(runes[0]) && runes[1] == '.' {
		return true
	}
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	lower := 0
	for _, r := range runes[1:] {
		switch {
		case unicode.IsLower(r):
			lower++
		case r == '-' || r == '\'' || r == '’' || unicode.IsUpper(r):
		default:
			return false
		}
	}
	return lower > 0
}

// luhnValid checks the Luhn checksum over the digits in s.
func luhnValid(s string) bool {
	digits := onlyDigits(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ssnValid rejects numbers the SSA never issues: area 000, 666 or 9xx,
// group 00, serial 0000.
func ssnValid(s string) bool {
	digits := onlyDigits(s)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
