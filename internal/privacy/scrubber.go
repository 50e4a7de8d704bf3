package privacy

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxPasses bounds the re-scrub loop.
	DefaultMaxPasses = 4
	// DefaultMaskChar fills masked spans in display mode.
	DefaultMaskChar = '*'
)

// ScrubOptions tunes a Scrubber.
type ScrubOptions struct {
	MaskChar  rune
	MaxPasses int
}

// Scrubber rewrites text so that no detected span survives, and fingerprints
// the result.
type Scrubber struct {
	detector *Detector
	opts     ScrubOptions
	logger   *zap.Logger
}

// NewScrubber wraps a detector. Zero-valued options take their defaults.
func NewScrubber(detector *Detector, opts ScrubOptions, logger *zap.Logger) *Scrubber {
	if opts.MaskChar == 0 {
		opts.MaskChar = DefaultMaskChar
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scrubber{detector: detector, opts: opts, logger: logger}
}

// Detector returns the underlying detector.
func (s *Scrubber) Detector() *Detector {
	return s.detector
}

type edit struct {
	start, end int
	label      string
}

type passOutcome struct {
	text     string
	items    int
	counts   map[Category]int
	found    map[Category]bool
	critical bool
}

// Scrub redacts text for the given scope. Input is NFKC-normalised first so
// that full-width digits and similar look-alikes are caught. Redaction is
// repeated until a pass finds nothing (bounded by MaxPasses), which makes
// scrubbing idempotent. The fingerprint covers the final redacted text only.
func (s *Scrubber) Scrub(text string, scope Scope) (ScrubResult, error) {
	start := time.Now()
	if err := validateInput(text, scope); err != nil {
		return ScrubResult{}, err
	}

	result := ScrubResult{
		Scope:          scope,
		OriginalLength: len(text),
		CategoryCounts: make(map[Category]int),
	}
	found := make(map[Category]bool)

	working := normalize(text)
	converged := false
	for pass := 1; pass <= s.opts.MaxPasses; pass++ {
		out := s.scrubPass(working, scope)
		result.Passes = pass
		working = out.text
		if out.items == 0 {
			converged = true
			break
		}
		result.ItemsFound += out.items
		for c, n := range out.counts {
			result.CategoryCounts[c] += n
		}
		for c := range out.found {
			found[c] = true
		}
		result.HasCritical = result.HasCritical || out.critical
	}
	if !converged && len(s.detector.collect(working, scope)) > 0 {
		s.logger.Warn("Scrub did not converge",
			zap.String("scope", scope.String()),
			zap.Int("passes", result.Passes),
		)
	}

	for _, rule := range s.detector.registry.rules {
		if found[rule.Category] {
			result.Categories = append(result.Categories, rule.Category)
		}
	}
	result.RedactedText = working
	result.RedactedLength = len(working)
	result.Fingerprint = newFingerprint(working)
	result.Duration = time.Since(start)

	if result.ItemsFound > 0 {
		s.logger.Debug("PII detected and redacted",
			zap.String("scope", scope.String()),
			zap.Strings("categories", result.CategoryNames()),
			zap.Int("items", result.ItemsFound),
			zap.Bool("has_critical", result.HasCritical),
			zap.Int("passes", result.Passes),
		)
	}

	return result, nil
}

func (s *Scrubber) scrubPass(text string, scope Scope) passOutcome {
	out := passOutcome{
		counts: make(map[Category]int),
		found:  make(map[Category]bool),
	}

	matches := s.detector.collect(text, scope)
	for _, m := range matches {
		out.found[m.Category] = true
		if m.Severity == SeverityCritical {
			out.critical = true
		}
	}

	accepted := resolve(matches)
	edits := make([]edit, 0, len(accepted))
	for _, m := range accepted {
		edits = append(edits, edit{start: m.Start, end: m.End, label: s.detector.registry.Label(m.Category)})
		out.counts[m.Category]++
		out.items++
	}

	if scope == ScopeResume {
		var sections int
		edits, sections = redactSections(text, matches, edits)
		out.items += sections
	}

	redacted := applyEdits(text, edits)

	if scope == ScopeJobDescription {
		var n int
		redacted, n = redactContactLines(redacted, s.detector.registry.Label(CategoryName))
		if n > 0 {
			out.items += n
			out.counts[CategoryName] += n
			out.found[CategoryName] = true
			out.critical = true
		}
	}

	out.text = collapseWhitespace(redacted)
	return out
}

// Mask renders text for human-facing audit trails: each detected span keeps
// up to two runes at either end and the rest is filled with the mask
// character, so the rune length is unchanged. Masked output must never be
// fingerprinted or forwarded downstream.
func (s *Scrubber) Mask(text string, scope Scope) (MaskResult, error) {
	if err := validateInput(text, scope); err != nil {
		return MaskResult{}, err
	}

	matches := s.detector.collect(text, scope)
	found := make(map[Category]bool)
	result := MaskResult{}
	for _, m := range matches {
		found[m.Category] = true
		if m.Severity == SeverityCritical {
			result.HasCritical = true
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, m := range resolve(matches) {
		b.WriteString(text[cursor:m.Start])
		b.WriteString(maskSpan(text[m.Start:m.End], s.opts.MaskChar))
		cursor = m.End
		result.ItemsMasked++
	}
	b.WriteString(text[cursor:])

	for _, rule := range s.detector.registry.rules {
		if found[rule.Category] {
			result.Categories = append(result.Categories, rule.Category)
		}
	}
	result.MaskedText = b.String()
	return result, nil
}

// maskSpan keeps 2 runes at each end of spans of 8+ runes, 1 for spans of
// 4-7 runes, and masks short spans completely.
func maskSpan(value string, maskChar rune) string {
	runes := []rune(value)
	reveal := 0
	switch {
	case len(runes) >= 8:
		reveal = 2
	case len(runes) >= 4:
		reveal = 1
	}
	for i := reveal; i < len(runes)-reveal; i++ {
		runes[i] = maskChar
	}
	return string(runes)
}

func applyEdits(text string, edits []edit) string {
	if len(edits) == 0 {
		return text
	}
	slices.SortFunc(edits, func(a, b edit) int { return a.start - b.start })

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, e := range edits {
		if e.start < cursor {
			continue
		}
		b.WriteString(text[cursor:e.start])
		b.WriteString(e.label)
		cursor = e.end
	}
	b.WriteString(text[cursor:])
	return b.String()
}

var (
	horizontalRun = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankLineRun  = regexp.MustCompile(`\n{3,}`)
)

func collapseWhitespace(text string) string {
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = horizontalRun.ReplaceAllString(text, " ")
	return blankLineRun.ReplaceAllString(text, "\n\n")
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return collapseWhitespace(norm.NFKC.String(text))
}
