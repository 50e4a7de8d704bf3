package privacy

import (
	"fmt"
	"strings"
	"sync"
)

// SectionLabel replaces a whole résumé section that carried PII.
const SectionLabel = "[REDACTED_SECTION]"

// PatternRule binds a category to its matcher, severity and replacement label.
type PatternRule struct {
	Category Category
	Severity Severity
	Label    string
	Matcher  Matcher
}

// RegistryOptions tunes rule construction.
type RegistryOptions struct {
	// ExtraFirstNames extends the built-in first-name dictionary.
	ExtraFirstNames []string
}

// Registry is the ordered, immutable rule table. Iteration order is the
// overlap tie-break: an earlier rule wins any span it shares with a later one.
type Registry struct {
	rules []PatternRule
	index map[Category]int
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry built with default
// options. It is compiled on first use and never mutated afterwards.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		reg, err := NewRegistry(RegistryOptions{})
		if err != nil {
			panic(fmt.Sprintf("privacy: default registry: %v", err))
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// NewRegistry compiles the rule table and checks its invariants.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	reg := &Registry{
		rules: buildRules(opts),
		index: make(map[Category]int),
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	for i, r := range reg.rules {
		reg.index[r.Category] = i
	}
	return reg, nil
}

func buildRules(opts RegistryOptions) []PatternRule {
	return []PatternRule{
		{
			Category: CategoryCredentials,
			Severity: SeverityCritical,
			Label:    "[CREDENTIAL]",
			Matcher: newRegexMatcher(
				`(?i:\b(?:password|passwd|pwd|passphrase|api[_-]?key|secret(?:[_-]?key)?|access[_-]?token|auth[_-]?token|token)[ \t]*[:=][ \t]*[^\s,;]+)`+
					`|\bsk-[A-Za-z0-9_-]{20,}`+
					`|\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`+
					`|\bgh[pousr]_[A-Za-z0-9]{36}\b`+
					`|\bxox[abprs]-[A-Za-z0-9-]{10,}`+
					`|-----BEGIN [A-Z ]*PRIVATE KEY-----`,
				nil),
		},
		{
			Category: CategoryGenericSecretURL,
			Severity: SeverityCritical,
			Label:    "[SECRET_URL]",
			Matcher: newRegexMatcher(
				`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^\s/:@]+:[^\s/@]+@\S+`+
					`|\bhttps?://[^\s?#]+\?(?:[^\s#&]*&)*(?i:token|key|secret|sig|signature|access_token|api_key|apikey|password|auth)=[^\s&#]+\S*`,
				nil),
		},
		{
			Category: CategoryEmail,
			Severity: SeverityCritical,
			Label:    "[EMAIL]",
			Matcher:  newRegexMatcher(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, nil),
		},
		{
			Category: CategoryPersonalWebsite,
			Severity: SeverityModerate,
			Label:    "[WEBSITE]",
			Matcher: newRegexMatcher(
				`(?i)\b(?:https?://)?(?:www\.)?(?:linkedin\.com/in|github\.com|gitlab\.com|twitter\.com|x\.com|medium\.com|behance\.net|dribbble\.com|stackoverflow\.com/users)/[A-Za-z0-9_.%@-]+(?:/[A-Za-z0-9_.%@-]+)*/?`+
					`|\bhttps?://(?:www\.)?[A-Za-z0-9-]+\.(?:me|dev|io|page|site|name|xyz)\b(?:/\S*)?`,
				nil),
		},
		{
			Category: CategorySocialHandle,
			Severity: SeverityModerate,
			Label:    "[SOCIAL_HANDLE]",
			Matcher:  newRegexMatcher(`(?m)(?:^|[\s(,;])(@[A-Za-z0-9_]{2,30})\b`, nil),
		},
		{
			Category: CategorySSN,
			Severity: SeverityCritical,
			Label:    "[SSN]",
			Matcher:  newRegexMatcher(`\b\d{3}-\d{2}-\d{4}\b|\b\d{3} \d{2} \d{4}\b`, ssnValid),
		},
		{
			Category: CategoryCreditCard,
			Severity: SeverityCritical,
			Label:    "[CREDIT_CARD]",
			Matcher: newRegexMatcher(
				`\b(?:\d{13,19}|\d{4}(?:[ -]\d{4}){3}(?:\d{3})?|\d{4}[ -]\d{6}[ -]\d{5})\b`,
				luhnValid),
		},
		{
			Category: CategoryMedicalRecord,
			Severity: SeverityCritical,
			Label:    "[MRN]",
			Matcher: newRegexMatcher(
				`(?i)\b(?:MRN|medical[ \t]+record(?:[ \t]+(?:number|no\.?|#))?|patient[ \t]+id)[ \t]*[:#]?[ \t]*[A-Z0-9][A-Z0-9-]{3,14}\b`,
				hasDigit),
		},
		{
			Category: CategoryDriverLicense,
			Severity: SeverityCritical,
			Label:    "[DRIVER_LICENSE]",
			Matcher: newRegexMatcher(
				`(?i)\b(?:driver(?:'|’)?s?[ \t]+licen[cs]e|DL)(?:[ \t]+(?:number|no\.?|#))?[ \t]*[:#]?[ \t]*[A-Z0-9][A-Z0-9-]{4,14}\b`,
				hasDigit),
		},
		{
			Category: CategoryDateOfBirth,
			Severity: SeverityCritical,
			Label:    "[DOB]",
			Matcher: newRegexMatcher(
				`(?i)\b(?:DOB|D\.O\.B\.?|date[ \t]+of[ \t]+birth|birth[ \t]*date|born(?:[ \t]+on)?)[ \t]*[:-]?[ \t]*`+
					`(?:\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2}`+
					`|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?[ \t]+\d{1,2},?[ \t]+\d{4}`+
					`|\d{1,2}[ \t]+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?[ \t]+\d{4})`,
				nil),
		},
		{
			Category: CategoryPhone,
			Severity: SeverityCritical,
			Label:    "[PHONE]",
			Matcher: newRegexMatcher(
				`(?:\+1[-. ]?)?(?:\(\d{3}\)[-. ]?|\b\d{3}[-. ])\d{3}[-. ]\d{4}\b`+
					`|\+\d{1,3}[-. ]\d{1,4}(?:[-. ]\d{2,4}){2,3}\b`,
				nil),
		},
		{
			Category: CategoryIPAddress,
			Severity: SeverityModerate,
			Label:    "[IP_ADDRESS]",
			Matcher: newRegexMatcher(
				`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`+
					`|\b(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}\b`,
				nil),
		},
		{
			Category: CategoryStreetAddress,
			Severity: SeverityCritical,
			Label:    "[ADDRESS]",
			Matcher: newRegexMatcher(
				`\b\d{1,6}[ \t]+(?:[A-Z][a-z]+[ \t]+){1,4}(?:Street|St|Avenue|Ave|Boulevard|Blvd|Drive|Dr|Road|Rd|Lane|Ln|Court|Ct|Way|Place|Pl|Circle|Cir|Terrace|Ter|Parkway|Pkwy|Highway|Hwy)\b\.?`+
					`(?:,?[ \t]+(?:Apt|Suite|Ste|Unit)\.?[ \t]*#?[A-Za-z0-9-]+|,?[ \t]+#[A-Za-z0-9-]+)?`,
				nil),
		},
		{
			Category: CategoryPostalCode,
			Severity: SeverityModerate,
			Label:    "[POSTAL_CODE]",
			Matcher: newRegexMatcher(
				`\b[A-Z]{2}[ \t]+(\d{5}(?:-\d{4})?)\b|\b(\d{5}-\d{4})\b|\b([A-Z]\d[A-Z][ ]?\d[A-Z]\d)\b`,
				nil),
		},
		{
			Category: CategoryFinancialAmount,
			Severity: SeverityInformational,
			Label:    "[AMOUNT]",
			Matcher: newRegexMatcher(
				`[$€£][ ]?\d+(?:,\d{3})*(?:\.\d{1,2})?(?:[ ]?(?:[kKmM]|million|billion)\b)?`+
					`|\b\d{1,3}(?:,\d{3})+(?:\.\d{2})?[ ]?(?:USD|EUR|GBP|dollars)\b`,
				nil),
		},
		{
			Category: CategoryName,
			Severity: SeverityCritical,
			Label:    "[NAME]",
			Matcher:  newNameMatcher(opts.ExtraFirstNames),
		},
	}
}

// validate enforces the table invariants: every category exactly once, one
// unique non-empty label per category, and no rule that matches a label.
// The last one keeps re-scrubbing redacted text a no-op.
func (r *Registry) validate() error {
	seen := make(map[Category]bool, len(r.rules))
	labels := make(map[string]Category, len(r.rules))
	for _, rule := range r.rules {
		if !rule.Category.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(rule.Category))
		}
		if seen[rule.Category] {
			return fmt.Errorf("duplicate rule for category %s", rule.Category)
		}
		seen[rule.Category] = true
		if rule.Label == "" {
			return fmt.Errorf("empty label for category %s", rule.Category)
		}
		if other, dup := labels[rule.Label]; dup {
			return fmt.Errorf("label %s shared by %s and %s", rule.Label, other, rule.Category)
		}
		labels[rule.Label] = rule.Category
		if rule.Matcher == nil {
			return fmt.Errorf("no matcher for category %s", rule.Category)
		}
	}
	for _, c := range AllCategories() {
		if !seen[c] {
			return fmt.Errorf("missing rule for category %s", c)
		}
	}

	all := make([]string, 0, len(labels)+1)
	for label := range labels {
		all = append(all, label)
	}
	all = append(all, SectionLabel)
	labelText := strings.Join(all, " ")
	for _, rule := range r.rules {
		for _, scope := range []Scope{ScopeGeneral, ScopeResume, ScopeJobDescription} {
			if spans := rule.Matcher.FindAll(labelText, scope); len(spans) > 0 {
				return fmt.Errorf("rule %s matches replacement labels", rule.Category)
			}
		}
	}
	return nil
}

// All returns every rule in iteration order.
func (r *Registry) All() []PatternRule {
	out := make([]PatternRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Critical returns the rules whose severity is critical, in iteration order.
func (r *Registry) Critical() []PatternRule {
	var out []PatternRule
	for _, rule := range r.rules {
		if rule.Severity == SeverityCritical {
			out = append(out, rule)
		}
	}
	return out
}

// For returns the rules registered for category c.
func (r *Registry) For(c Category) []PatternRule {
	if i, ok := r.index[c]; ok {
		return []PatternRule{r.rules[i]}
	}
	return nil
}

// Rule returns the rule for category c.
func (r *Registry) Rule(c Category) (PatternRule, bool) {
	i, ok := r.index[c]
	if !ok {
		return PatternRule{}, false
	}
	return r.rules[i], true
}

// Label returns the canonical replacement label for c.
func (r *Registry) Label(c Category) string {
	if rule, ok := r.Rule(c); ok {
		return rule.Label
	}
	return ""
}

// Severity returns the severity assigned to c.
func (r *Registry) Severity(c Category) Severity {
	if rule, ok := r.Rule(c); ok {
		return rule.Severity
	}
	return 0
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.rules)
}
