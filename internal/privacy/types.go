package privacy

import (
	"fmt"
	"strings"
	"time"

	"github.com/raaihank/scrubcache/internal/hashing"
)

// Category is a closed set of PII/PHI classes. The zero value is invalid.
type Category uint8

const (
	CategoryEmail Category = iota + 1
	CategoryPhone
	CategorySSN
	CategoryCreditCard
	CategoryStreetAddress
	CategoryPostalCode
	CategoryIPAddress
	CategoryCredentials
	CategoryDateOfBirth
	CategoryMedicalRecord
	CategoryName
	CategorySocialHandle
	CategoryPersonalWebsite
	CategoryFinancialAmount
	CategoryDriverLicense
	CategoryGenericSecretURL

	categoryCount = iota
)

var categoryNames = [categoryCount + 1]string{
	CategoryEmail:            "email",
	CategoryPhone:            "phone",
	CategorySSN:              "ssn",
	CategoryCreditCard:       "credit_card",
	CategoryStreetAddress:    "street_address",
	CategoryPostalCode:       "postal_code",
	CategoryIPAddress:        "ip_address",
	CategoryCredentials:      "credentials",
	CategoryDateOfBirth:      "date_of_birth",
	CategoryMedicalRecord:    "medical_record",
	CategoryName:             "name",
	CategorySocialHandle:     "social_handle",
	CategoryPersonalWebsite:  "personal_website",
	CategoryFinancialAmount:  "financial_amount",
	CategoryDriverLicense:    "driver_license",
	CategoryGenericSecretURL: "generic_secret_url",
}

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(1); c <= categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c >= 1 && c <= categoryCount
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(c))
	}
	return []byte(categoryNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory maps a category name (e.g. "credit_card") to its value.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c := Category(1); c <= categoryCount; c++ {
		if categoryNames[c] == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Severity orders how dangerous a category is to keep around.
type Severity uint8

const (
	SeverityInformational Severity = iota + 1
	SeverityModerate
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "informational"
	case SeverityModerate:
		return "moderate"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Scope narrows which rules apply to a document.
type Scope uint8

const (
	ScopeGeneral Scope = iota + 1
	ScopeResume
	ScopeJobDescription
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s >= ScopeGeneral && s <= ScopeJobDescription
}

func (s Scope) String() string {
	switch s {
	case ScopeGeneral:
		return "general"
	case ScopeResume:
		return "resume"
	case ScopeJobDescription:
		return "job_description"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScope, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseScope accepts "general", "resume" and "job_description" (plus the
// "job" and "jd" shorthands).
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general", "":
		return ScopeGeneral, nil
	case "resume", "cv":
		return ScopeResume, nil
	case "job_description", "job-description", "job", "jd":
		return ScopeJobDescription, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// suppresses reports whether category c is switched off for this scope.
// Company-authored job descriptions produce too many false positives for
// names and street addresses.
func (s Scope) suppresses(c Category) bool {
	if s == ScopeJobDescription {
		return c == CategoryName || c == CategoryStreetAddress
	}
	return false
}

// Match is a single detection. It deliberately carries positions only; the
// matched text never leaves the scrub call that produced it.
type Match struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Length   int      `json:"length"`

	rank int
}

func (m Match) overlaps(o Match) bool {
	return m.Start < o.End && o.Start < m.End
}

// Fingerprint is the digest of a redacted document. Only the scrubber can
// mint one, so a Fingerprint always describes scrubbed content.
type Fingerprint struct {
	hex string
}

func newFingerprint(redacted string) Fingerprint {
	return Fingerprint{hex: hashing.Sum(redacted)}
}

func (f Fingerprint) String() string {
	return f.hex
}

// IsZero reports whether f was never produced by a scrub.
func (f Fingerprint) IsZero() bool {
	return f.hex == ""
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.hex), nil
}

// ScrubResult is the outcome of scrubbing one document. ItemsFound counts
// every redacted detection, including those swallowed by a section
// replacement, plus one per replaced section.
type ScrubResult struct {
	RedactedText   string           `json:"redacted_text"`
	ItemsFound     int              `json:"items_found"`
	Categories     []Category       `json:"categories_found"`
	CategoryCounts map[Category]int `json:"category_counts"`
	HasCritical    bool             `json:"has_critical"`
	Fingerprint    Fingerprint      `json:"fingerprint"`
	Scope          Scope            `json:"scope"`
	OriginalLength int              `json:"original_length"`
	RedactedLength int              `json:"redacted_length"`
	Passes         int              `json:"passes"`
	Duration       time.Duration    `json:"duration"`
}

// Has reports whether category c was found in the document.
func (r ScrubResult) Has(c Category) bool {
	for _, found := range r.Categories {
		if found == c {
			return true
		}
	}
	return false
}

// CategoryNames returns the found categories as strings.
func (r ScrubResult) CategoryNames() []string {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = c.String()
	}
	return names
}

// MaskResult is the display-safe rendering of a document.
type MaskResult struct {
	MaskedText  string     `json:"masked_text"`
	ItemsMasked int        `json:"items_masked"`
	Categories  []Category `json:"categories_found"`
	HasCritical bool       `json:"has_critical"`
}
