// Package audit records what scrubbing and caching did, never what the text
// said. Events carry categories, counts and lengths only.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/scrubcache/internal/privacy"
)

// Event is one audited scrub or cache operation.
type Event struct {
	ID              string        `json:"id" db:"id"`
	Timestamp       time.Time     `json:"timestamp" db:"occurred_at"`
	Operation       string        `json:"operation" db:"operation"`
	SourceType      string        `json:"source_type" db:"source_type"`
	OriginalLength  int           `json:"original_length" db:"original_length"`
	RedactedLength  int           `json:"redacted_length" db:"redacted_length"`
	CategoriesFound []string      `json:"categories_found" db:"-"`
	ItemsFound      int           `json:"items_found" db:"items_found"`
	HasCritical     bool          `json:"has_critical" db:"has_critical"`
	Cached          bool          `json:"cached" db:"cached"`
	Duration        time.Duration `json:"duration" db:"-"`
}

// FromScrub builds the event for one scrubbed document.
func FromScrub(op string, r privacy.ScrubResult, cached bool) Event {
	categories := r.CategoryNames()
	if categories == nil {
		categories = []string{}
	}
	return Event{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Operation:       op,
		SourceType:      r.Scope.String(),
		OriginalLength:  r.OriginalLength,
		RedactedLength:  r.RedactedLength,
		CategoriesFound: categories,
		ItemsFound:      r.ItemsFound,
		HasCritical:     r.HasCritical,
		Cached:          cached,
		Duration:        r.Duration,
	}
}

func (e *Event) fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CategoriesFound == nil {
		e.CategoriesFound = []string{}
	}
}
