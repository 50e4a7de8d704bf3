package cache

import (
	"time"

	"github.com/raaihank/scrubcache/internal/privacy"
)

const (
	// DefaultTTL is how long an entry lives when Set is given no TTL.
	DefaultTTL = 3600 * time.Second
	// DefaultMaxEntries bounds the number of live entries.
	DefaultMaxEntries = 500
	// DefaultMaxPIIBudget is the largest TotalPIIItems a cacheable entry may carry.
	DefaultMaxPIIBudget = 10
)

// Entry is a cached payload together with the provenance that allowed it in.
type Entry[T any] struct {
	Key          Key              `json:"key"`
	Op           string           `json:"op"`
	Payload      T                `json:"payload"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	AccessCount  int64            `json:"access_count"`
	LastAccessed time.Time        `json:"last_accessed"`
	Snapshot     SeveritySnapshot `json:"snapshot"`

	size     int64
	checksum uint64
}

func (e *Entry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// SeveritySnapshot records the worst PII findings across every input that
// produced a cached artifact.
type SeveritySnapshot struct {
	ResumeHadCritical bool `json:"resume_had_critical"`
	JobHadCritical    bool `json:"job_had_critical"`
	TotalPIIItems     int  `json:"total_pii_items"`
}

// SnapshotOf builds the snapshot for an artifact derived from a résumé and a
// job description. Either result may be the zero value when the operation
// has a single input.
func SnapshotOf(resume, job privacy.ScrubResult) SeveritySnapshot {
	return SeveritySnapshot{
		ResumeHadCritical: resume.HasCritical,
		JobHadCritical:    job.HasCritical,
		TotalPIIItems:     resume.ItemsFound + job.ItemsFound,
	}
}

// Stats represents cache performance statistics
type Stats struct {
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	Entries           int     `json:"entry_count"`
	ApproxMemoryBytes int64   `json:"approx_memory_bytes"`
	Evictions         int64   `json:"evictions"`
	Refusals          int64   `json:"refusals"`
}

// EvictionReason says why an entry left the cache.
type EvictionReason string

const (
	EvictCapacity EvictionReason = "capacity"
	EvictExpired  EvictionReason = "expired"
)

// Observer receives cache events, typically to feed metrics. Methods are
// called with the engine lock held and must not call back into the engine.
type Observer interface {
	CacheHit(op string)
	CacheMiss(op string)
	CacheStored(op string)
	CacheRefused(op string, reason RefusalReason)
	CacheEvicted(reason EvictionReason, n int)
	CacheSize(entries int, bytes int64)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                    {}
func (nopObserver) CacheMiss(string)                   {}
func (nopObserver) CacheStored(string)                 {}
func (nopObserver) CacheRefused(string, RefusalReason) {}
func (nopObserver) CacheEvicted(EvictionReason, int)   {}
func (nopObserver) CacheSize(int, int64)               {}

// Options configures an Engine. Start from DefaultOptions; zero TTL and
// MaxEntries fall back to their defaults, a negative MaxPIIBudget does too.
type Options struct {
	TTL          time.Duration
	MaxEntries   int
	MaxPIIBudget int
	Observer     Observer
	Clock        func() time.Time
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		TTL:          DefaultTTL,
		MaxEntries:   DefaultMaxEntries,
		MaxPIIBudget: DefaultMaxPIIBudget,
	}
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MaxPIIBudget < 0 {
		o.MaxPIIBudget = DefaultMaxPIIBudget
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
