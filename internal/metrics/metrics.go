// Package metrics exposes scrubbing and cache behaviour as Prometheus
// collectors. Labels carry categories, scopes and operation names only.
package metrics

import (
	"sync"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/privacy"
)

const namespace = "scrubcache"

const (
	// maxOpLabels caps distinct operation label values; later ones share
	// otherOp.
	maxOpLabels = 64
	maxOpLength = 64
	otherOp     = "other"
)

// Metrics holds every collector. It implements cache.Observer.
type Metrics struct {
	scrubs         *prometheus.CounterVec
	scrubCritical  *prometheus.CounterVec
	scrubDuration  *prometheus.HistogramVec
	piiItems       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge
	auditFailures  *prometheus.CounterVec
	auditDropped   prometheus.Counter

	opsMu sync.Mutex
	ops   map[string]struct{}
}

var _ cache.Observer = (*Metrics)(nil)

// New registers the collectors on reg. Passing prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scrubs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrubs_total",
			Help:      "Documents scrubbed, by scope.",
		}, []string{"scope"}),
		scrubCritical: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrubs_critical_total",
			Help:      "Scrubbed documents that contained critical PII, by scope.",
		}, []string{"scope"}),
		scrubDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrub_duration_seconds",
			Help:      "Time spent scrubbing one document.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"scope"}),
		piiItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_items_total",
			Help:      "Redacted PII items, by category.",
		}, []string{"category"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups, by operation and result.",
		}, []string{"op", "result"}),
		cacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Cache writes, by operation and outcome.",
		}, []string{"op", "outcome"}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Evicted cache entries, by reason.",
		}, []string{"reason"}),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held.",
		}),
		cacheBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "approx_memory_bytes",
			Help:      "Estimated memory held by cache entries.",
		}),
		auditFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "sink_failures_total",
			Help:      "Audit events a sink failed to accept.",
		}, []string{"sink"}),
		auditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Audit events discarded before delivery because the queue was full or closed.",
		}),
		ops: make(map[string]struct{}),
	}
}

// ObserveScrub records one scrub result.
func (m *Metrics) ObserveScrub(r privacy.ScrubResult) {
	scope := r.Scope.String()
	m.scrubs.WithLabelValues(scope).Inc()
	m.scrubDuration.WithLabelValues(scope).Observe(r.Duration.Seconds())
	if r.HasCritical {
		m.scrubCritical.WithLabelValues(scope).Inc()
	}
	for c, n := range r.CategoryCounts {
		if n > 0 {
			m.piiItems.WithLabelValues(c.String()).Add(float64(n))
		}
	}
}

// AuditSinkFailed counts an event a sink could not accept.
func (m *Metrics) AuditSinkFailed(sink string) {
	m.auditFailures.WithLabelValues(sink).Inc()
}

// AuditEventDropped counts an event discarded before any sink saw it.
func (m *Metrics) AuditEventDropped() {
	m.auditDropped.Inc()
}

func (m *Metrics) CacheHit(op string) {
	m.cacheLookups.WithLabelValues(m.opLabel(op), "hit").Inc()
}

func (m *Metrics) CacheMiss(op string) {
	m.cacheLookups.WithLabelValues(m.opLabel(op), "miss").Inc()
}

func (m *Metrics) CacheStored(op string) {
	m.cacheWrites.WithLabelValues(m.opLabel(op), "stored").Inc()
}

func (m *Metrics) CacheRefused(op string, reason cache.RefusalReason) {
	m.cacheWrites.WithLabelValues(m.opLabel(op), "refused_"+string(reason)).Inc()
}

func (m *Metrics) CacheEvicted(reason cache.EvictionReason, n int) {
	m.cacheEvictions.WithLabelValues(string(reason)).Add(float64(n))
}

func (m *Metrics) CacheSize(entries int, bytes int64) {
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// opLabel keeps the op label bounded. The first maxOpLabels well-formed
// operations get their own series, everything else is reported as "other".
func (m *Metrics) opLabel(op string) string {
	if op == "" || len(op) > maxOpLength || !utf8.ValidString(op) {
		return otherOp
	}
	m.opsMu.Lock()
	defer m.opsMu.Unlock()
	if _, ok := m.ops[op]; ok {
		return op
	}
	if len(m.ops) >= maxOpLabels {
		return otherOp
	}
	m.ops[op] = struct{}{}
	return op
}
