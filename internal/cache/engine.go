// Package cache implements the in-process analysis cache. Keys are derived
// from scrubbed fingerprints only, and every write is gated by a policy that
// refuses artifacts whose inputs carried critical PII.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/hashing"
	"github.com/raaihank/scrubcache/internal/privacy"
)

// entryOverhead approximates the bookkeeping cost of one entry: key, list
// element, timestamps and snapshot.
const entryOverhead = 256

// Engine is a capacity-bounded in-memory cache. Entries are evicted strictly
// in creation order when the cache is full, and lazily when they expire.
//
// Engine is safe for concurrent use. It does not coalesce concurrent
// computations: two callers that both miss will both compute and both Set,
// and the last write wins.
type Engine[T any] struct {
	mu     sync.Mutex
	items  map[Key]*list.Element
	order  *list.List
	policy WritePolicy
	opts   Options
	logger *zap.Logger

	hits      int64
	misses    int64
	evictions int64
	refusals  int64
	bytes     int64
}

// New creates an empty engine.
func New[T any](opts Options, logger *zap.Logger) *Engine[T] {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine[T]{
		items:  make(map[Key]*list.Element),
		order:  list.New(),
		policy: WritePolicy{MaxPIIBudget: opts.MaxPIIBudget},
		opts:   opts,
		logger: logger,
	}

	logger.Info("Analysis cache initialized",
		zap.Duration("default_ttl", opts.TTL),
		zap.Int("max_entries", opts.MaxEntries),
		zap.Int("max_pii_budget", opts.MaxPIIBudget))

	return e
}

// Policy returns the write policy applied by Set.
func (e *Engine[T]) Policy() WritePolicy {
	return e.policy
}

// Get returns the payload stored for (a, b, op). An expired entry is evicted
// and reported as a miss.
func (e *Engine[T]) Get(a, b privacy.Fingerprint, op string) (T, bool) {
	key := NewKey(a, b, op)
	now := e.opts.Clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	el, ok := e.items[key]
	if ok {
		entry := el.Value.(*Entry[T])
		if !entry.expired(now) {
			entry.AccessCount++
			entry.LastAccessed = now
			e.hits++
			e.opts.Observer.CacheHit(op)
			e.logger.Debug("Cache hit", zap.String("key", key.Short()), zap.String("op", op))
			return entry.Payload, true
		}
		e.remove(el)
		e.evictions++
		e.opts.Observer.CacheEvicted(EvictExpired, 1)
		e.reportSize()
	}

	e.misses++
	e.opts.Observer.CacheMiss(op)
	e.logger.Debug("Cache miss", zap.String("key", key.Short()), zap.String("op", op))
	return zero, false
}

// Set stores payload under (a, b, op) unless the write policy refuses the
// snapshot. A refused write returns false and changes nothing but the
// refusal counter. A ttl <= 0 uses the engine default.
//
// Writing a different payload to an existing key replaces the entry, which
// then counts as the newest for eviction. Writing a payload whose encoding
// is identical to the live one only extends its expiry: CreatedAt, the
// eviction position and access metadata are kept.
func (e *Engine[T]) Set(a, b privacy.Fingerprint, op string, payload T, snapshot SeveritySnapshot, ttl time.Duration) bool {
	key := NewKey(a, b, op)
	decision := e.policy.Evaluate(snapshot)

	if !decision.Allowed {
		e.mu.Lock()
		e.refusals++
		e.opts.Observer.CacheRefused(op, decision.Reason)
		e.mu.Unlock()

		e.logger.Debug("Cache write refused",
			zap.String("key", key.Short()),
			zap.String("op", op),
			zap.String("reason", string(decision.Reason)),
			zap.Int("total_pii_items", snapshot.TotalPIIItems))
		return false
	}

	if ttl <= 0 {
		ttl = e.opts.TTL
	}
	size, checksum := e.measure(op, payload)
	now := e.opts.Clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if el, ok := e.items[key]; ok {
		old := el.Value.(*Entry[T])
		if !old.expired(now) && checksum != 0 && old.checksum == checksum && old.size == size {
			old.ExpiresAt = now.Add(ttl)
			old.Snapshot = snapshot
			e.opts.Observer.CacheStored(op)
			e.logger.Debug("Cache entry refreshed",
				zap.String("key", key.Short()),
				zap.String("op", op),
				zap.Duration("ttl", ttl))
			return true
		}
		e.remove(el)
	}

	evicted := 0
	for e.order.Len() >= e.opts.MaxEntries {
		e.remove(e.order.Front())
		evicted++
	}
	if evicted > 0 {
		e.evictions += int64(evicted)
		e.opts.Observer.CacheEvicted(EvictCapacity, evicted)
	}

	entry := &Entry[T]{
		Key:          key,
		Op:           op,
		Payload:      payload,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		Snapshot:     snapshot,
		size:         size,
		checksum:     checksum,
	}
	e.items[key] = e.order.PushBack(entry)
	e.bytes += size

	e.opts.Observer.CacheStored(op)
	e.reportSize()

	e.logger.Debug("Cache entry stored",
		zap.String("key", key.Short()),
		zap.String("op", op),
		zap.Duration("ttl", ttl),
		zap.Int64("size_bytes", size))

	return true
}

// Has reports whether a live entry exists for (a, b, op) without touching
// hit/miss counters or access metadata.
func (e *Engine[T]) Has(a, b privacy.Fingerprint, op string) bool {
	key := NewKey(a, b, op)
	now := e.opts.Clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.items[key]
	if !ok {
		return false
	}
	if el.Value.(*Entry[T]).expired(now) {
		e.remove(el)
		e.evictions++
		e.opts.Observer.CacheEvicted(EvictExpired, 1)
		e.reportSize()
		return false
	}
	return true
}

// Entry returns a copy of the live entry for (a, b, op).
func (e *Engine[T]) Entry(a, b privacy.Fingerprint, op string) (Entry[T], bool) {
	key := NewKey(a, b, op)
	now := e.opts.Clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.items[key]
	if !ok {
		return Entry[T]{}, false
	}
	entry := el.Value.(*Entry[T])
	if entry.expired(now) {
		return Entry[T]{}, false
	}
	return *entry, true
}

// Delete removes the entry for (a, b, op) and reports whether it existed.
func (e *Engine[T]) Delete(a, b privacy.Fingerprint, op string) bool {
	key := NewKey(a, b, op)

	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.items[key]
	if !ok {
		return false
	}
	e.remove(el)
	e.reportSize()
	return true
}

// Clear drops every entry and returns how many were removed. Counters are
// kept.
func (e *Engine[T]) Clear() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.order.Len()
	e.items = make(map[Key]*list.Element)
	e.order.Init()
	e.bytes = 0
	e.reportSize()

	e.logger.Info("Cache cleared", zap.Int("deleted_entries", n))
	return n
}

// Cleanup sweeps every expired entry and returns the number evicted.
func (e *Engine[T]) Cleanup() int {
	now := e.opts.Clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for el := e.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry[T]).expired(now) {
			e.remove(el)
			evicted++
		}
		el = next
	}
	if evicted > 0 {
		e.evictions += int64(evicted)
		e.opts.Observer.CacheEvicted(EvictExpired, evicted)
		e.reportSize()
	}
	return evicted
}

// Len returns the number of stored entries, expired or not.
func (e *Engine[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}

// Stats returns cache performance statistics
func (e *Engine[T]) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		Hits:              e.hits,
		Misses:            e.misses,
		Entries:           e.order.Len(),
		ApproxMemoryBytes: e.bytes,
		Evictions:         e.evictions,
		Refusals:          e.refusals,
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats
}

// remove unlinks el. Callers hold the lock.
func (e *Engine[T]) remove(el *list.Element) {
	entry := e.order.Remove(el).(*Entry[T])
	delete(e.items, entry.Key)
	e.bytes -= entry.size
}

func (e *Engine[T]) reportSize() {
	e.opts.Observer.CacheSize(e.order.Len(), e.bytes)
}

// measure estimates the memory held by an entry from the JSON encoding of
// its payload, and checksums that encoding so an identical rewrite can
// refresh the live entry instead of replacing it. A zero checksum means the
// payload could not be encoded and always replaces.
func (e *Engine[T]) measure(op string, payload T) (int64, uint64) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Debug("Payload size estimate unavailable", zap.String("op", op), zap.Error(err))
		return entryOverhead + int64(len(op)), 0
	}
	return entryOverhead + int64(len(op)) + int64(len(data)), hashing.Checksum64(data)
}
