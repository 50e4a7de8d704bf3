package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/privacy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type analysis struct {
	Score   int      `json:"score"`
	Missing []string `json:"missing"`
}

func testScrubber(t *testing.T) *privacy.Scrubber {
	t.Helper()
	det, err := privacy.NewDetector(nil, nil, zap.NewNop())
	require.NoError(t, err)
	return privacy.NewScrubber(det, privacy.ScrubOptions{}, zap.NewNop())
}

func scrub(t *testing.T, text string, scope privacy.Scope) privacy.ScrubResult {
	t.Helper()
	result, err := testScrubber(t).Scrub(text, scope)
	require.NoError(t, err)
	return result
}

func newTestEngine(t *testing.T, mutate func(*Options)) (*Engine[analysis], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts := DefaultOptions()
	opts.Clock = clock.Now
	if mutate != nil {
		mutate(&opts)
	}
	return New[analysis](opts, zap.NewNop()), clock
}

func docs(t *testing.T, n int) []privacy.ScrubResult {
	t.Helper()
	out := make([]privacy.ScrubResult, n)
	for i := range out {
		out[i] = scrub(t, fmt.Sprintf("Backend role number %d building Go services.", i), privacy.ScopeJobDescription)
	}
	return out
}

func TestCriticalResumeIsRefused(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	resume := scrub(t, "Contact me at jane.doe@example.com or 555-123-4567", privacy.ScopeResume)
	job := scrub(t, "Go engineer, remote.", privacy.ScopeJobDescription)
	require.True(t, resume.HasCritical)

	before := engine.Stats().Entries
	ok := engine.Set(resume.Fingerprint, job.Fingerprint, "match", analysis{Score: 80}, SnapshotOf(resume, job), 0)

	assert.False(t, ok)
	assert.Equal(t, before, engine.Stats().Entries)
	assert.False(t, engine.Has(resume.Fingerprint, job.Fingerprint, "match"))
	assert.Equal(t, int64(1), engine.Stats().Refusals)
}

func TestCleanJobDescriptionIsCached(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	text := "We are hiring a backend engineer to build distributed systems in Go."
	job := scrub(t, text, privacy.ScopeJobDescription)
	require.False(t, job.HasCritical)
	require.Zero(t, job.ItemsFound)

	var none privacy.ScrubResult
	ok := engine.Set(job.Fingerprint, none.Fingerprint, "summarize", analysis{Score: 1}, SnapshotOf(none, job), 0)
	require.True(t, ok)

	again := scrub(t, text, privacy.ScopeJobDescription)
	got, hit := engine.Get(again.Fingerprint, none.Fingerprint, "summarize")
	require.True(t, hit)
	assert.Equal(t, 1, got.Score)
}

func TestPhoneOnlyVarianceSharesKey(t *testing.T) {
	a := scrub(t, "Jane Doe\nSoftware engineer. Phone: 555-123-4567\n", privacy.ScopeResume)
	b := scrub(t, "Jane Doe\nSoftware engineer. Phone: 555-987-6543\n", privacy.ScopeResume)
	job := scrub(t, "Go engineer, remote.", privacy.ScopeJobDescription)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, NewKey(a.Fingerprint, job.Fingerprint, "match"), NewKey(b.Fingerprint, job.Fingerprint, "match"))
	assert.NotEqual(t, NewKey(a.Fingerprint, job.Fingerprint, "match"), NewKey(job.Fingerprint, a.Fingerprint, "match"))
	assert.NotEqual(t, NewKey(a.Fingerprint, job.Fingerprint, "match"), NewKey(a.Fingerprint, job.Fingerprint, "score"))
	assert.Len(t, NewKey(a.Fingerprint, job.Fingerprint, "match").String(), 64)
}

func TestPIIBudget(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) { o.MaxPIIBudget = 3 })
	d := docs(t, 2)

	assert.True(t, engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{}, SeveritySnapshot{TotalPIIItems: 3}, 0))
	assert.False(t, engine.Set(d[1].Fingerprint, d[0].Fingerprint, "op", analysis{}, SeveritySnapshot{TotalPIIItems: 4}, 0))
	assert.False(t, engine.Set(d[1].Fingerprint, d[0].Fingerprint, "op", analysis{}, SeveritySnapshot{JobHadCritical: true}, 0))
	assert.Equal(t, 1, engine.Stats().Entries)
	assert.Equal(t, int64(2), engine.Stats().Refusals)
}

func TestCapacityEvictsOldestCreated(t *testing.T) {
	engine, clock := newTestEngine(t, func(o *Options) { o.MaxEntries = 3 })
	d := docs(t, 5)

	for i := 0; i < 4; i++ {
		require.True(t, engine.Set(d[i].Fingerprint, d[4].Fingerprint, "op", analysis{Score: i}, SeveritySnapshot{}, 0))
		clock.Advance(time.Second)
	}

	stats := engine.Stats()
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.False(t, engine.Has(d[0].Fingerprint, d[4].Fingerprint, "op"))
	for i := 1; i < 4; i++ {
		assert.True(t, engine.Has(d[i].Fingerprint, d[4].Fingerprint, "op"), "entry %d", i)
	}
}

func TestEvictionIgnoresAccess(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) { o.MaxEntries = 2 })
	d := docs(t, 4)

	engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, 0)
	engine.Set(d[1].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, 0)
	_, hit := engine.Get(d[0].Fingerprint, d[3].Fingerprint, "op")
	require.True(t, hit)
	engine.Set(d[2].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, 0)

	assert.False(t, engine.Has(d[0].Fingerprint, d[3].Fingerprint, "op"))
	assert.True(t, engine.Has(d[1].Fingerprint, d[3].Fingerprint, "op"))
}

func TestRewriteMovesEntryToBack(t *testing.T) {
	engine, clock := newTestEngine(t, func(o *Options) { o.MaxEntries = 2 })
	d := docs(t, 4)

	engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 1}, SeveritySnapshot{}, 0)
	clock.Advance(time.Second)
	engine.Set(d[1].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 2}, SeveritySnapshot{}, 0)
	clock.Advance(time.Second)
	engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 3}, SeveritySnapshot{}, 0)
	clock.Advance(time.Second)
	engine.Set(d[2].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 4}, SeveritySnapshot{}, 0)

	assert.False(t, engine.Has(d[1].Fingerprint, d[3].Fingerprint, "op"))
	got, hit := engine.Get(d[0].Fingerprint, d[3].Fingerprint, "op")
	require.True(t, hit)
	assert.Equal(t, 3, got.Score)
}

func TestIdenticalRewriteRefreshesInPlace(t *testing.T) {
	engine, clock := newTestEngine(t, func(o *Options) { o.MaxEntries = 2 })
	d := docs(t, 4)
	first := analysis{Score: 1, Missing: []string{"kafka"}}

	require.True(t, engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", first, SeveritySnapshot{}, time.Minute))
	created, ok := engine.Entry(d[0].Fingerprint, d[3].Fingerprint, "op")
	require.True(t, ok)

	clock.Advance(time.Second)
	engine.Set(d[1].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 2}, SeveritySnapshot{}, 0)
	clock.Advance(30 * time.Second)

	require.True(t, engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", first, SeveritySnapshot{TotalPIIItems: 1}, time.Minute))
	refreshed, ok := engine.Entry(d[0].Fingerprint, d[3].Fingerprint, "op")
	require.True(t, ok)
	assert.Equal(t, created.CreatedAt, refreshed.CreatedAt)
	assert.Equal(t, clock.Now().Add(time.Minute), refreshed.ExpiresAt)
	assert.Equal(t, 1, refreshed.Snapshot.TotalPIIItems)
	assert.Equal(t, 2, engine.Stats().Entries)

	// Still the oldest, so the next new key evicts it.
	engine.Set(d[2].Fingerprint, d[3].Fingerprint, "op", analysis{Score: 4}, SeveritySnapshot{}, 0)
	assert.False(t, engine.Has(d[0].Fingerprint, d[3].Fingerprint, "op"))
	assert.True(t, engine.Has(d[1].Fingerprint, d[3].Fingerprint, "op"))
}

func TestRewriteOfExpiredEntryIsNewCreation(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	d := docs(t, 2)
	payload := analysis{Score: 5}

	require.True(t, engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", payload, SeveritySnapshot{}, time.Second))
	clock.Advance(2 * time.Second)
	require.True(t, engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", payload, SeveritySnapshot{}, time.Second))

	entry, ok := engine.Entry(d[0].Fingerprint, d[1].Fingerprint, "op")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
}

func TestExpiredEntryIsMissAndEvicted(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	d := docs(t, 2)

	require.True(t, engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{Score: 7}, SeveritySnapshot{}, time.Minute))
	require.Equal(t, 1, engine.Stats().Entries)

	clock.Advance(59 * time.Second)
	_, hit := engine.Get(d[0].Fingerprint, d[1].Fingerprint, "op")
	assert.True(t, hit)

	clock.Advance(time.Second)
	_, hit = engine.Get(d[0].Fingerprint, d[1].Fingerprint, "op")
	assert.False(t, hit)

	stats := engine.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Zero(t, stats.ApproxMemoryBytes)
}

func TestDefaultTTL(t *testing.T) {
	engine, clock := newTestEngine(t, func(o *Options) { o.TTL = 10 * time.Second })
	d := docs(t, 2)

	require.True(t, engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{}, SeveritySnapshot{}, -1))
	entry, ok := engine.Entry(d[0].Fingerprint, d[1].Fingerprint, "op")
	require.True(t, ok)
	assert.Equal(t, entry.CreatedAt.Add(10*time.Second), entry.ExpiresAt)

	clock.Advance(10 * time.Second)
	assert.False(t, engine.Has(d[0].Fingerprint, d[1].Fingerprint, "op"))
}

func TestCleanup(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	d := docs(t, 4)

	engine.Set(d[0].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Second)
	engine.Set(d[1].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Second)
	engine.Set(d[2].Fingerprint, d[3].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Hour)

	assert.Equal(t, 0, engine.Cleanup())
	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, engine.Cleanup())
	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, 0, engine.Cleanup())
}

func TestEntryDeleteClear(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	d := docs(t, 3)
	snap := SeveritySnapshot{TotalPIIItems: 2}

	engine.Set(d[0].Fingerprint, d[2].Fingerprint, "op", analysis{Score: 5, Missing: []string{"kafka"}}, snap, 0)
	engine.Set(d[1].Fingerprint, d[2].Fingerprint, "op", analysis{Score: 6}, SeveritySnapshot{}, 0)

	clock.Advance(time.Second)
	engine.Get(d[0].Fingerprint, d[2].Fingerprint, "op")
	entry, ok := engine.Entry(d[0].Fingerprint, d[2].Fingerprint, "op")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, snap, entry.Snapshot)
	assert.Equal(t, "op", entry.Op)
	assert.True(t, entry.LastAccessed.After(entry.CreatedAt))
	assert.Positive(t, engine.Stats().ApproxMemoryBytes)

	assert.True(t, engine.Delete(d[0].Fingerprint, d[2].Fingerprint, "op"))
	assert.False(t, engine.Delete(d[0].Fingerprint, d[2].Fingerprint, "op"))
	assert.Equal(t, 1, engine.Clear())
	assert.Equal(t, 0, engine.Stats().Entries)
	assert.Zero(t, engine.Stats().ApproxMemoryBytes)
}

func TestStatsHitRate(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	d := docs(t, 2)

	assert.Zero(t, engine.Stats().HitRate)
	engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{}, SeveritySnapshot{}, 0)
	for i := 0; i < 3; i++ {
		engine.Get(d[0].Fingerprint, d[1].Fingerprint, "op")
	}
	engine.Get(d[1].Fingerprint, d[0].Fingerprint, "op")

	stats := engine.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestConcurrentMissesBothWrite(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	d := docs(t, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	computed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, hit := engine.Get(d[0].Fingerprint, d[1].Fingerprint, "op"); hit {
				return
			}
			mu.Lock()
			computed++
			mu.Unlock()
			engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{Score: i}, SeveritySnapshot{}, 0)
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, computed, 1)
	assert.Equal(t, 1, engine.Stats().Entries)
	_, hit := engine.Get(d[0].Fingerprint, d[1].Fingerprint, "op")
	assert.True(t, hit)
}

type recordingObserver struct {
	hits, misses, stored int
	refused              []RefusalReason
	evicted              map[EvictionReason]int
	entries              int
}

func (r *recordingObserver) CacheHit(string)    { r.hits++ }
func (r *recordingObserver) CacheMiss(string)   { r.misses++ }
func (r *recordingObserver) CacheStored(string) { r.stored++ }
func (r *recordingObserver) CacheRefused(_ string, reason RefusalReason) {
	r.refused = append(r.refused, reason)
}
func (r *recordingObserver) CacheEvicted(reason EvictionReason, n int) { r.evicted[reason] += n }
func (r *recordingObserver) CacheSize(entries int, _ int64)            { r.entries = entries }

func TestObserver(t *testing.T) {
	obs := &recordingObserver{evicted: map[EvictionReason]int{}}
	engine, clock := newTestEngine(t, func(o *Options) {
		o.MaxEntries = 1
		o.Observer = obs
	})
	d := docs(t, 3)

	engine.Set(d[0].Fingerprint, d[2].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Second)
	engine.Set(d[1].Fingerprint, d[2].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Second)
	engine.Set(d[1].Fingerprint, d[2].Fingerprint, "op", analysis{}, SeveritySnapshot{ResumeHadCritical: true}, 0)
	engine.Get(d[1].Fingerprint, d[2].Fingerprint, "op")
	clock.Advance(time.Minute)
	engine.Get(d[1].Fingerprint, d[2].Fingerprint, "op")

	assert.Equal(t, 2, obs.stored)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, []RefusalReason{RefusedResumeCritical}, obs.refused)
	assert.Equal(t, 1, obs.evicted[EvictCapacity])
	assert.Equal(t, 1, obs.evicted[EvictExpired])
	assert.Equal(t, 0, obs.entries)
}

func TestWritePolicy(t *testing.T) {
	policy := WritePolicy{MaxPIIBudget: 10}

	tests := []struct {
		name     string
		snapshot SeveritySnapshot
		want     Decision
	}{
		{"clean", SeveritySnapshot{}, Decision{Allowed: true}},
		{"at budget", SeveritySnapshot{TotalPIIItems: 10}, Decision{Allowed: true}},
		{"over budget", SeveritySnapshot{TotalPIIItems: 11}, Decision{Reason: RefusedPIIBudget}},
		{"resume critical", SeveritySnapshot{ResumeHadCritical: true}, Decision{Reason: RefusedResumeCritical}},
		{"job critical", SeveritySnapshot{JobHadCritical: true, TotalPIIItems: 1}, Decision{Reason: RefusedJobCritical}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Evaluate(tt.snapshot))
		})
	}
}

func TestRunJanitor(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	d := docs(t, 2)
	engine.Set(d[0].Fingerprint, d[1].Fingerprint, "op", analysis{}, SeveritySnapshot{}, time.Second)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, engine, 5*time.Millisecond, zap.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return engine.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
