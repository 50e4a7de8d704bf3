package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/privacy"
)

type matchReport struct {
	Score int
	Seen  string
}

type eventSink struct {
	mu     sync.Mutex
	delay  time.Duration
	events []audit.Event
}

func (s *eventSink) Name() string { return "test" }

func (s *eventSink) Write(_ context.Context, e audit.Event) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

type scrubCounter struct{ n int }

func (c *scrubCounter) ObserveScrub(privacy.ScrubResult) { c.n++ }

type fixture struct {
	guard    *Guard[matchReport]
	engine   *cache.Engine[matchReport]
	emitter  *audit.Emitter
	sink     *eventSink
	observer *scrubCounter
}

// events waits for queued audit events to reach the sink.
func (f fixture) events(t *testing.T) []audit.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.emitter.Flush(ctx))
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	return append([]audit.Event(nil), f.sink.events...)
}

func newFixture(t *testing.T, mutate func(*cache.Options)) fixture {
	t.Helper()
	det, err := privacy.NewDetector(nil, nil, zap.NewNop())
	require.NoError(t, err)

	opts := cache.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	engine := cache.New[matchReport](opts, zap.NewNop())
	sink := &eventSink{}
	observer := &scrubCounter{}
	emitter := audit.NewEmitter(zap.NewNop(), nil, sink)
	t.Cleanup(func() { emitter.Close() })

	guard := NewGuard(Options[matchReport]{
		Scrubber: privacy.NewScrubber(det, privacy.ScrubOptions{}, zap.NewNop()),
		Cache:    engine,
		Emitter:  emitter,
		Observer: observer,
		Logger:   zap.NewNop(),
	})
	return fixture{guard: guard, engine: engine, emitter: emitter, sink: sink, observer: observer}
}

type countingCompute struct {
	calls   int
	resumes []string
}

func (c *countingCompute) fn(_ context.Context, resume, job string) (matchReport, error) {
	c.calls++
	c.resumes = append(c.resumes, resume)
	return matchReport{Score: 42, Seen: resume + "|" + job}, nil
}

const cleanJob = "We are hiring a backend engineer to build distributed systems in Go."

func TestAnalyzeCachesCleanInputs(t *testing.T) {
	f := newFixture(t, nil)
	compute := &countingCompute{}
	req := Request{Resume: "Backend developer with Go and Kafka experience.", Job: cleanJob, Operation: "match"}

	first, err := f.guard.Analyze(context.Background(), req, compute.fn)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.True(t, first.Cached)
	assert.Equal(t, 42, first.Payload.Score)

	second, err := f.guard.Analyze(context.Background(), req, compute.fn)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, 1, compute.calls)
	assert.Equal(t, 4, f.observer.n)

	events := f.events(t)
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, "match", e.Operation)
		assert.True(t, e.Cached)
	}
	assert.Equal(t, "resume", events[0].SourceType)
	assert.Equal(t, "job_description", events[1].SourceType)
}

func TestAnalyzeRefusesCriticalProvenance(t *testing.T) {
	f := newFixture(t, nil)
	compute := &countingCompute{}
	req := Request{Resume: "Contact me at jane.doe@example.com or 555-123-4567", Job: cleanJob, Operation: "match"}

	res, err := f.guard.Analyze(context.Background(), req, compute.fn)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.True(t, res.Resume.HasCritical)
	assert.Equal(t, "Contact me at [EMAIL] or [PHONE]", compute.resumes[0])
	assert.NotContains(t, res.Payload.Seen, "jane.doe")

	_, err = f.guard.Analyze(context.Background(), req, compute.fn)
	require.NoError(t, err)
	assert.Equal(t, 2, compute.calls)
	assert.Equal(t, 0, f.engine.Stats().Entries)
	assert.Equal(t, int64(2), f.engine.Stats().Refusals)

	for _, e := range f.events(t) {
		assert.False(t, e.Cached)
	}
}

func TestAnalyzeDeduplicatesModeratePIIVariance(t *testing.T) {
	f := newFixture(t, nil)
	compute := &countingCompute{}

	a := "Backend developer\nPortfolio: github.com/alice-dev\nLocated near IL 62704"
	b := "Backend developer\nPortfolio: github.com/bob-builds\nLocated near IL 60601"

	first, err := f.guard.Analyze(context.Background(), Request{Resume: a, Job: cleanJob, Operation: "match"}, compute.fn)
	require.NoError(t, err)
	require.True(t, first.Cached)
	assert.Equal(t, 2, first.Resume.ItemsFound)

	second, err := f.guard.Analyze(context.Background(), Request{Resume: b, Job: cleanJob, Operation: "match"}, compute.fn)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, 1, compute.calls)
}

func TestAnalyzePIIBudget(t *testing.T) {
	f := newFixture(t, func(o *cache.Options) { o.MaxPIIBudget = 1 })
	compute := &countingCompute{}
	resume := "Backend developer\nPortfolio: github.com/alice-dev\nLocated near IL 62704"

	res, err := f.guard.Analyze(context.Background(), Request{Resume: resume, Job: cleanJob, Operation: "match"}, compute.fn)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int64(1), f.engine.Stats().Refusals)
}

func TestAnalyzeComputeError(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("upstream timeout")

	_, err := f.guard.Analyze(context.Background(), Request{Resume: "Go developer", Job: cleanJob, Operation: "match"},
		func(context.Context, string, string) (matchReport, error) { return matchReport{}, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.engine.Stats().Entries)
	assert.Len(t, f.events(t), 2)
}

func TestAnalyzeValidation(t *testing.T) {
	f := newFixture(t, nil)
	compute := &countingCompute{}

	_, err := f.guard.Analyze(context.Background(), Request{Resume: "x", Job: "y"}, compute.fn)
	assert.ErrorIs(t, err, ErrNoOperation)

	_, err = f.guard.Analyze(context.Background(), Request{Resume: "bad \xff", Job: "y", Operation: "match"}, compute.fn)
	assert.ErrorIs(t, err, privacy.ErrEncoding)
	_, err = f.guard.Analyze(context.Background(), Request{Resume: "x", Job: "y", Operation: "Match Now"}, compute.fn)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Zero(t, compute.calls)
	assert.Empty(t, f.events(t))
}

func TestValidateOperation(t *testing.T) {
	for _, op := range []string{"match", "summarize.v2", "skills-gap", "a", strings.Repeat("x", 64)} {
		assert.NoError(t, ValidateOperation(op), op)
	}
	assert.ErrorIs(t, ValidateOperation(""), ErrNoOperation)
	for _, op := range []string{"Match", "with space", "bad\xff", strings.Repeat("x", 65), "op/1"} {
		assert.ErrorIs(t, ValidateOperation(op), ErrInvalidOperation, op)
	}
}

func TestSlowAuditSinkDoesNotDelayAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	f.sink.delay = 300 * time.Millisecond
	compute := &countingCompute{}
	req := Request{Resume: "Backend developer with Go and Kafka experience.", Job: cleanJob, Operation: "match"}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.guard.Analyze(context.Background(), req, compute.fn)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.Len(t, f.events(t), 6)
}

func TestAuditSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, nil)
	compute := &countingCompute{}
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.guard.Analyze(ctx, Request{Resume: "Go developer", Job: cleanJob, Operation: "match"}, compute.fn)
	require.NoError(t, err)
	cancel()

	assert.Len(t, f.events(t), 2)
}

func TestAnalyzeOne(t *testing.T) {
	f := newFixture(t, nil)
	calls := 0
	summarize := func(_ context.Context, redacted string) (matchReport, error) {
		calls++
		return matchReport{Seen: strings.ToUpper(redacted)}, nil
	}

	first, err := f.guard.AnalyzeOne(context.Background(), "summarize", cleanJob, privacy.ScopeJobDescription, summarize)
	require.NoError(t, err)
	assert.True(t, first.Cached)
	assert.Equal(t, cleanJob, first.Job.RedactedText)

	second, err := f.guard.AnalyzeOne(context.Background(), "summarize", cleanJob, privacy.ScopeJobDescription, summarize)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, 1, calls)

	third, err := f.guard.AnalyzeOne(context.Background(), "summarize", "Reach me at a@b.io", privacy.ScopeGeneral, summarize)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "REACH ME AT [EMAIL]", third.Payload.Seen)

	_, err = f.guard.AnalyzeOne(context.Background(), "", cleanJob, privacy.ScopeGeneral, summarize)
	assert.ErrorIs(t, err, ErrNoOperation)
}
