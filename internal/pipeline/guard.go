// Package pipeline wires scrubbing, the analysis cache and audit emission
// into one call: scrub every input, look up the cache, compute on a miss
// from redacted text only, then offer the result to the gated cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/privacy"
)

var (
	// ErrNoOperation is returned when a request names no operation.
	ErrNoOperation = errors.New("operation is required")
	// ErrInvalidOperation is returned for operation names outside
	// [a-z0-9_.-]{1,64}. Operations end up in cache keys and metric labels.
	ErrInvalidOperation = errors.New("operation must be 1-64 characters of a-z, 0-9, '_', '.' or '-'")
)

var operationPattern = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)

// ValidateOperation checks an operation discriminator.
func ValidateOperation(op string) error {
	if op == "" {
		return ErrNoOperation
	}
	if !operationPattern.MatchString(op) {
		return ErrInvalidOperation
	}
	return nil
}

// ScrubObserver is told about every scrub the guard performs.
type ScrubObserver interface {
	ObserveScrub(privacy.ScrubResult)
}

// Request is a two-document analysis such as résumé/job matching.
type Request struct {
	Resume    string
	Job       string
	Operation string
}

// ComputeFunc produces the analysis from redacted inputs.
type ComputeFunc[T any] func(ctx context.Context, redactedResume, redactedJob string) (T, error)

// Result is the outcome of one guarded analysis.
type Result[T any] struct {
	Payload T
	// Hit is true when the payload came from the cache.
	Hit bool
	// Cached is true when the payload is in the cache after the call.
	Cached bool
	Key    cache.Key
	Resume privacy.ScrubResult
	Job    privacy.ScrubResult
}

// Options configures a Guard. Only Scrubber and Cache are required.
type Options[T any] struct {
	Scrubber *privacy.Scrubber
	Cache    *cache.Engine[T]
	Emitter  *audit.Emitter
	Observer ScrubObserver
	// TTL overrides the cache default for entries written by this guard.
	TTL    time.Duration
	Logger *zap.Logger
}

// Guard runs analyses behind the privacy-gated cache.
type Guard[T any] struct {
	scrubber *privacy.Scrubber
	cache    *cache.Engine[T]
	emitter  *audit.Emitter
	observer ScrubObserver
	ttl      time.Duration
	logger   *zap.Logger
}

// NewGuard creates a guard.
func NewGuard[T any](opts Options[T]) *Guard[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard[T]{
		scrubber: opts.Scrubber,
		cache:    opts.Cache,
		emitter:  opts.Emitter,
		observer: opts.Observer,
		ttl:      opts.TTL,
		logger:   logger,
	}
}

// Analyze scrubs both documents, serves a cached payload when one exists
// and otherwise calls compute with the redacted texts. A computed payload is
// offered to the cache; a refused write is not an error.
func (g *Guard[T]) Analyze(ctx context.Context, req Request, compute ComputeFunc[T]) (Result[T], error) {
	var res Result[T]
	if err := ValidateOperation(req.Operation); err != nil {
		return res, err
	}

	resume, err := g.scrub(req.Resume, privacy.ScopeResume)
	if err != nil {
		return res, fmt.Errorf("failed to scrub resume: %w", err)
	}
	job, err := g.scrub(req.Job, privacy.ScopeJobDescription)
	if err != nil {
		return res, fmt.Errorf("failed to scrub job description: %w", err)
	}

	res.Resume, res.Job = resume, job
	res.Key = cache.NewKey(resume.Fingerprint, job.Fingerprint, req.Operation)

	defer func() {
		g.emit(req.Operation, res.Cached, resume, job)
	}()

	if payload, ok := g.cache.Get(resume.Fingerprint, job.Fingerprint, req.Operation); ok {
		res.Payload, res.Hit, res.Cached = payload, true, true
		return res, nil
	}

	payload, err := compute(ctx, resume.RedactedText, job.RedactedText)
	if err != nil {
		return res, fmt.Errorf("analysis %s failed: %w", req.Operation, err)
	}
	res.Payload = payload

	res.Cached = g.cache.Set(resume.Fingerprint, job.Fingerprint, req.Operation, payload, cache.SnapshotOf(resume, job), g.ttl)
	if !res.Cached {
		g.logger.Debug("Analysis not cached",
			zap.String("op", req.Operation),
			zap.Bool("resume_critical", resume.HasCritical),
			zap.Bool("job_critical", job.HasCritical),
			zap.Int("total_pii_items", resume.ItemsFound+job.ItemsFound))
	}
	return res, nil
}

// AnalyzeOne is Analyze for operations over a single document. The scope
// decides which snapshot slot the document's findings occupy.
func (g *Guard[T]) AnalyzeOne(ctx context.Context, op, text string, scope privacy.Scope, compute func(ctx context.Context, redacted string) (T, error)) (Result[T], error) {
	var res Result[T]
	if err := ValidateOperation(op); err != nil {
		return res, err
	}

	doc, err := g.scrub(text, scope)
	if err != nil {
		return res, fmt.Errorf("failed to scrub document: %w", err)
	}

	var none privacy.ScrubResult
	snapshot := cache.SnapshotOf(doc, none)
	if scope == privacy.ScopeJobDescription {
		res.Job = doc
		snapshot = cache.SnapshotOf(none, doc)
	} else {
		res.Resume = doc
	}
	res.Key = cache.NewKey(doc.Fingerprint, none.Fingerprint, op)

	defer func() {
		g.emit(op, res.Cached, doc)
	}()

	if payload, ok := g.cache.Get(doc.Fingerprint, none.Fingerprint, op); ok {
		res.Payload, res.Hit, res.Cached = payload, true, true
		return res, nil
	}

	payload, err := compute(ctx, doc.RedactedText)
	if err != nil {
		return res, fmt.Errorf("analysis %s failed: %w", op, err)
	}
	res.Payload = payload
	res.Cached = g.cache.Set(doc.Fingerprint, none.Fingerprint, op, payload, snapshot, g.ttl)
	return res, nil
}

func (g *Guard[T]) scrub(text string, scope privacy.Scope) (privacy.ScrubResult, error) {
	result, err := g.scrubber.Scrub(text, scope)
	if err != nil {
		return result, err
	}
	if g.observer != nil {
		g.observer.ObserveScrub(result)
	}
	return result, nil
}

// emit queues one audit event per document. Delivery happens off the
// request path.
func (g *Guard[T]) emit(op string, cached bool, docs ...privacy.ScrubResult) {
	if g.emitter == nil {
		return
	}
	for _, d := range docs {
		g.emitter.Emit(audit.FromScrub(op, d, cached))
	}
}
