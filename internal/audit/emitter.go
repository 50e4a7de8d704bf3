package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultQueueSize bounds the events waiting for delivery.
	DefaultQueueSize = 1024
	// DefaultWriteTimeout bounds a single sink write.
	DefaultWriteTimeout = 5 * time.Second
)

// Sink receives audit events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// FailureRecorder is told about events that never reached a sink.
type FailureRecorder interface {
	AuditSinkFailed(sink string)
	AuditEventDropped()
}

// EmitterOptions tunes delivery. Zero values take the defaults.
type EmitterOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
}

type delivery struct {
	event   Event
	flushed chan struct{}
}

// Emitter fans events out to every sink from a background worker, so Emit
// never waits on sink I/O. When the queue is full the event is dropped and
// counted. A failing sink is logged and counted but never fails the caller.
type Emitter struct {
	mu     sync.RWMutex
	sinks  []Sink
	queue  chan delivery
	closed bool
	done   chan struct{}

	timeout  time.Duration
	dropped  atomic.Int64
	failures FailureRecorder
	logger   *zap.Logger
}

// NewEmitter creates an emitter over sinks with the default queue and write
// timeout, and starts its delivery worker.
func NewEmitter(logger *zap.Logger, failures FailureRecorder, sinks ...Sink) *Emitter {
	return NewEmitterWithOptions(EmitterOptions{}, logger, failures, sinks...)
}

// NewEmitterWithOptions is NewEmitter with explicit queue settings.
func NewEmitterWithOptions(opts EmitterOptions, logger *zap.Logger, failures FailureRecorder, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	em := &Emitter{
		sinks:    sinks,
		queue:    make(chan delivery, opts.QueueSize),
		done:     make(chan struct{}),
		timeout:  opts.WriteTimeout,
		failures: failures,
		logger:   logger,
	}
	go em.run()
	return em
}

// Add attaches another sink.
func (em *Emitter) Add(s Sink) {
	em.mu.Lock()
	em.sinks = append(em.sinks, s)
	em.mu.Unlock()
}

// Sinks returns the names of the attached sinks.
func (em *Emitter) Sinks() []string {
	if em == nil {
		return nil
	}
	em.mu.RLock()
	defer em.mu.RUnlock()
	names := make([]string, len(em.sinks))
	for i, s := range em.sinks {
		names[i] = s.Name()
	}
	return names
}

// Emit queues e for delivery and returns at once.
func (em *Emitter) Emit(e Event) {
	if em == nil {
		return
	}
	e.fill()

	em.mu.RLock()
	defer em.mu.RUnlock()
	if em.closed {
		em.drop(e, "emitter closed")
		return
	}
	select {
	case em.queue <- delivery{event: e}:
	default:
		em.drop(e, "queue full")
	}
}

// Dropped returns how many events were discarded without delivery.
func (em *Emitter) Dropped() int64 {
	return em.dropped.Load()
}

// Flush waits until every event queued before the call has been handed to
// the sinks, or ctx is done.
func (em *Emitter) Flush(ctx context.Context) error {
	if em == nil {
		return nil
	}
	flushed := make(chan struct{})

	em.mu.RLock()
	if em.closed {
		em.mu.RUnlock()
		return nil
	}
	select {
	case em.queue <- delivery{flushed: flushed}:
	case <-ctx.Done():
		em.mu.RUnlock()
		return ctx.Err()
	}
	em.mu.RUnlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is already queued and then
// closes every sink that holds resources. It is safe to call more than once.
func (em *Emitter) Close() error {
	em.mu.Lock()
	if em.closed {
		em.mu.Unlock()
		return nil
	}
	em.closed = true
	close(em.queue)
	em.mu.Unlock()

	<-em.done

	em.mu.RLock()
	defer em.mu.RUnlock()
	var errs []error
	for _, s := range em.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if n := em.dropped.Load(); n > 0 {
		em.logger.Warn("Audit events dropped", zap.Int64("dropped", n))
	}
	return errors.Join(errs...)
}

func (em *Emitter) run() {
	defer close(em.done)
	for d := range em.queue {
		if d.flushed != nil {
			close(d.flushed)
			continue
		}
		em.deliver(d.event)
	}
}

// deliver writes e to each sink under its own deadline. Sink writes are
// detached from the request that produced the event.
func (em *Emitter) deliver(e Event) {
	em.mu.RLock()
	sinks := em.sinks
	em.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), em.timeout)
		err := s.Write(ctx, e)
		cancel()
		if err == nil {
			continue
		}
		em.logger.Warn("Audit sink failed",
			zap.String("sink", s.Name()),
			zap.String("event_id", e.ID),
			zap.Error(err))
		if em.failures != nil {
			em.failures.AuditSinkFailed(s.Name())
		}
	}
}

func (em *Emitter) drop(e Event, reason string) {
	em.dropped.Add(1)
	em.logger.Debug("Audit event dropped",
		zap.String("event_id", e.ID),
		zap.String("reason", reason))
	if em.failures != nil {
		em.failures.AuditEventDropped()
	}
}
