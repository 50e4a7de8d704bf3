// Package batch scrubs document sets from CSV, JSONL or Parquet files on a
// rate-limited worker pool and writes JSONL results that never include the
// original text.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/privacy"
)

// ScrubObserver is told about every scrubbed document.
type ScrubObserver interface {
	ObserveScrub(privacy.ScrubResult)
}

// Processor runs batch scrubs.
type Processor struct {
	scrubber *privacy.Scrubber
	emitter  *audit.Emitter
	observer ScrubObserver
	config   Config
	logger   *zap.Logger
}

// NewProcessor creates a batch processor. emitter and observer may be nil.
func NewProcessor(scrubber *privacy.Scrubber, emitter *audit.Emitter, observer ScrubObserver, config Config, logger *zap.Logger) *Processor {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		scrubber: scrubber,
		emitter:  emitter,
		observer: observer,
		config:   config,
		logger:   logger,
	}
}

// ProcessFile scrubs every document in inPath and writes JSONL to out.
func (p *Processor) ProcessFile(ctx context.Context, inPath string, out io.Writer) (*Result, error) {
	file, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(inPath)
	p.logger.Info("Starting batch scrub",
		zap.String("file", inPath),
		zap.String("format", string(format)),
		zap.Int("workers", p.config.WorkerCount),
		zap.Float64("rate_limit", p.config.RateLimit))

	var src Source
	switch format {
	case FormatCSV:
		if src, err = CSVSource(file); err != nil {
			return nil, err
		}
	case FormatJSONL:
		src = JSONLSource(file)
	case FormatParquet:
		var closeReader func() error
		src, closeReader = ParquetSource(file)
		defer closeReader()
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}

	return p.Process(ctx, src, out)
}

type job struct {
	seq int64
	doc Document
}

// Process drains src through the worker pool and writes one JSONL record
// per document. Output order follows completion, not input order.
func (p *Processor) Process(ctx context.Context, src Source, out io.Writer) (*Result, error) {
	start := time.Now()
	result := &Result{}

	limit := rate.Inf
	if p.config.RateLimit > 0 {
		limit = rate.Limit(p.config.RateLimit)
	}
	burst := p.config.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, p.config.WorkerCount*2)
	records := make(chan Record, p.config.WorkerCount*2)

	var readErr error
	go func() {
		defer close(jobs)
		var seq int64
		for {
			doc, err := src()
			if err == io.EOF {
				return
			}
			if err != nil {
				if errors.Is(err, errBadRow) {
					p.logger.Warn("Skipping unreadable row", zap.Int64("row", seq+1), zap.Error(err))
					seq++
					continue
				}
				readErr = err
				return
			}
			seq++
			select {
			case jobs <- job{seq: seq, doc: doc}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				rec := p.scrubOne(j)
				select {
				case records <- rec:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(records)
	}()

	encoder := json.NewEncoder(out)
	seen := make(map[string]bool)
	var writeErr error
	for rec := range records {
		result.TotalRecords++
		switch {
		case rec.skipped:
			result.Skipped++
			continue
		case rec.Error != "":
			result.ProcessedFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", rec.ID, rec.Error))
		default:
			result.ProcessedOK++
			if rec.HasCritical {
				result.WithCritical++
			}
			if seen[rec.Fingerprint] {
				rec.Duplicate = true
				result.Duplicates++
			}
			seen[rec.Fingerprint] = true
		}

		if err := encoder.Encode(rec); err != nil {
			writeErr = fmt.Errorf("failed to write result: %w", err)
			cancel()
			break
		}

		if result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result, start)
		}
	}
	for range records {
	}

	result.Duration = time.Since(start)

	p.logger.Info("Batch scrub completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("with_critical", result.WithCritical),
		zap.Duration("duration", result.Duration))

	if writeErr != nil {
		return result, writeErr
	}
	if readErr != nil {
		return result, readErr
	}
	if err := parent.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// scrubOne validates and scrubs a single document.
func (p *Processor) scrubOne(j job) Record {
	doc := j.doc
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("row-%d", j.seq)
	}
	rec := Record{ID: doc.ID, OriginalLength: len(doc.Text)}

	if doc.Text == "" {
		rec.skipped = true
		return rec
	}

	scopeName := doc.Scope
	if scopeName == "" {
		scopeName = p.config.DefaultScope
	}
	scope, err := privacy.ParseScope(scopeName)
	if err != nil {
		rec.Scope = scopeName
		rec.Error = err.Error()
		return rec
	}
	rec.Scope = scope.String()

	if p.config.MaxTextBytes > 0 && len(doc.Text) > p.config.MaxTextBytes {
		rec.Error = fmt.Sprintf("text too long: %d bytes", len(doc.Text))
		return rec
	}

	result, err := p.scrubber.Scrub(doc.Text, scope)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	if p.observer != nil {
		p.observer.ObserveScrub(result)
	}
	p.emitter.Emit(audit.FromScrub("batch", result, false))

	rec.Fingerprint = result.Fingerprint.String()
	rec.Categories = result.CategoryNames()
	rec.ItemsFound = result.ItemsFound
	rec.HasCritical = result.HasCritical
	rec.RedactedLength = result.RedactedLength
	if p.config.IncludeText {
		rec.RedactedText = result.RedactedText
	}
	return rec
}

func (p *Processor) reportProgress(result *Result, start time.Time) {
	elapsed := time.Since(start)
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", float64(result.TotalRecords)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))
}
