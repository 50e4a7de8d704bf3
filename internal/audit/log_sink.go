package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e Event) error {
	s.logger.Info("Audit event",
		zap.String("event_id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("operation", e.Operation),
		zap.String("source_type", e.SourceType),
		zap.Int("original_length", e.OriginalLength),
		zap.Int("redacted_length", e.RedactedLength),
		zap.Strings("categories_found", e.CategoriesFound),
		zap.Int("items_found", e.ItemsFound),
		zap.Bool("has_critical", e.HasCritical),
		zap.Bool("cached", e.Cached),
		zap.Duration("duration", e.Duration),
	)
	return nil
}
