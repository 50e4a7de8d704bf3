package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresConfig contains database configuration
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id               UUID PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL,
	operation        TEXT NOT NULL,
	source_type      TEXT NOT NULL,
	original_length  INTEGER NOT NULL,
	redacted_length  INTEGER NOT NULL,
	categories_found TEXT[] NOT NULL DEFAULT '{}',
	items_found      INTEGER NOT NULL,
	has_critical     BOOLEAN NOT NULL,
	cached           BOOLEAN NOT NULL,
	duration_ms      DOUBLE PRECISION NOT NULL
)`

const insertEvent = `
	INSERT INTO audit_events (
		id, occurred_at, operation, source_type, original_length, redacted_length,
		categories_found, items_found, has_critical, cached, duration_ms
	) VALUES (
		:id, :occurred_at, :operation, :source_type, :original_length, :redacted_length,
		:categories_found, :items_found, :has_critical, :cached, :duration_ms
	)
	ON CONFLICT (id) DO NOTHING`

// eventRow is the database shape of an Event.
type eventRow struct {
	Event
	Categories pq.StringArray `db:"categories_found"`
	DurationMS float64        `db:"duration_ms"`
}

func toRow(e Event) eventRow {
	return eventRow{
		Event:      e,
		Categories: pq.StringArray(e.CategoriesFound),
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
	}
}

func (r eventRow) toEvent() Event {
	e := r.Event
	e.CategoriesFound = []string(r.Categories)
	if e.CategoriesFound == nil {
		e.CategoriesFound = []string{}
	}
	e.Duration = time.Duration(r.DurationMS * float64(time.Millisecond))
	return e
}

// PostgresSink inserts events into the audit_events table.
type PostgresSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresSink connects, configures the pool and creates the table if
// needed.
func NewPostgresSink(ctx context.Context, config PostgresConfig, logger *zap.Logger) (*PostgresSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	sink := NewPostgresSinkWithDB(db, logger)
	if err := sink.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Postgres audit sink initialized",
		zap.String("database_url", maskURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return sink, nil
}

// NewPostgresSinkWithDB wraps an open database handle.
func NewPostgresSinkWithDB(db *sqlx.DB, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{db: db, logger: logger}
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	if _, err := s.db.NamedExecContext(ctx, insertEvent, toRow(e)); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

const selectRecent = `
	SELECT id, occurred_at, operation, source_type, original_length, redacted_length,
	       categories_found, items_found, has_critical, cached, duration_ms
	FROM audit_events
	ORDER BY occurred_at DESC
	LIMIT $1`

// Recent returns the latest events, newest first. It backs the admin API's
// audit listing.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, selectRecent, limit); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = r.toEvent()
	}
	return events, nil
}

// Close closes the database connection
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
