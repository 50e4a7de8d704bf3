package audit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	URL          string `yaml:"url" mapstructure:"url"`
	Stream       string `yaml:"stream" mapstructure:"stream"`
	MaxLen       int64  `yaml:"max_len" mapstructure:"max_len"`
	PoolSize     int    `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// RedisSink appends events to a capped Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sink := NewRedisSinkWithClient(client, config.Stream, config.MaxLen)

	logger.Info("Redis audit sink initialized",
		zap.String("redis_url", maskURL(config.URL)),
		zap.String("stream", sink.stream),
		zap.Int64("max_len", sink.maxLen))

	return sink, nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "scrubcache:audit"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, e Event) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamValues(e),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func streamValues(e Event) map[string]interface{} {
	return map[string]interface{}{
		"id":               e.ID,
		"timestamp":        e.Timestamp.Format(time.RFC3339Nano),
		"operation":        e.Operation,
		"source_type":      e.SourceType,
		"original_length":  strconv.Itoa(e.OriginalLength),
		"redacted_length":  strconv.Itoa(e.RedactedLength),
		"categories_found": strings.Join(e.CategoriesFound, ","),
		"items_found":      strconv.Itoa(e.ItemsFound),
		"has_critical":     strconv.FormatBool(e.HasCritical),
		"cached":           strconv.FormatBool(e.Cached),
		"duration_ms":      strconv.FormatFloat(float64(e.Duration)/float64(time.Millisecond), 'f', 3, 64),
	}
}

// maskURL hides the password in a connection URL for logging.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
