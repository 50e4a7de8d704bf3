package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/config"
	"github.com/raaihank/scrubcache/internal/logger"
	"github.com/raaihank/scrubcache/internal/metrics"
	"github.com/raaihank/scrubcache/internal/privacy"
	"github.com/raaihank/scrubcache/internal/websocket"
)

// components are shared by serve, scrub, mask and batch.
type components struct {
	scrubber *privacy.Scrubber
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	emitter  *audit.Emitter
	auditLog *audit.PostgresSink
	hub      *websocket.Hub
}

func buildComponents(ctx context.Context, cfg *config.Config, log *logger.Logger, withHub bool) (*components, error) {
	scrubber, err := newScrubber(cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	emitter := audit.NewEmitterWithOptions(audit.EmitterOptions{
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, log.WithComponent("audit").Logger, m)

	c := &components{
		scrubber: scrubber,
		registry: registry,
		metrics:  m,
		emitter:  emitter,
	}

	if cfg.Audit.Log {
		c.emitter.Add(audit.NewLogSink(log.WithComponent("audit").Logger))
	}
	if cfg.Audit.Redis.Enabled {
		sink, err := audit.NewRedisSink(ctx, cfg.Audit.Redis.RedisConfig, log.WithComponent("audit").Logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.emitter.Add(sink)
	}
	if cfg.Audit.Postgres.Enabled {
		sink, err := audit.NewPostgresSink(ctx, cfg.Audit.Postgres.PostgresConfig, log.WithComponent("audit").Logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.emitter.Add(sink)
		c.auditLog = sink
	}
	if withHub && cfg.WebSocket.Enabled {
		c.hub = websocket.NewHub(websocket.HubConfig{
			BroadcastAudit:       cfg.WebSocket.Events.BroadcastAudit,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
		}, log.WithComponent("websocket").Logger)
		c.emitter.Add(c.hub)
	}

	log.Debug("Components initialized", zap.Strings("audit_sinks", c.emitter.Sinks()))
	return c, nil
}

func newScrubber(cfg *config.Config, log *logger.Logger) (*privacy.Scrubber, error) {
	registry := privacy.DefaultRegistry()
	if len(cfg.Privacy.ExtraFirstNames) > 0 {
		var err error
		registry, err = privacy.NewRegistry(privacy.RegistryOptions{ExtraFirstNames: cfg.Privacy.ExtraFirstNames})
		if err != nil {
			return nil, fmt.Errorf("failed to build pattern registry: %w", err)
		}
	}
	detector, err := privacy.NewDetector(registry, cfg.Privacy.Detectors, log.WithComponent("privacy").Logger)
	if err != nil {
		return nil, err
	}
	return privacy.NewScrubber(detector, privacy.ScrubOptions{
		MaskChar:  cfg.Privacy.MaskRune(),
		MaxPasses: cfg.Privacy.MaxPasses,
	}, log.WithComponent("privacy").Logger), nil
}

// Close releases the audit sinks.
func (c *components) Close() error {
	return c.emitter.Close()
}
