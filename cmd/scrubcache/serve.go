package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/config"
	"github.com/raaihank/scrubcache/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics endpoint and live audit stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, log, err := opts.load(false)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			comps, err := buildComponents(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := comps.Close(); err != nil {
					log.Warn("Failed to close audit sinks", zap.Error(err))
				}
			}()

			engine := cache.New[json.RawMessage](cache.Options{
				TTL:          cfg.Cache.TTL,
				MaxEntries:   cfg.Cache.MaxEntries,
				MaxPIIBudget: cfg.Cache.MaxPIIBudget,
				Observer:     comps.metrics,
			}, log.WithComponent("cache").Logger)

			deps := server.Dependencies{
				Scrubber: comps.scrubber,
				Cache:    engine,
				Emitter:  comps.emitter,
				Metrics:  comps.metrics,
				Gatherer: comps.registry,
				Hub:      comps.hub,
			}
			if comps.auditLog != nil {
				deps.AuditLog = comps.auditLog
			}

			server.Version = version
			srv, err := server.New(cfg, log, deps)
			if err != nil {
				return err
			}

			if file := loader.ConfigFileUsed(); file != "" {
				loader.Watch(log.Logger, func(next *config.Config) {
					if err := log.SetLevel(next.Logging.Level); err != nil {
						log.Warn("Ignoring log level change", zap.Error(err))
						return
					}
					log.Info("Log level updated", zap.String("level", next.Logging.Level))
				})
			}

			log.Info("Starting scrubcache",
				zap.String("version", version),
				zap.String("commit", commit),
				zap.String("build_date", date),
				zap.Int("port", cfg.Server.Port),
			)

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- srv.Start(ctx)
			}()

			select {
			case err := <-serverErrors:
				return err
			case <-ctx.Done():
				log.Info("Shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				return err
			}
			log.Info("Server shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
