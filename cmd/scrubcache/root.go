package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/scrubcache/internal/config"
	"github.com/raaihank/scrubcache/internal/logger"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scrubcache",
		Short:         "Scrub PII from documents and cache analyses of the redacted text",
		Long:          "scrubcache redacts personal data from résumés, job descriptions and free text, fingerprints the redacted form, and caches analyses only when the inputs carried no critical PII.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to scrubcache.yaml (default: search ., ./configs, /etc/scrubcache)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newScrubCmd(opts),
		newMaskCmd(opts),
		newBatchCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads configuration and builds the logger. One-shot commands log to
// stderr so their results can be piped.
func (o *rootOptions) load(stderrLogs bool) (*config.Loader, *config.Config, *logger.Logger, error) {
	loader, err := config.NewLoader(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stderr: stderrLogs,
	}
	if cfg.Logging.File.Enabled {
		logConfig.File = &logger.FileConfig{Enabled: true, Path: cfg.Logging.File.Path}
	}
	log, err := logger.New(logConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return loader, cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scrubcache %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
