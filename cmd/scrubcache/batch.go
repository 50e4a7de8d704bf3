package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raaihank/scrubcache/internal/batch"
	"github.com/raaihank/scrubcache/internal/privacy"
)

func newBatchCmd(opts *rootOptions) *cobra.Command {
	var (
		input, output, scopeName string
		workers                  int
		rateLimit                float64
		noText                   bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Scrub a CSV, JSONL or Parquet document set into JSONL",
		Example: `  scrubcache batch --input resumes.csv --output scrubbed.jsonl
  scrubcache batch --input docs.parquet --workers 8 --rate 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, log, err := opts.load(true)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			bc := cfg.Batch
			if cmd.Flags().Changed("workers") {
				bc.WorkerCount = workers
			}
			if cmd.Flags().Changed("rate") {
				bc.RateLimit = rateLimit
			}
			if cmd.Flags().Changed("scope") {
				bc.DefaultScope = scopeName
			}
			if noText {
				bc.IncludeText = false
			}
			if _, err := privacy.ParseScope(bc.DefaultScope); err != nil {
				return err
			}

			comps, err := buildComponents(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer comps.Close()

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				out = file
			}

			processor := batch.NewProcessor(comps.scrubber, comps.emitter, comps.metrics, bc, log.WithComponent("batch").Logger)
			result, err := processor.ProcessFile(cmd.Context(), input, out)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(),
				"processed %d documents in %s: %d ok, %d failed, %d skipped, %d duplicates, %d with critical PII\n",
				result.TotalRecords, result.Duration.Round(time.Millisecond), result.ProcessedOK, result.ProcessedFailed,
				result.Skipped, result.Duplicates, result.WithCritical)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (.csv, .jsonl/.json, .parquet)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output JSONL file (- for stdout)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "worker goroutines")
	cmd.Flags().Float64Var(&rateLimit, "rate", 0, "documents per second (0 = unlimited)")
	cmd.Flags().StringVar(&scopeName, "scope", "general", "scope for rows that name none")
	cmd.Flags().BoolVar(&noText, "no-text", false, "omit redacted text from the output")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
