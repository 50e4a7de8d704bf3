package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/privacy"
)

type scrubReport struct {
	RedactedText   string         `json:"redacted_text" yaml:"redacted_text"`
	Fingerprint    string         `json:"fingerprint" yaml:"fingerprint"`
	Scope          string         `json:"scope" yaml:"scope"`
	Categories     []string       `json:"categories_found" yaml:"categories_found"`
	CategoryCounts map[string]int `json:"category_counts" yaml:"category_counts"`
	ItemsFound     int            `json:"items_found" yaml:"items_found"`
	HasCritical    bool           `json:"has_critical" yaml:"has_critical"`
	Passes         int            `json:"passes" yaml:"passes"`
}

type maskReport struct {
	MaskedText  string   `json:"masked_text" yaml:"masked_text"`
	Categories  []string `json:"categories_found" yaml:"categories_found"`
	ItemsMasked int      `json:"items_masked" yaml:"items_masked"`
	HasCritical bool     `json:"has_critical" yaml:"has_critical"`
}

func newScrubCmd(opts *rootOptions) *cobra.Command {
	var scopeName, output string
	cmd := &cobra.Command{
		Use:   "scrub [file]",
		Short: "Redact PII from a document (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := privacy.ParseScope(scopeName)
			if err != nil {
				return err
			}
			if err := checkOutput(output); err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			_, cfg, log, err := opts.load(true)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			comps, err := buildComponents(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer comps.Close()

			result, err := comps.scrubber.Scrub(text, scope)
			if err != nil {
				return err
			}
			comps.metrics.ObserveScrub(result)
			comps.emitter.Emit(audit.FromScrub("scrub", result, false))

			counts := make(map[string]int, len(result.CategoryCounts))
			for c, n := range result.CategoryCounts {
				counts[c.String()] = n
			}
			report := scrubReport{
				RedactedText:   result.RedactedText,
				Fingerprint:    result.Fingerprint.String(),
				Scope:          result.Scope.String(),
				Categories:     result.CategoryNames(),
				CategoryCounts: counts,
				ItemsFound:     result.ItemsFound,
				HasCritical:    result.HasCritical,
				Passes:         result.Passes,
			}
			return writeReport(cmd.OutOrStdout(), output, report, result.RedactedText)
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "general", "content scope: resume|job_description|general")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text|json|yaml")
	return cmd
}

func newMaskCmd(opts *rootOptions) *cobra.Command {
	var scopeName, output string
	cmd := &cobra.Command{
		Use:   "mask [file]",
		Short: "Render a partially masked preview for human review",
		Long:  "mask keeps a few characters at either end of each detected span. The preview is for people only: it is never cached, fingerprinted or audited. Requires privacy.masking: true.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := privacy.ParseScope(scopeName)
			if err != nil {
				return err
			}
			if err := checkOutput(output); err != nil {
				return err
			}

			_, cfg, log, err := opts.load(true)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if !cfg.Privacy.Masking {
				return fmt.Errorf("masking is disabled; set privacy.masking to true")
			}

			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			scrubber, err := newScrubber(cfg, log)
			if err != nil {
				return err
			}
			result, err := scrubber.Mask(text, scope)
			if err != nil {
				return err
			}

			categories := make([]string, len(result.Categories))
			for i, c := range result.Categories {
				categories[i] = c.String()
			}
			report := maskReport{
				MaskedText:  result.MaskedText,
				Categories:  categories,
				ItemsMasked: result.ItemsMasked,
				HasCritical: result.HasCritical,
			}
			return writeReport(cmd.OutOrStdout(), output, report, result.MaskedText)
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "general", "content scope: resume|job_description|general")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text|json|yaml")
	return cmd
}

func checkOutput(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (must be text, json, or yaml)", format)
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func writeReport(w io.Writer, format string, report any, text string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(report); err != nil {
			return err
		}
		return encoder.Close()
	default:
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err := io.WriteString(w, text)
		return err
	}
}
