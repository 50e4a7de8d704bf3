package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// Document is one input row.
type Document struct {
	ID    string `parquet:"id" json:"id"`
	Scope string `parquet:"scope" json:"scope"`
	Text  string `parquet:"text" json:"text"`
}

// Record is one output line. It never carries the original text.
type Record struct {
	ID             string   `json:"id"`
	Scope          string   `json:"scope"`
	RedactedText   string   `json:"redacted_text,omitempty"`
	Fingerprint    string   `json:"fingerprint,omitempty"`
	Categories     []string `json:"categories_found,omitempty"`
	ItemsFound     int      `json:"items_found"`
	HasCritical    bool     `json:"has_critical"`
	OriginalLength int      `json:"original_length"`
	RedactedLength int      `json:"redacted_length"`
	Duplicate      bool     `json:"duplicate,omitempty"`
	Error          string   `json:"error,omitempty"`

	skipped bool
}

// Result summarises a batch run.
type Result struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Skipped         int64         `json:"skipped"`
	Duplicates      int64         `json:"duplicates"`
	WithCritical    int64         `json:"with_critical"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains batch scrubbing configuration
type Config struct {
	WorkerCount    int     `yaml:"worker_count" mapstructure:"worker_count"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // documents per second, 0 = unlimited
	Burst          int     `yaml:"burst" mapstructure:"burst"`
	MaxTextBytes   int     `yaml:"max_text_bytes" mapstructure:"max_text_bytes"`
	DefaultScope   string  `yaml:"default_scope" mapstructure:"default_scope"`
	IncludeText    bool    `yaml:"include_text" mapstructure:"include_text"` // emit redacted text
	ProgressReport int     `yaml:"progress_report" mapstructure:"progress_report"`
}

// DefaultConfig returns sensible batch defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		MaxTextBytes:   1 << 20,
		DefaultScope:   "general",
		IncludeText:    true,
		ProgressReport: 1000,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
