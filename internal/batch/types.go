package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// InputRecord is one row of an input dataset. Only the text column is read.
type InputRecord struct {
	Text string `csv:"text" parquet:"text" json:"text"`
}

// ExportRecord is the flat form of a stored record written by Export
type ExportRecord struct {
	ID                  string   `parquet:"id" json:"id"`
	OriginalContent     string   `parquet:"original_content" json:"originalContent"`
	DetectedPiiEntities []string `parquet:"detected_pii_entities" json:"detectedPiiEntities"`
	RedactedContent     string   `parquet:"redacted_content" json:"redactedContent"`
	MessageLength       int64    `parquet:"message_length" json:"messageLength"`
	CreationDate        string   `parquet:"creation_date" json:"creationDate"` // RFC 3339, UTC
}

// Result summarizes one ProcessFile run
type Result struct {
	TotalRecords int64         `json:"total_records"`
	Processed    int64         `json:"processed"`
	Rejected     int64         `json:"rejected"`
	Failed       int64         `json:"failed"`
	Skipped      int64         `json:"skipped"`
	Entities     int64         `json:"entities"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
}

// Config contains batch run configuration
type Config struct {
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"` // log every N records, 0 disables
	MaxErrors      int `yaml:"max_errors" mapstructure:"max_errors"`           // error messages kept in Result
}

// DefaultConfig returns the configuration used by cmd/batch
func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		ProgressReport: 1000,
		MaxErrors:      20,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension, defaulting to CSV
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
