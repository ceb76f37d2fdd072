package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/store"
)

var csvHeader = []string{"id", "originalContent", "detectedPiiEntities", "redactedContent", "messageLength", "creationDate"}

// Export writes every stored record to filePath in the format its extension
// names, newest first, and returns the number of records written.
func Export(ctx context.Context, lister store.Lister, filePath string, log *logger.Logger) (int, error) {
	records, err := lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	format := DetectFileFormat(filePath)
	if err := WriteRecords(file, format, records); err != nil {
		file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close export file: %w", err)
	}

	log.Info("Records exported",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("records", len(records)))

	return len(records), nil
}

// WriteRecords encodes records to w in format
func WriteRecords(w io.Writer, format FileFormat, records []store.AuditRecord) error {
	rows := make([]ExportRecord, len(records))
	for i, r := range records {
		rows[i] = toExportRecord(r)
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatJSON:
		return writeJSON(w, rows)
	case FormatParquet:
		return writeParquet(w, rows)
	default:
		return fmt.Errorf("unsupported file format: %s", format)
	}
}

func toExportRecord(r store.AuditRecord) ExportRecord {
	descriptions := r.DetectedDescriptions
	if descriptions == nil {
		descriptions = []string{}
	}
	return ExportRecord{
		ID:                  r.ID,
		OriginalContent:     r.OriginalContent,
		DetectedPiiEntities: descriptions,
		RedactedContent:     r.RedactedContent,
		MessageLength:       int64(r.MessageLength),
		CreationDate:        r.CreationDate.UTC().Format(time.RFC3339Nano),
	}
}

func writeCSV(w io.Writer, rows []ExportRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		// descriptions may contain any character, so the list is kept as JSON
		entities, err := json.Marshal(row.DetectedPiiEntities)
		if err != nil {
			return fmt.Errorf("failed to encode entities of %s: %w", row.ID, err)
		}
		err = writer.Write([]string{
			row.ID,
			row.OriginalContent,
			string(entities),
			row.RedactedContent,
			strconv.FormatInt(row.MessageLength, 10),
			row.CreationDate,
		})
		if err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeJSON writes one JSON object per line, the format readJSON consumes
func writeJSON(w io.Writer, rows []ExportRecord) error {
	encoder := json.NewEncoder(w)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to write JSON record: %w", err)
		}
	}
	return nil
}

func writeParquet(w io.Writer, rows []ExportRecord) error {
	writer := parquet.NewGenericWriter[ExportRecord](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write Parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Parquet file: %w", err)
	}
	return nil
}
