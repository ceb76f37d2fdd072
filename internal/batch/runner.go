// Package batch feeds dataset files through the redaction pipeline and
// exports stored records back to files.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/store"
)

// Processor runs one text through redaction and persistence
type Processor interface {
	Process(ctx context.Context, raw string) (store.AuditRecord, error)
}

type row struct {
	number int64
	text   string
}

// Runner processes dataset files with a pool of workers
type Runner struct {
	processor Processor
	config    Config
	logger    *logger.Logger

	mu     sync.Mutex
	result *Result
	start  time.Time
}

// NewRunner creates a runner that sends every row to processor
func NewRunner(processor Processor, cfg Config, log *logger.Logger) *Runner {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &Runner{
		processor: processor,
		config:    cfg,
		logger:    log.WithComponent("batch"),
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSON lines). Rows
// that fail are counted and the run continues; the returned error reports
// only unreadable input or cancellation.
func (r *Runner) ProcessFile(ctx context.Context, filePath string) (*Result, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	r.logger.Info("Starting batch run",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("workers", r.config.WorkerCount))

	r.mu.Lock()
	r.result = &Result{}
	r.start = time.Now()
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan row, r.config.WorkerCount*2)
	var wg sync.WaitGroup
	for i := 0; i < r.config.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rw := range rows {
				r.processRow(ctx, rw)
			}
		}()
	}

	var number int64
	emit := func(text string) error {
		number++
		select {
		case rows <- row{number: number, text: text}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var readErr error
	switch format {
	case FormatCSV:
		readErr = r.readCSV(file, emit)
	case FormatJSON:
		readErr = r.readJSON(file, emit)
	case FormatParquet:
		readErr = r.readParquet(file, emit)
	default:
		readErr = fmt.Errorf("unsupported file format: %s", format)
	}
	close(rows)
	wg.Wait()

	result := r.snapshot()
	result.Duration = time.Since(r.start)

	if readErr != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, readErr)
	}

	r.logger.Info("Batch run completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed", result.Processed),
		zap.Int64("rejected", result.Rejected),
		zap.Int64("failed", result.Failed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("entities", result.Entities),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// processRow runs one row and records its outcome
func (r *Runner) processRow(ctx context.Context, rw row) {
	if strings.TrimSpace(rw.text) == "" {
		r.record(func(res *Result) { res.Skipped++ })
		r.logger.Debug("Skipping blank row", zap.Int64("row", rw.number))
		return
	}

	record, err := r.processor.Process(ctx, rw.text)

	var verr *pipeline.ValidationError
	switch {
	case err == nil:
		r.record(func(res *Result) {
			res.Processed++
			res.Entities += int64(len(record.DetectedDescriptions))
		})
	case errors.As(err, &verr):
		r.record(func(res *Result) { res.Rejected++ })
	default:
		r.record(func(res *Result) {
			res.Failed++
			if len(res.Errors) < r.config.MaxErrors {
				res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", rw.number, err))
			}
		})
	}
}

// record applies update to the running result and reports progress
func (r *Runner) record(update func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	update(r.result)
	r.result.TotalRecords++

	if r.config.ProgressReport > 0 && r.result.TotalRecords%int64(r.config.ProgressReport) == 0 {
		elapsed := time.Since(r.start)
		r.logger.Info("Processing progress",
			zap.Int64("records", r.result.TotalRecords),
			zap.Int64("processed", r.result.Processed),
			zap.Int64("failed", r.result.Failed),
			zap.Float64("rate_per_sec", float64(r.result.TotalRecords)/elapsed.Seconds()),
			zap.Duration("elapsed", elapsed))
	}
}

func (r *Runner) snapshot() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := *r.result
	res.Errors = append([]string(nil), r.result.Errors...)
	return &res
}

// readCSV reads the text column of a CSV file with a header row
func (r *Runner) readCSV(input io.Reader, emit func(string) error) error {
	reader := csv.NewReader(input)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "text") {
			column = i
			break
		}
	}
	if column < 0 {
		return fmt.Errorf("CSV header has no text column: %v", header)
	}
	reader.FieldsPerRecord = len(header)

	r.logger.Debug("CSV header detected", zap.Strings("columns", header))

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			r.logger.Warn("Failed to read CSV record", zap.Error(err))
			continue
		}
		if err := emit(record[column]); err != nil {
			return err
		}
	}
}

// readJSON reads a stream of JSON objects, one per line
func (r *Runner) readJSON(input io.Reader, emit func(string) error) error {
	decoder := json.NewDecoder(input)
	for {
		var record InputRecord
		err := decoder.Decode(&record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// the decoder cannot resynchronize after a syntax error
			return fmt.Errorf("failed to read JSON record: %w", err)
		}
		if err := emit(record.Text); err != nil {
			return err
		}
	}
}

// readParquet reads the text column of a Parquet file
func (r *Runner) readParquet(file *os.File, emit func(string) error) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat Parquet file: %w", err)
	}
	// NewReader panics on a malformed file, so open it explicitly first
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	reader := parquet.NewReader(pf)
	defer reader.Close()

	for {
		var record InputRecord
		err := reader.Read(&record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read Parquet record: %w", err)
		}
		if err := emit(record.Text); err != nil {
			return err
		}
	}
}
