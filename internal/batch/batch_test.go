package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-redactor/internal/detect"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

var datasetTexts = []string{
	"reach me at zoe@example.org",
	"nothing to see here",
	strings.Repeat("a", privacy.MaxTextBytes+1),
	"   ",
}

func newPipeline(t *testing.T, writer store.Writer) *pipeline.Pipeline {
	t.Helper()
	d, err := detect.NewPatternDetector(detect.DefaultRules(), 0)
	require.NoError(t, err)
	return pipeline.New(d, writer, "en", logger.NewNop())
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func csvDataset(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write([]string{"source", "text"}))
	for i, text := range datasetTexts {
		require.NoError(t, w.Write([]string{string(rune('a' + i)), text}))
	}
	w.Flush()
	return writeFile(t, "notes.csv", buf.Bytes())
}

func jsonDataset(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, text := range datasetTexts {
		require.NoError(t, enc.Encode(InputRecord{Text: text}))
	}
	return writeFile(t, "notes.json", buf.Bytes())
}

func parquetDataset(t *testing.T) string {
	t.Helper()
	rows := make([]InputRecord, len(datasetTexts))
	for i, text := range datasetTexts {
		rows[i] = InputRecord{Text: text}
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[InputRecord](&buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return writeFile(t, "notes.parquet", buf.Bytes())
}

func TestProcessFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		dataset func(*testing.T) string
	}{
		{"csv", csvDataset},
		{"json", jsonDataset},
		{"parquet", parquetDataset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			runner := NewRunner(newPipeline(t, mem), Config{WorkerCount: 3, MaxErrors: 5}, logger.NewNop())

			result, err := runner.ProcessFile(context.Background(), tt.dataset(t))
			require.NoError(t, err)

			assert.EqualValues(t, 4, result.TotalRecords)
			assert.EqualValues(t, 2, result.Processed)
			assert.EqualValues(t, 1, result.Rejected)
			assert.EqualValues(t, 1, result.Skipped)
			assert.EqualValues(t, 0, result.Failed)
			assert.EqualValues(t, 1, result.Entities)
			assert.Equal(t, 2, mem.Len())

			records, err := mem.List(context.Background())
			require.NoError(t, err)
			var redacted []string
			for _, r := range records {
				redacted = append(redacted, r.RedactedContent)
			}
			assert.Contains(t, redacted, "reach me at ***************")
		})
	}
}

type failingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (f *failingProcessor) Process(context.Context, string) (store.AuditRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return store.AuditRecord{}, &pipeline.PersistenceError{RecordID: "x", Err: errors.New("disk full")}
}

func TestProcessFile_FailuresAreCounted(t *testing.T) {
	proc := &failingProcessor{}
	runner := NewRunner(proc, Config{WorkerCount: 1, MaxErrors: 1}, logger.NewNop())

	path := writeFile(t, "notes.json", []byte("{\"text\":\"one\"}\n{\"text\":\"two\"}\n"))
	result, err := runner.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.EqualValues(t, 2, result.Failed)
	assert.Equal(t, 2, proc.calls)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "row 1")
	assert.Contains(t, result.Errors[0], "disk full")
}

func TestProcessFile_BadInput(t *testing.T) {
	runner := NewRunner(newPipeline(t, store.NewMemory()), DefaultConfig(), logger.NewNop())

	_, err := runner.ProcessFile(context.Background(), writeFile(t, "notes.csv", []byte("id,label\n1,x\n")))
	assert.ErrorContains(t, err, "no text column")

	_, err = runner.ProcessFile(context.Background(), writeFile(t, "notes.json", []byte(`{"text":"ok"}{"text":`)))
	assert.ErrorContains(t, err, "failed to read JSON record")

	_, err = runner.ProcessFile(context.Background(), writeFile(t, "notes.parquet", []byte("not parquet")))
	assert.ErrorContains(t, err, "failed to open Parquet file")

	_, err = runner.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorContains(t, err, "failed to open input file")
}

func TestProcessFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(newPipeline(t, store.NewMemory()), Config{WorkerCount: 1}, logger.NewNop())
	var buf bytes.Buffer
	for i := 0; i < 100; i++ {
		buf.WriteString("{\"text\":\"hello\"}\n")
	}

	_, err := runner.ProcessFile(ctx, writeFile(t, "notes.json", buf.Bytes()))
	assert.ErrorIs(t, err, context.Canceled)
}

func exportRecords() []store.AuditRecord {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []store.AuditRecord{
		{
			ID:                   "newer",
			OriginalContent:      "reach me at zoe@example.org",
			DetectedDescriptions: []string{"zoe@example.org is a EMAIL PII data type with a score of 0.99"},
			RedactedContent:      "reach me at ***************",
			MessageLength:        27,
			CreationDate:         created.Add(time.Minute),
		},
		{
			ID:                   "older",
			OriginalContent:      "hello, world",
			DetectedDescriptions: []string{},
			RedactedContent:      "hello, world",
			MessageLength:        12,
			CreationDate:         created,
		},
	}
}

func TestExport(t *testing.T) {
	mem := store.NewMemory()
	for _, r := range exportRecords() {
		require.NoError(t, mem.Put(context.Background(), r))
	}
	dir := t.TempDir()

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(dir, "notes.csv")
		n, err := Export(context.Background(), mem, path, logger.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)

		require.Len(t, rows, 3)
		assert.Equal(t, csvHeader, rows[0])
		assert.Equal(t, "newer", rows[1][0])
		assert.Equal(t, `["zoe@example.org is a EMAIL PII data type with a score of 0.99"]`, rows[1][2])
		assert.Equal(t, "[]", rows[2][2])
		assert.Equal(t, "2024-03-01T12:00:00Z", rows[2][5])
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "notes.json")
		_, err := Export(context.Background(), mem, path, logger.NewNop())
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"redactedContent":"reach me at ***************"`)
		assert.Contains(t, lines[1], `"detectedPiiEntities":[]`)
	})

	t.Run("parquet", func(t *testing.T) {
		path := filepath.Join(dir, "notes.parquet")
		_, err := Export(context.Background(), mem, path, logger.NewNop())
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		info, err := f.Stat()
		require.NoError(t, err)
		pf, err := parquet.OpenFile(f, info.Size())
		require.NoError(t, err)

		reader := parquet.NewGenericReader[ExportRecord](pf)
		defer reader.Close()
		rows := make([]ExportRecord, 2)
		n, _ := reader.Read(rows)
		require.Equal(t, 2, n)
		assert.Equal(t, "newer", rows[0].ID)
		assert.Equal(t, int64(27), rows[0].MessageLength)
		assert.Len(t, rows[0].DetectedPiiEntities, 1)
	})
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"notes.csv":       FormatCSV,
		"NOTES.CSV":       FormatCSV,
		"notes.parquet":   FormatParquet,
		"notes.json":      FormatJSON,
		"notes.jsonl":     FormatJSON,
		"notes.ndjson":    FormatJSON,
		"notes":           FormatCSV,
		"dir.v2/notes.tx": FormatCSV,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}
