// Package pipeline runs one submission through normalization, size
// validation, detection, redaction, record assembly and persistence. Each
// step depends on the previous one, so a run is strictly sequential; a
// failure ends the run and nothing is written before the record is complete.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/detect"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

// Observer receives pipeline measurements
type Observer interface {
	ObserveOutcome(outcome string)
	ObserveDetection(d time.Duration, entities privacy.DetectionResult)
	ObserveStore(op string, d time.Duration)
}

// Listener is told about every persisted record
type Listener interface {
	NoteRedacted(ctx context.Context, record store.AuditRecord, entities privacy.DetectionResult, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string)                                   {}
func (nopObserver) ObserveDetection(time.Duration, privacy.DetectionResult) {}
func (nopObserver) ObserveStore(string, time.Duration)                      {}

// Pipeline is safe for concurrent use; runs share no mutable state
type Pipeline struct {
	detector     detect.Detector
	writer       store.Writer
	assembler    *Assembler
	languageCode string
	observer     Observer
	listeners    []Listener
	logger       *logger.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithObserver reports measurements to o
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithListener adds l to the listeners notified after each successful run
func WithListener(l Listener) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}
}

// WithAssembler replaces the default record assembler
func WithAssembler(a *Assembler) Option {
	return func(p *Pipeline) {
		if a != nil {
			p.assembler = a
		}
	}
}

// New creates a pipeline that detects in languageCode and writes to writer
func New(detector detect.Detector, writer store.Writer, languageCode string, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:     detector,
		writer:       writer,
		assembler:    NewAssembler(),
		languageCode: languageCode,
		observer:     nopObserver{},
		logger:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs raw text through the pipeline and returns the persisted
// record. Errors are *ValidationError, *DetectionError or *PersistenceError.
func (p *Pipeline) Process(ctx context.Context, raw string) (store.AuditRecord, error) {
	start := time.Now()
	log := p.logger.FromContext(ctx)
	text := privacy.Normalize(raw)

	if err := privacy.CheckSize(text); err != nil {
		p.observer.ObserveOutcome(metrics.OutcomeRejected)
		log.Info("Submission rejected",
			zap.String("stage", string(StageSizeValidated)),
			zap.Int("text_bytes", len(text)))
		return store.AuditRecord{}, &ValidationError{Err: err}
	}

	detectStart := time.Now()
	entities, err := p.detector.Detect(ctx, text, p.languageCode)
	if err != nil {
		return store.AuditRecord{}, p.detectionFailed(log, StageDetected, err)
	}
	p.observer.ObserveDetection(time.Since(detectStart), entities)

	outcome, err := privacy.Redact(text, entities)
	if err != nil {
		return store.AuditRecord{}, p.detectionFailed(log, StageRedacted, err)
	}

	record := p.assembler.Assemble(text, outcome)

	putStart := time.Now()
	err = p.writer.Put(ctx, record)
	p.observer.ObserveStore(metrics.OpPut, time.Since(putStart))
	if err != nil {
		p.observer.ObserveOutcome(metrics.OutcomePersistenceError)
		log.Error("Failed to persist audit record",
			zap.String("stage", string(StagePersisted)),
			zap.String("record_id", record.ID),
			zap.Error(err))
		return store.AuditRecord{}, &PersistenceError{RecordID: record.ID, Err: err}
	}

	elapsed := time.Since(start)
	p.observer.ObserveOutcome(metrics.OutcomeSuccess)
	log.Info("Note redacted",
		zap.String("record_id", record.ID),
		zap.Int("entities", len(entities)),
		zap.Int("message_length", record.MessageLength),
		zap.Duration("duration", elapsed))

	for _, l := range p.listeners {
		l.NoteRedacted(ctx, record, entities, elapsed)
	}

	return record, nil
}

func (p *Pipeline) detectionFailed(log *logger.Logger, stage Stage, err error) error {
	p.observer.ObserveOutcome(metrics.OutcomeDetectionError)

	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	if errors.Is(err, privacy.ErrInvalidOffsets) {
		fields = append(fields, zap.Bool("invalid_offsets", true))
	}
	log.Error("Entity detection failed", fields...)

	return &DetectionError{At: stage, Err: err}
}
