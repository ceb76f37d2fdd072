package pipeline

import "fmt"

// Stage names a state of one pipeline run
type Stage string

// Pipeline states, in the order a successful run passes through them
const (
	StageReceived      Stage = "received"
	StageNormalized    Stage = "normalized"
	StageSizeValidated Stage = "size_validated"
	StageDetected      Stage = "detected"
	StageRedacted      Stage = "redacted"
	StageAssembled     Stage = "assembled"
	StagePersisted     Stage = "persisted"
	StageResponded     Stage = "responded"
)

// ValidationError reports input that was rejected before detection
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Stage returns the state the run failed in
func (e *ValidationError) Stage() Stage { return StageSizeValidated }

// DetectionError reports a failed detector call or unusable detector output
type DetectionError struct {
	At  Stage
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed at %s: %v", e.At, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Stage returns the state the run failed in
func (e *DetectionError) Stage() Stage { return e.At }

// PersistenceError reports a failed audit record write. The request counts as
// failed even though redaction succeeded.
type PersistenceError struct {
	RecordID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist record %s: %v", e.RecordID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Stage returns the state the run failed in
func (e *PersistenceError) Stage() Stage { return StagePersisted }
