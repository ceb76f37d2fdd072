package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

// Assembler builds audit records. IDs and timestamps come from injectable
// sources so tests can pin them.
type Assembler struct {
	NewID func() string
	Now   func() time.Time
}

// NewAssembler returns an assembler using random UUIDs and the wall clock
func NewAssembler() *Assembler {
	return &Assembler{
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

// Assemble packages the normalized text and its redaction into a new record
func (a *Assembler) Assemble(normalizedText string, outcome privacy.RedactionOutcome) store.AuditRecord {
	descriptions := outcome.Descriptions
	if descriptions == nil {
		descriptions = []string{}
	}

	return store.AuditRecord{
		ID:                   a.NewID(),
		OriginalContent:      normalizedText,
		DetectedDescriptions: descriptions,
		RedactedContent:      outcome.RedactedText,
		MessageLength:        privacy.CharCount(normalizedText),
		CreationDate:         a.Now().UTC(),
	}
}
