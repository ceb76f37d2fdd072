package privacy

import "errors"

// MaxTextBytes is the largest normalized input, in UTF-8 bytes, accepted for detection
const MaxTextBytes = 5000

// MaskChar replaces every character of a detected span
const MaskChar = '*'

var (
	// ErrTooLarge is returned by CheckSize when the text exceeds MaxTextBytes
	ErrTooLarge = errors.New("input text exceeds the maximum allowed size of 5000 bytes")

	// ErrInvalidOffsets is returned when an entity does not address a span of the text
	ErrInvalidOffsets = errors.New("entity offsets out of range")
)

// Entity is a single PII span reported by a detector. Offsets are rune
// positions into the normalized text, EndOffset exclusive.
type Entity struct {
	Type        string  `json:"Type"`
	Score       float64 `json:"Score"`
	BeginOffset int     `json:"BeginOffset"`
	EndOffset   int     `json:"EndOffset"`
}

// DetectionResult is the unordered detector output for one text
type DetectionResult []Entity

// RedactionOutcome contains the masked text and one description per entity
type RedactionOutcome struct {
	RedactedText string   `json:"redactedText"`
	Descriptions []string `json:"descriptions"`
}
