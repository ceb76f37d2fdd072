package privacy

import (
	"fmt"
	"sort"
	"strconv"
)

// span is a half-open rune range [start, end) that gets masked
type span struct {
	start int
	end   int
}

// SortEntities returns a copy of entities ordered by BeginOffset, then
// EndOffset. Type and Score break the remaining ties so the order never
// depends on how the detector listed them.
func SortEntities(entities []Entity) []Entity {
	sorted := make([]Entity, len(entities))
	copy(sorted, entities)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.BeginOffset != b.BeginOffset {
			return a.BeginOffset < b.BeginOffset
		}
		if a.EndOffset != b.EndOffset {
			return a.EndOffset < b.EndOffset
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Score < b.Score
	})

	return sorted
}

// ValidateEntities checks that every entity addresses a non-empty span inside text
func ValidateEntities(text string, entities []Entity) error {
	n := CharCount(text)
	for _, e := range entities {
		if e.BeginOffset < 0 || e.BeginOffset >= e.EndOffset || e.EndOffset > n {
			return fmt.Errorf("%w: %s [%d,%d) in text of %d characters",
				ErrInvalidOffsets, e.Type, e.BeginOffset, e.EndOffset, n)
		}
	}
	return nil
}

// Redact masks every entity span of text with MaskChar and describes each
// entity. Masking works on rune offsets only: identical substrings at other
// positions are left alone unless they are entities themselves.
func Redact(text string, entities []Entity) (RedactionOutcome, error) {
	if err := ValidateEntities(text, entities); err != nil {
		return RedactionOutcome{}, err
	}

	outcome := RedactionOutcome{
		RedactedText: text,
		Descriptions: make([]string, 0, len(entities)),
	}
	if len(entities) == 0 {
		return outcome, nil
	}

	runes := []rune(text)
	sorted := SortEntities(entities)

	for _, e := range sorted {
		outcome.Descriptions = append(outcome.Descriptions,
			Describe(string(runes[e.BeginOffset:e.EndOffset]), e))
	}

	masked := make([]rune, len(runes))
	copy(masked, runes)
	for _, s := range mergeSpans(sorted) {
		for i := s.start; i < s.end; i++ {
			masked[i] = MaskChar
		}
	}
	outcome.RedactedText = string(masked)

	return outcome, nil
}

// Describe renders the audit description of one detected entity
func Describe(substring string, e Entity) string {
	return fmt.Sprintf("%s is a %s PII data type with a score of %s",
		substring, e.Type, strconv.FormatFloat(e.Score, 'f', -1, 64))
}

// mergeSpans folds sorted entities into maximal ranges. Overlapping and
// touching spans become one range.
func mergeSpans(sorted []Entity) []span {
	var merged []span
	for _, e := range sorted {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if e.BeginOffset <= last.end {
				if e.EndOffset > last.end {
					last.end = e.EndOffset
				}
				continue
			}
		}
		merged = append(merged, span{start: e.BeginOffset, end: e.EndOffset})
	}
	return merged
}
