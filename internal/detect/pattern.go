package detect

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Rule is a single regex-based detection rule
type Rule struct {
	Type    string
	Pattern *regexp.Regexp
	Score   float64
	// Validate rejects matches that look right but fail a checksum
	Validate func(match string) bool
}

// DefaultRules returns the built-in rules, named after the entity types the
// external detection service reports
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:    "EMAIL",
			Pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Score:   0.99,
		},
		{
			Type:    "SSN",
			Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Score:   0.95,
		},
		{
			Type:     "CREDIT_DEBIT_NUMBER",
			Pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			Score:    0.9,
			Validate: luhnValid,
		},
		{
			Type:    "PHONE",
			Pattern: regexp.MustCompile(`(?:\+\d{1,2}[ .-]?)?(?:\(\d{3}\) ?|\b\d{3}[ .-])?\b\d{3}[ .-]\d{4}\b`),
			Score:   0.85,
		},
		{
			Type:    "IP_ADDRESS",
			Pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
			Score:   0.9,
		},
		{
			Type:    "AWS_ACCESS_KEY",
			Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Score:   0.95,
		},
		{
			Type:    "URL",
			Pattern: regexp.MustCompile(`https?://[^\s]+`),
			Score:   0.8,
		},
	}
}

// SelectRules keeps the rules named in types. "all" keeps every rule.
func SelectRules(rules []Rule, types []string) ([]Rule, error) {
	enabled := make(map[string]bool, len(rules))
	for _, t := range types {
		if t == "all" {
			return rules, nil
		}
		found := false
		for _, rule := range rules {
			if rule.Type == t {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown detector rule: %s", t)
		}
		enabled[t] = true
	}

	selected := make([]Rule, 0, len(enabled))
	for _, rule := range rules {
		if enabled[rule.Type] {
			selected = append(selected, rule)
		}
	}
	return selected, nil
}

// PatternDetector detects entities locally with regular expressions. It
// reports every match with rule order preserved; overlaps are left to the
// redactor.
type PatternDetector struct {
	rules    []Rule
	minScore float64
}

// NewPatternDetector creates a detector from rules; matches scoring below minScore are dropped
func NewPatternDetector(rules []Rule, minScore float64) (*PatternDetector, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no detection rules enabled")
	}
	return &PatternDetector{rules: rules, minScore: minScore}, nil
}

// Detect implements Detector. The language code is ignored.
func (d *PatternDetector) Detect(ctx context.Context, text, _ string) (privacy.DetectionResult, error) {
	entities := privacy.DetectionResult{}

	for _, rule := range d.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rule.Score < d.minScore {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			if rule.Validate != nil && !rule.Validate(text[loc[0]:loc[1]]) {
				continue
			}
			begin := utf8.RuneCountInString(text[:loc[0]])
			entities = append(entities, privacy.Entity{
				Type:        rule.Type,
				Score:       rule.Score,
				BeginOffset: begin,
				EndOffset:   begin + utf8.RuneCountInString(text[loc[0]:loc[1]]),
			})
		}
	}

	return entities, nil
}

// luhnValid checks the Luhn checksum of the digits in number, ignoring separators
func luhnValid(number string) bool {
	sum := 0
	digits := 0
	alt := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c == ' ' || c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		digits++
		alt = !alt
	}
	return digits >= 13 && sum%10 == 0
}
