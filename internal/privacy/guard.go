package privacy

import "unicode/utf8"

// CheckSize rejects text whose UTF-8 encoding is longer than MaxTextBytes
func CheckSize(text string) error {
	if len(text) > MaxTextBytes {
		return ErrTooLarge
	}
	return nil
}

// CharCount returns the number of characters (runes) in text
func CharCount(text string) int {
	return utf8.RuneCountInString(text)
}
