package models

// Truncate cuts s to max characters, returning the kept prefix and the number
// of characters removed. max <= 0 leaves s unchanged.
func Truncate(s string, max int) (string, int) {
	if max <= 0 {
		return s, 0
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s, 0
	}
	return string(runes[:max]), len(runes) - max
}
