// Package strutil provides rune-safe string helpers.
package strutil

// Truncate cuts s to at most maxLen runes and appends "..." when it cut anything.
// Returns empty string if maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Clip cuts s to at most maxLen runes without a marker, for transports with a hard limit.
func Clip(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
