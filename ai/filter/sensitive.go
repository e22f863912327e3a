// Package filter masks personal data before text reaches logs or operator notifications.
package filter

import (
	"regexp"
	"sort"
)

// FilterType defines the type of sensitive information to filter.
type FilterType int

const (
	// Phone filters Japanese phone numbers, with or without hyphens.
	Phone FilterType = iota

	// Email filters email addresses.
	Email

	// CardNumber filters payment card numbers of 13 to 16 digits, optionally grouped by 4.
	CardNumber

	// IP filters IPv4 addresses.
	IP
)

var patterns = map[FilterType]*regexp.Regexp{
	Phone:      regexp.MustCompile(`(?:\+81[- ]?|\b0)\d{1,4}[- ]?\d{1,4}[- ]?\d{4}\b`),
	Email:      regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
	CardNumber: regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{1,4}\b`),
	IP:         regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|1?\d\d?)\b`),
}

// FilterConfig configures the sensitive information filter.
type FilterConfig struct {
	// Enabled filter types. Card numbers are checked first so their digits are not
	// claimed by the phone pattern.
	Enabled []FilterType

	// MaskChar is the character used for masking.
	MaskChar rune

	// KeepLastN keeps the last N characters unmasked.
	KeepLastN int
}

// DefaultConfig returns default filter configuration.
func DefaultConfig() FilterConfig {
	return FilterConfig{
		Enabled:   []FilterType{CardNumber, Email, Phone, IP},
		MaskChar:  '*',
		KeepLastN: 4,
	}
}

// Filter filters sensitive information from text. It is safe for concurrent use.
type Filter struct {
	config FilterConfig
}

// NewFilter creates a new sensitive information filter.
func NewFilter(cfg FilterConfig) *Filter {
	if len(cfg.Enabled) == 0 {
		cfg.Enabled = DefaultConfig().Enabled
	}
	if cfg.MaskChar == 0 {
		cfg.MaskChar = '*'
	}
	return &Filter{config: cfg}
}

// DefaultFilter creates a filter with default configuration.
func DefaultFilter() *Filter {
	return NewFilter(DefaultConfig())
}

// Match represents a single match found in text.
type Match struct {
	Type     FilterType
	Start    int
	End      int
	Original string
}

// FindMatches returns non-overlapping matches in text ordered by position. When two
// patterns overlap, the type listed first in the config wins.
func (f *Filter) FindMatches(text string) []Match {
	var matches []Match
	for _, ft := range f.config.Enabled {
		re, ok := patterns[ft]
		if !ok {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlaps(matches, loc[0], loc[1]) {
				continue
			}
			matches = append(matches, Match{Type: ft, Start: loc[0], End: loc[1], Original: text[loc[0]:loc[1]]})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

func overlaps(matches []Match, start, end int) bool {
	for _, m := range matches {
		if start < m.End && m.Start < end {
			return true
		}
	}
	return false
}

// FilterText masks every match in text.
func (f *Filter) FilterText(text string) string {
	matches := f.FindMatches(text)
	if len(matches) == 0 {
		return text
	}

	out := make([]byte, 0, len(text))
	last := 0
	for _, m := range matches {
		out = append(out, text[last:m.Start]...)
		out = append(out, f.mask(m)...)
		last = m.End
	}
	out = append(out, text[last:]...)
	return string(out)
}

// Validate reports whether text contains no sensitive information.
func (f *Filter) Validate(text string) bool {
	return len(f.FindMatches(text)) == 0
}

func (f *Filter) mask(m Match) string {
	runes := []rune(m.Original)
	if m.Type == Email {
		// Keep the first character and the domain.
		for i := 1; i < len(runes) && runes[i] != '@'; i++ {
			runes[i] = f.config.MaskChar
		}
		return string(runes)
	}

	keep := len(runes) - f.config.KeepLastN
	for i := 0; i < keep; i++ {
		if runes[i] >= '0' && runes[i] <= '9' {
			runes[i] = f.config.MaskChar
		}
	}
	return string(runes)
}
