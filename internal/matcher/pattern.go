// Package matcher implements the literal-or-regex pattern matching shared by
// readiness checks and logger flags.
package matcher

import (
	"regexp"
	"strings"
)

// Pattern matches a chunk of process output either as a literal substring or
// as a compiled regular expression.
type Pattern struct {
	raw     string
	isRegex bool
	re      *regexp.Regexp
}

// Literal builds a pattern that matches s as a plain substring.
func Literal(s string) Pattern {
	return Pattern{raw: s}
}

// Regex compiles s as a regular expression pattern.
func Regex(s string) (Pattern, error) {
	re, err := regexp.Compile(s)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: s, isRegex: true, re: re}, nil
}

// Match reports whether text satisfies the pattern and, if so, the matched
// substring (the literal itself, or the regex's full match).
func (p Pattern) Match(text string) (bool, string) {
	if p.isRegex {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			return false, ""
		}
		return true, text[loc[0]:loc[1]]
	}
	if p.raw == "" {
		return false, ""
	}
	if !strings.Contains(text, p.raw) {
		return false, ""
	}
	return true, p.raw
}

// String returns the raw pattern text, mainly for logging.
func (p Pattern) String() string {
	return p.raw
}

// IsRegex reports whether the pattern is regex-backed.
func (p Pattern) IsRegex() bool {
	return p.isRegex
}
