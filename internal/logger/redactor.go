package logger

import (
	"fmt"
	"regexp"

	"github.com/gophpeek/pmcore/internal/config"
)

// Redactor is the stage of a Process Unit's ProcessWriter pipeline that runs
// right after multiline folding: it masks sensitive substrings (secrets,
// emails, tokens) out of each entry of a unit's stdout/stderr before any
// later stage — JSON extraction, level detection, filtering — or the base
// slog.Logger ever sees the entry.
type Redactor struct {
	enabled  bool
	patterns []*compiledPattern
}

// compiledPattern represents a pre-compiled redaction pattern
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor builds a Redactor from a unit's logging config. A nil or
// disabled cfg yields a Redactor that passes every line through unchanged.
func NewRedactor(cfg *config.RedactionConfig) (*Redactor, error) {
	if cfg == nil || !cfg.Enabled {
		return &Redactor{enabled: false}, nil
	}

	patterns := make([]*compiledPattern, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		// Validate pattern fields
		if p.Pattern == "" {
			return nil, fmt.Errorf("redaction pattern '%s' has empty pattern", p.Name)
		}

		// Compile regex pattern
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile redaction pattern '%s': %w", p.Name, err)
		}

		// Default replacement if not specified
		replacement := p.Replacement
		if replacement == "" {
			replacement = "***"
		}

		patterns = append(patterns, &compiledPattern{
			name:        p.Name,
			regex:       regex,
			replacement: replacement,
		})
	}

	return &Redactor{
		enabled:  true,
		patterns: patterns,
	}, nil
}

// Redact applies all redaction patterns to the input string
// Returns the redacted string with sensitive data masked
// Fast-path: if !enabled, returns input immediately without processing
func (r *Redactor) Redact(input string) string {
	redacted, _ := r.RedactMatched(input)
	return redacted
}

// RedactMatched behaves like Redact but also returns the names of every
// pattern that matched at least once, so a caller (ProcessWriter) can
// attribute redaction metrics to the pattern responsible rather than just
// counting "a redaction happened".
func (r *Redactor) RedactMatched(input string) (string, []string) {
	if !r.enabled || len(r.patterns) == 0 {
		return input, nil
	}

	var matched []string
	result := input
	for _, p := range r.patterns {
		if p.regex.MatchString(result) {
			matched = append(matched, p.name)
		}
		result = p.regex.ReplaceAllString(result, p.replacement)
	}

	return result, matched
}

// IsEnabled returns whether redaction is enabled
func (r *Redactor) IsEnabled() bool {
	return r.enabled
}

// PatternCount returns the number of configured redaction patterns
func (r *Redactor) PatternCount() int {
	return len(r.patterns)
}
