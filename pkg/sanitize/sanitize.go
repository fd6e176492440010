// Package sanitize normalizes untrusted request payloads and classifies
// threat signatures. Sanitation is defined recursively over scalars, lists
// and key-value mappings and is idempotent: running it twice yields the same
// result as running it once.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default caps applied when Options leaves them zero.
const (
	DefaultMaxLength    = 10000
	DefaultMaxKeyLength = 100
	maxRemovalPasses    = 10
)

// Options configures a Sanitizer.
type Options struct {
	// MaxLength caps string values after cleaning. Zero means DefaultMaxLength.
	MaxLength int

	// MaxKeyLength caps mapping keys. Zero means DefaultMaxKeyLength.
	MaxKeyLength int

	// SkipFields lists mapping keys whose values pass through untouched,
	// e.g. password or token fields where mangling bytes breaks semantics.
	SkipFields []string

	// ExtraRules are appended to the built-in threat table for Classify.
	ExtraRules []ThreatRule
}

// Sanitizer applies the cleaning and classification tables. The zero value is
// not usable; construct with New.
type Sanitizer struct {
	maxLength    int
	maxKeyLength int
	skipFields   map[string]bool
	threatRules  []ThreatRule
}

// New creates a Sanitizer from options.
func New(opts Options) *Sanitizer {
	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	maxKeyLen := opts.MaxKeyLength
	if maxKeyLen <= 0 {
		maxKeyLen = DefaultMaxKeyLength
	}

	skip := make(map[string]bool, len(opts.SkipFields))
	for _, f := range opts.SkipFields {
		skip[strings.ToLower(f)] = true
	}

	rules := make([]ThreatRule, 0, len(defaultThreatRules)+len(opts.ExtraRules))
	rules = append(rules, defaultThreatRules...)
	rules = append(rules, opts.ExtraRules...)

	return &Sanitizer{
		maxLength:    maxLen,
		maxKeyLength: maxKeyLen,
		skipFields:   skip,
		threatRules:  rules,
	}
}

// Sanitize cleans a decoded payload value recursively. Strings are cleaned,
// lists and mappings recurse into their children, and all other scalars pass
// through unchanged. The input is never mutated; a cleaned copy is returned.
func (s *Sanitizer) Sanitize(value any) any {
	switch v := value.(type) {
	case string:
		return s.CleanString(v, s.maxLength)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.Sanitize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			cleanKey := s.CleanString(key, s.maxKeyLength)
			if cleanKey == "" {
				continue
			}
			if s.skipFields[strings.ToLower(cleanKey)] {
				out[cleanKey] = item
				continue
			}
			out[cleanKey] = s.Sanitize(item)
		}
		return out
	default:
		return value
	}
}

// CleanString strips null bytes and non-printable control characters
// (preserving newline and tab), applies the ordered removal table until the
// value is stable, trims surrounding whitespace and caps the length.
func (s *Sanitizer) CleanString(in string, maxLen int) string {
	cleaned := stripControl(in)

	// Removal runs to a fixed point so overlapping fragments cannot
	// reassemble into a match on a second pass.
	for range maxRemovalPasses {
		next := cleaned
		for _, rule := range removalRules {
			next = rule.pattern.ReplaceAllString(next, "")
		}
		if next == cleaned {
			break
		}
		cleaned = next
	}

	cleaned = strings.TrimSpace(cleaned)
	if maxLen > 0 && len(cleaned) > maxLen {
		// Back off to a rune boundary; slicing mid-rune would leave a
		// dangling byte that re-cleans differently on the next pass.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = strings.TrimSpace(cleaned[:cut])
	}
	return cleaned
}

// stripControl removes NUL and other non-printable control runes, keeping
// newline and tab.
func stripControl(in string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == 0 || unicode.IsControl(r) {
			return -1
		}
		return r
	}, in)
}

// MaxLength returns the configured value cap.
func (s *Sanitizer) MaxLength() int {
	return s.maxLength
}
