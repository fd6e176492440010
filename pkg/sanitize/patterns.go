package sanitize

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Category groups threat rules into independently testable families.
type Category string

// Built-in threat categories.
const (
	CategorySQLInjection     Category = "sql_injection"
	CategoryPathTraversal    Category = "path_traversal"
	CategoryCommandInjection Category = "command_injection"
	CategoryScriptInjection  Category = "script_injection"
)

// ThreatRule is one entry in the declarative detection table. Rules are data,
// not control flow, so new signatures can be added without touching the
// classifier.
type ThreatRule struct {
	Name     string
	Category Category
	Pattern  *regexp.Regexp
	Issue    string
}

// defaultThreatRules is the built-in detection table. Patterns are matched
// case-insensitively against the raw input string.
var defaultThreatRules = []ThreatRule{
	{
		Name:     "sql_tautology",
		Category: CategorySQLInjection,
		Pattern:  regexp.MustCompile(`(?i)['"]\s*(?:OR|AND)\s*['"]?\w+['"]?\s*(?:=|LIKE)\s*['"]?\w+['"]?`),
		Issue:    "Potential SQL injection detected",
	},
	{
		Name:     "sql_union_select",
		Category: CategorySQLInjection,
		Pattern:  regexp.MustCompile(`(?i)UNION\s+(?:ALL\s+)?SELECT\b`),
		Issue:    "Potential SQL injection detected",
	},
	{
		Name:     "sql_statement_chain",
		Category: CategorySQLInjection,
		Pattern:  regexp.MustCompile(`(?i)['";]\s*;?\s*(?:DROP|DELETE|INSERT|UPDATE|ALTER|CREATE|TRUNCATE)\s+(?:TABLE|DATABASE|INTO|FROM|SCHEMA)\b`),
		Issue:    "Potential SQL injection detected",
	},
	{
		Name:     "sql_comment",
		Category: CategorySQLInjection,
		Pattern:  regexp.MustCompile(`(?:--[^\r\n]*$|/\*[^*]*\*/|#[^\r\n]*$)`),
		Issue:    "Potential SQL injection detected",
	},
	{
		Name:     "sql_timing",
		Category: CategorySQLInjection,
		Pattern:  regexp.MustCompile(`(?i)\b(?:SLEEP|BENCHMARK|WAITFOR\s+DELAY)\s*\(`),
		Issue:    "Potential SQL injection detected",
	},
	{
		Name:     "path_dotdot",
		Category: CategoryPathTraversal,
		Pattern:  regexp.MustCompile(`(?:\.\./|\.\.\\)`),
		Issue:    "Potential path traversal detected",
	},
	{
		Name:     "path_dotdot_encoded",
		Category: CategoryPathTraversal,
		Pattern:  regexp.MustCompile(`(?i)(?:%2e%2e%2f|%2e%2e/|\.\.%2f|%2e%2e%5c)`),
		Issue:    "Potential path traversal detected",
	},
	{
		Name:     "path_sensitive_file",
		Category: CategoryPathTraversal,
		Pattern:  regexp.MustCompile(`(?i)/(?:etc/(?:passwd|shadow)|proc/self|\.ssh/id_rsa)\b`),
		Issue:    "Potential path traversal detected",
	},
	{
		Name:     "cmd_chain",
		Category: CategoryCommandInjection,
		Pattern:  regexp.MustCompile("(?i)[;&|`$]\\s*(?:ls|dir|cat|type|rm|wget|curl|nc|netcat|sh|bash|cmd|powershell)\\b"),
		Issue:    "Potential command injection detected",
	},
	{
		Name:     "cmd_substitution",
		Category: CategoryCommandInjection,
		Pattern:  regexp.MustCompile("(?:\\$\\([^)]*\\)|`[^`]*`)"),
		Issue:    "Potential command injection detected",
	},
	{
		Name:     "cmd_exec_call",
		Category: CategoryCommandInjection,
		Pattern:  regexp.MustCompile(`(?i)\b(?:system|exec|shell_exec|popen|eval)\s*\(`),
		Issue:    "Potential command injection detected",
	},
	{
		Name:     "script_tag",
		Category: CategoryScriptInjection,
		Pattern:  regexp.MustCompile(`(?i)<\s*script\b`),
		Issue:    "Potential script injection detected",
	},
	{
		Name:     "script_scheme",
		Category: CategoryScriptInjection,
		Pattern:  regexp.MustCompile(`(?i)(?:javascript|vbscript)\s*:`),
		Issue:    "Potential script injection detected",
	},
	{
		Name:     "script_event_handler",
		Category: CategoryScriptInjection,
		Pattern:  regexp.MustCompile(`(?i)\bon(?:load|error|click|mouseover|focus|submit)\s*=`),
		Issue:    "Potential script injection detected",
	},
}

// removalRule is one entry in the ordered sanitation table. Each matched
// region is deleted from the string; the list order is significant (tag pairs
// with content first, then stray tags, then schemes and attributes).
type removalRule struct {
	name    string
	pattern *regexp.Regexp
}

var removalRules = []removalRule{
	{"script_block", regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)},
	{"style_block", regexp.MustCompile(`(?is)<\s*style[^>]*>.*?<\s*/\s*style\s*>`)},
	{"iframe_block", regexp.MustCompile(`(?is)<\s*iframe[^>]*>.*?<\s*/\s*iframe\s*>`)},
	{"object_block", regexp.MustCompile(`(?is)<\s*object[^>]*>.*?<\s*/\s*object\s*>`)},
	{"embed_block", regexp.MustCompile(`(?is)<\s*embed[^>]*>.*?<\s*/\s*embed\s*>`)},
	{"stray_tag", regexp.MustCompile(`(?i)<\s*/?\s*(?:script|style|iframe|object|embed|applet)\b[^>]*>`)},
	{"event_attribute", regexp.MustCompile(`(?i)\s+on\w+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)},
	{"js_scheme", regexp.MustCompile(`(?i)(?:javascript|vbscript)\s*:`)},
	{"data_url", regexp.MustCompile(`(?i)data\s*:\s*(?:text/html|application/javascript|text/javascript)[^,]*,`)},
}

// ruleFile is the on-disk shape of a custom rule set.
type ruleFile struct {
	Rules []struct {
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
		Pattern  string `yaml:"pattern"`
		Issue    string `yaml:"issue"`
	} `yaml:"rules"`
}

// ParseRules reads additional threat rules from YAML. Invalid patterns are
// rejected up front so a bad rule file fails at startup, not per request.
func ParseRules(r io.Reader) ([]ThreatRule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]ThreatRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule with empty name")
		}
		if r.Issue == "" {
			return nil, fmt.Errorf("rule %q: issue text is required", r.Name)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", r.Name, err)
		}
		rules = append(rules, ThreatRule{
			Name:     r.Name,
			Category: Category(r.Category),
			Pattern:  re,
			Issue:    r.Issue,
		})
	}
	return rules, nil
}

// LoadRulesFile reads additional threat rules from a YAML file.
func LoadRulesFile(path string) ([]ThreatRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return ParseRules(f)
}
