package sanitize

import "strings"

// Report is the result of classifying a value against the threat table.
type Report struct {
	Valid      bool
	Issues     []string
	Categories []Category
}

// Classify runs the threat rule families against a string and returns every
// matched family's issue description. The input is never mutated. When
// categories are given, only rules in those families run; with none, the
// whole table runs. An input longer than the configured cap is itself an
// issue regardless of content.
func (s *Sanitizer) Classify(value string, categories ...Category) Report {
	report := Report{Valid: true}

	if len(value) > s.maxLength {
		report.Valid = false
		report.Issues = append(report.Issues, "Input exceeds maximum allowed length")
	}

	var wanted map[Category]bool
	if len(categories) > 0 {
		wanted = make(map[Category]bool, len(categories))
		for _, c := range categories {
			wanted[c] = true
		}
	}

	seen := make(map[string]bool)
	seenCat := make(map[Category]bool)
	for _, rule := range s.threatRules {
		if wanted != nil && !wanted[rule.Category] {
			continue
		}
		if rule.Pattern.MatchString(value) {
			report.Valid = false
			if !seen[rule.Issue] {
				report.Issues = append(report.Issues, rule.Issue)
				seen[rule.Issue] = true
			}
			if !seenCat[rule.Category] {
				report.Categories = append(report.Categories, rule.Category)
				seenCat[rule.Category] = true
			}
		}
	}

	return report
}

// ClassifyValue walks a decoded payload and classifies every string in it,
// returning the union of issues found. Mapping keys are classified too.
func (s *Sanitizer) ClassifyValue(value any) Report {
	report := Report{Valid: true}
	seen := make(map[string]bool)
	seenCat := make(map[Category]bool)
	s.classifyWalk(value, &report, seen, seenCat)
	return report
}

func (s *Sanitizer) classifyWalk(value any, report *Report, seen map[string]bool, seenCat map[Category]bool) {
	switch v := value.(type) {
	case string:
		r := s.Classify(v)
		if !r.Valid {
			report.Valid = false
			for _, issue := range r.Issues {
				if !seen[issue] {
					report.Issues = append(report.Issues, issue)
					seen[issue] = true
				}
			}
			for _, cat := range r.Categories {
				if !seenCat[cat] {
					report.Categories = append(report.Categories, cat)
					seenCat[cat] = true
				}
			}
		}
	case []any:
		for _, item := range v {
			s.classifyWalk(item, report, seen, seenCat)
		}
	case map[string]any:
		for key, item := range v {
			s.classifyWalk(key, report, seen, seenCat)
			if s.skipFields[strings.ToLower(key)] {
				continue
			}
			s.classifyWalk(item, report, seen, seenCat)
		}
	}
}
