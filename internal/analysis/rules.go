package analysis

import (
	"regexp"
	"strings"

	"omnidev/internal/types"
)

// lineRule is a single regex check applied per line.
type lineRule struct {
	code     string
	pattern  *regexp.Regexp
	message  string
	severity types.Severity
}

// defaultLineRules returns the language-agnostic checks applied to every
// file regardless of whether a syntax parser is available for it.
func defaultLineRules() []lineRule {
	return []lineRule{
		{
			code:     "hardcoded-secret",
			pattern:  regexp.MustCompile(`(?i)(password|passwd|secret|api_?key|token)\s*[:=]\s*["'][^"']{4,}["']`),
			message:  "possible hardcoded credential",
			severity: types.SeverityWarning,
		},
		{
			code:     "debug-print",
			pattern:  regexp.MustCompile(`^\s*(fmt\.Println|console\.log|print)\(`),
			message:  "debug print statement",
			severity: types.SeverityWarning,
		},
		{
			code:     "todo",
			pattern:  regexp.MustCompile(`(?://|#)\s*(TODO|FIXME|XXX)\b`),
			message:  "unresolved TODO marker",
			severity: types.SeverityInfo,
		},
		{
			code:     "long-line",
			pattern:  regexp.MustCompile(`^.{121,}$`),
			message:  "line exceeds 120 characters",
			severity: types.SeverityInfo,
		},
		{
			code:     "trailing-whitespace",
			pattern:  regexp.MustCompile(`\S[ \t]+$`),
			message:  "trailing whitespace",
			severity: types.SeverityInfo,
		},
	}
}

// checkLines runs every rule against every line of the content.
func checkLines(content string, rules []lineRule) []types.CodeIssue {
	var issues []types.CodeIssue
	for i, line := range strings.Split(content, "\n") {
		for _, rule := range rules {
			if loc := rule.pattern.FindStringIndex(line); loc != nil {
				issues = append(issues, types.CodeIssue{
					Line:     i + 1,
					Column:   loc[0] + 1,
					Code:     rule.code,
					Message:  rule.message,
					Severity: rule.severity,
				})
			}
		}
	}
	return issues
}
