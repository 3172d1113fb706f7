package modes

import (
	"context"
	"regexp"
	"strings"

	"omnidev/internal/types"
)

// reviewRule is one security/quality pattern the reviewer checks per line.
type reviewRule struct {
	code     string
	pattern  *regexp.Regexp
	message  string
	severity types.Severity
}

// ReviewerPlugin runs the security- and quality-oriented rule table.
type ReviewerPlugin struct {
	rules []reviewRule
}

// NewReviewerPlugin creates the reviewer-mode plugin.
func NewReviewerPlugin() *ReviewerPlugin {
	return &ReviewerPlugin{
		rules: []reviewRule{
			{
				code:     "sql-concat",
				pattern:  regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)[^"']*["']\s*\+`),
				message:  "SQL built by string concatenation, use parameterized queries",
				severity: types.SeverityError,
			},
			{
				code:     "shell-injection",
				pattern:  regexp.MustCompile(`(os\.system|exec\.Command\([^)]*\+|subprocess\.\w+\([^)]*shell\s*=\s*True)`),
				message:  "shell invocation with dynamic input",
				severity: types.SeverityError,
			},
			{
				code:     "eval",
				pattern:  regexp.MustCompile(`\beval\s*\(`),
				message:  "eval on dynamic input is dangerous",
				severity: types.SeverityError,
			},
			{
				code:     "weak-hash",
				pattern:  regexp.MustCompile(`\b(md5|sha1)\b`),
				message:  "weak hash algorithm",
				severity: types.SeverityWarning,
			},
			{
				code:     "broad-except",
				pattern:  regexp.MustCompile(`except\s*:\s*$|catch\s*\(\s*\)|recover\(\)\s*$`),
				message:  "overly broad exception handling",
				severity: types.SeverityWarning,
			},
		},
	}
}

// Mode implements ModePlugin.
func (p *ReviewerPlugin) Mode() types.Mode { return types.ModeReviewer }

// Analyze implements ModePlugin. No-op unless reviewer mode is active.
func (p *ReviewerPlugin) Analyze(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeIssue, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	var issues []types.CodeIssue
	for i, line := range strings.Split(content, "\n") {
		for _, rule := range p.rules {
			if rule.pattern.MatchString(line) {
				issues = append(issues, types.CodeIssue{
					Line:     i + 1,
					Code:     rule.code,
					Message:  rule.message,
					Severity: rule.severity,
				})
			}
		}
	}
	return issues, nil
}

// Suggest implements ModePlugin. The reviewer suggests fixes for what its
// rules flagged.
func (p *ReviewerPlugin) Suggest(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeSuggestion, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	issues, err := p.Analyze(ctx, filePath, content, actx)
	if err != nil {
		return nil, err
	}

	var out []types.CodeSuggestion
	for _, iss := range issues {
		if iss.Severity != types.SeverityError {
			continue
		}
		out = append(out, types.CodeSuggestion{
			LineStart:   iss.Line,
			LineEnd:     iss.Line,
			Kind:        "security",
			Description: "address: " + iss.Message,
			Confidence:  0.8,
		})
	}
	return out, nil
}

// FocusAreas implements ModePlugin.
func (p *ReviewerPlugin) FocusAreas(actx types.AssistContext) []string {
	return []string{"security", "error handling breadth", "code quality"}
}
