package modes

import (
	"context"
	"regexp"
	"strings"

	"omnidev/internal/types"
)

// DeveloperPlugin focuses on day-to-day implementation concerns: discarded
// errors, leftover debug scaffolding, and overly long functions.
type DeveloperPlugin struct {
	discardedErr *regexp.Regexp
	emptyCatch   *regexp.Regexp
	funcDecl     *regexp.Regexp
}

// NewDeveloperPlugin creates the developer-mode plugin.
func NewDeveloperPlugin() *DeveloperPlugin {
	return &DeveloperPlugin{
		discardedErr: regexp.MustCompile(`^\s*_\s*=\s*\w+[\w.]*\(`),
		emptyCatch:   regexp.MustCompile(`except\s*(\w+)?\s*:\s*pass\b`),
		funcDecl:     regexp.MustCompile(`^\s*(func\s+|def\s+|function\s+)`),
	}
}

// Mode implements ModePlugin.
func (p *DeveloperPlugin) Mode() types.Mode { return types.ModeDeveloper }

// maxFunctionLines is the length past which a function draws a warning.
const maxFunctionLines = 80

// Analyze implements ModePlugin. No-op unless developer mode is active.
func (p *DeveloperPlugin) Analyze(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeIssue, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	var issues []types.CodeIssue
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if p.discardedErr.MatchString(line) {
			issues = append(issues, types.CodeIssue{
				Line: i + 1, Code: "discarded-error",
				Message:  "return value discarded with blank identifier",
				Severity: types.SeverityWarning,
			})
		}
		if p.emptyCatch.MatchString(line) {
			issues = append(issues, types.CodeIssue{
				Line: i + 1, Code: "swallowed-exception",
				Message:  "exception swallowed with bare pass",
				Severity: types.SeverityWarning,
			})
		}
	}

	for _, fn := range p.functionSpans(lines) {
		if fn.length > maxFunctionLines {
			issues = append(issues, types.CodeIssue{
				Line: fn.start, Code: "long-function",
				Message:  "function body is very long, consider extracting helpers",
				Severity: types.SeverityInfo,
			})
		}
	}
	return issues, nil
}

// Suggest implements ModePlugin.
func (p *DeveloperPlugin) Suggest(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeSuggestion, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	var out []types.CodeSuggestion
	for _, fn := range p.functionSpans(strings.Split(content, "\n")) {
		if fn.length > maxFunctionLines {
			out = append(out, types.CodeSuggestion{
				LineStart:   fn.start,
				LineEnd:     fn.start + fn.length - 1,
				Kind:        "refactor",
				Description: "split this long function into smaller named helpers",
				Confidence:  0.7,
			})
		}
	}
	return out, nil
}

// FocusAreas implements ModePlugin.
func (p *DeveloperPlugin) FocusAreas(actx types.AssistContext) []string {
	return []string{"error handling", "function size", "debug leftovers"}
}

type functionSpan struct {
	start  int // 1-based line of the declaration
	length int
}

// functionSpans approximates function extents by declaration lines: a
// function runs until the next declaration. Good enough for length warnings
// without a full parse.
func (p *DeveloperPlugin) functionSpans(lines []string) []functionSpan {
	var spans []functionSpan
	declLine := -1
	for i, line := range lines {
		if p.funcDecl.MatchString(line) {
			if declLine >= 0 {
				spans = append(spans, functionSpan{start: declLine + 1, length: i - declLine})
			}
			declLine = i
		}
	}
	if declLine >= 0 {
		spans = append(spans, functionSpan{start: declLine + 1, length: len(lines) - declLine})
	}
	return spans
}
