package modes

import (
	"context"
	"regexp"
	"strings"

	"omnidev/internal/types"
)

// ArchitectPlugin looks at structural concerns: file size, import fan-out,
// and package-level mutable state.
type ArchitectPlugin struct {
	importLine *regexp.Regexp
	globalVar  *regexp.Regexp
}

// NewArchitectPlugin creates the architect-mode plugin.
func NewArchitectPlugin() *ArchitectPlugin {
	return &ArchitectPlugin{
		importLine: regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import\s|#include\s)`),
		globalVar:  regexp.MustCompile(`^var\s+[A-Z]\w*\s`),
	}
}

// Mode implements ModePlugin.
func (p *ArchitectPlugin) Mode() types.Mode { return types.ModeArchitect }

const (
	maxFileLines = 600
	maxImports   = 20
)

// Analyze implements ModePlugin. No-op unless architect mode is active.
func (p *ArchitectPlugin) Analyze(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeIssue, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	var issues []types.CodeIssue

	if len(lines) > maxFileLines {
		issues = append(issues, types.CodeIssue{
			Line: 1, Code: "large-file",
			Message:  "file is very large, consider splitting by responsibility",
			Severity: types.SeverityWarning,
		})
	}

	imports := 0
	for i, line := range lines {
		if p.importLine.MatchString(line) {
			imports++
		}
		if p.globalVar.MatchString(line) {
			issues = append(issues, types.CodeIssue{
				Line: i + 1, Code: "exported-global",
				Message:  "exported package-level variable invites hidden coupling",
				Severity: types.SeverityInfo,
			})
		}
	}
	if imports > maxImports {
		issues = append(issues, types.CodeIssue{
			Line: 1, Code: "high-fanout",
			Message:  "file imports a large number of modules, coupling is high",
			Severity: types.SeverityWarning,
		})
	}

	return issues, nil
}

// Suggest implements ModePlugin.
func (p *ArchitectPlugin) Suggest(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeSuggestion, error) {
	if actx.CurrentMode != p.Mode() {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	var out []types.CodeSuggestion
	if len(lines) > maxFileLines {
		out = append(out, types.CodeSuggestion{
			LineStart:   1,
			LineEnd:     len(lines),
			Kind:        "design",
			Description: "split this file into cohesive units, one responsibility each",
			Confidence:  0.65,
		})
	}
	return out, nil
}

// FocusAreas implements ModePlugin.
func (p *ArchitectPlugin) FocusAreas(actx types.AssistContext) []string {
	return []string{"module boundaries", "coupling", "package-level state"}
}
