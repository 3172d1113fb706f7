package modes

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"omnidev/internal/logging"
	"omnidev/internal/perception"
	"omnidev/internal/types"
)

// llmSuggestionConfidence is assigned to fallback suggestions; the model
// gives no usable per-line score.
const llmSuggestionConfidence = 0.6

// suggestionLine matches the required output grammar:
//
//	N. Line X[-Y]: [kind] description
var suggestionLine = regexp.MustCompile(`^\s*\d+\.\s*Line\s+(\d+)(?:\s*-\s*(\d+))?\s*:\s*\[([^\]\n]+)\]\s*(\S.*)$`)

// Dispatcher fans analysis and suggestion requests out to every registered
// plugin and merges the results. When fan-out yields zero suggestions it
// falls back to the LLM-backed generator.
type Dispatcher struct {
	registry *Registry
	llm      perception.LLMClient
}

// NewDispatcher creates a dispatcher over a registry. llm may be nil, in
// which case the suggestion fallback is skipped.
func NewDispatcher(registry *Registry, llm perception.LLMClient) *Dispatcher {
	return &Dispatcher{registry: registry, llm: llm}
}

// DispatchAnalyze invokes every plugin's Analyze and merges the issues.
// Plugins self-filter on the active mode, so inactive plugins contribute
// nothing. A failing plugin is logged and skipped; it never aborts fan-out.
func (d *Dispatcher) DispatchAnalyze(ctx context.Context, filePath, content string, actx types.AssistContext) []types.CodeIssue {
	var merged []types.CodeIssue
	for _, p := range d.registry.All() {
		issues, err := p.Analyze(ctx, filePath, content, actx)
		if err != nil {
			logging.Get(logging.CategoryModes).Warn("plugin %s analyze failed: %v", p.Mode(), err)
			continue
		}
		merged = append(merged, issues...)
	}
	logging.ModesDebug("dispatch analyze file=%s mode=%s issues=%d", filePath, actx.CurrentMode, len(merged))
	return merged
}

// DispatchSuggest invokes every plugin's Suggest and merges the results. If
// the fan-out yields zero suggestions, the LLM fallback generates them from
// the code and the detected issues.
func (d *Dispatcher) DispatchSuggest(ctx context.Context, filePath, content string, issues []types.CodeIssue, actx types.AssistContext) []types.CodeSuggestion {
	var merged []types.CodeSuggestion
	for _, p := range d.registry.All() {
		suggestions, err := p.Suggest(ctx, filePath, content, actx)
		if err != nil {
			logging.Get(logging.CategoryModes).Warn("plugin %s suggest failed: %v", p.Mode(), err)
			continue
		}
		merged = append(merged, suggestions...)
	}

	if len(merged) == 0 && d.llm != nil {
		merged = d.llmFallback(ctx, filePath, content, issues)
	}

	logging.ModesDebug("dispatch suggest file=%s mode=%s suggestions=%d", filePath, actx.CurrentMode, len(merged))
	return merged
}

// FocusAreas returns the active plugin's focus areas, if any.
func (d *Dispatcher) FocusAreas(actx types.AssistContext) []string {
	p, ok := d.registry.Get(actx.CurrentMode)
	if !ok {
		return nil
	}
	return p.FocusAreas(actx)
}

// llmFallback asks the LLM for suggestions using a fixed output grammar and
// parses each line with it. Lines that fail to parse are dropped
// individually; a malformed line never aborts the batch.
func (d *Dispatcher) llmFallback(ctx context.Context, filePath, content string, issues []types.CodeIssue) []types.CodeSuggestion {
	prompt := buildSuggestionPrompt(filePath, content, issues)

	text, err := d.llm.Generate(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryModes).Warn("llm suggestion fallback failed: %v", err)
		return nil
	}

	return ParseSuggestions(text)
}

// buildSuggestionPrompt embeds the code, the detected issues, and the
// required output grammar into one prompt.
func buildSuggestionPrompt(filePath, content string, issues []types.CodeIssue) string {
	var sb strings.Builder

	sb.WriteString("You are a code improvement assistant.\n")
	fmt.Fprintf(&sb, "File: %s\n\n", filePath)
	sb.WriteString("Code:\n```\n")
	sb.WriteString(content)
	sb.WriteString("\n```\n\n")

	if len(issues) > 0 {
		sb.WriteString("Known issues:\n")
		for _, iss := range issues {
			fmt.Fprintf(&sb, "- line %d [%s] %s\n", iss.Line, iss.Severity, iss.Message)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Suggest up to 5 concrete improvements. Output ONLY numbered lines in exactly this format:\n")
	sb.WriteString("N. Line X: [kind] description\n")
	sb.WriteString("or for a range: N. Line X-Y: [kind] description\n")
	sb.WriteString("where kind is one of: refactor, test, docs, design, performance, security.\n")

	return sb.String()
}

// ParseSuggestions parses LLM output against the fixed suggestion grammar.
func ParseSuggestions(text string) []types.CodeSuggestion {
	var out []types.CodeSuggestion
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := suggestionLine.FindStringSubmatch(line)
		if m == nil {
			logging.ModesDebug("dropping malformed suggestion line: %q", line)
			continue
		}

		start, err := strconv.Atoi(m[1])
		if err != nil || start < 1 {
			continue
		}
		end := start
		if m[2] != "" {
			if e, err := strconv.Atoi(m[2]); err == nil && e >= start {
				end = e
			}
		}

		out = append(out, types.CodeSuggestion{
			LineStart:   start,
			LineEnd:     end,
			Kind:        strings.ToLower(strings.TrimSpace(m[3])),
			Description: strings.TrimSpace(m[4]),
			Confidence:  llmSuggestionConfidence,
		})
	}
	return out
}
