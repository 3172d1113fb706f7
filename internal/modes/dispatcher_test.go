package modes

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnidev/internal/perception"
	"omnidev/internal/types"
)

// stubPlugin lets tests script plugin behavior per mode.
type stubPlugin struct {
	mode        types.Mode
	issues      []types.CodeIssue
	suggestions []types.CodeSuggestion
	err         error
	calls       int
}

func (s *stubPlugin) Mode() types.Mode { return s.mode }

func (s *stubPlugin) Analyze(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeIssue, error) {
	s.calls++
	if actx.CurrentMode != s.mode {
		return nil, nil
	}
	return s.issues, s.err
}

func (s *stubPlugin) Suggest(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeSuggestion, error) {
	s.calls++
	if actx.CurrentMode != s.mode {
		return nil, nil
	}
	return s.suggestions, s.err
}

func (s *stubPlugin) FocusAreas(actx types.AssistContext) []string { return nil }

func TestDispatchAnalyzeFansOutToAllPluginsAndMergesActiveOnly(t *testing.T) {
	r := NewRegistry()
	dev := &stubPlugin{mode: types.ModeDeveloper, issues: []types.CodeIssue{{Line: 1, Code: "dev"}}}
	rev := &stubPlugin{mode: types.ModeReviewer, issues: []types.CodeIssue{{Line: 2, Code: "rev"}}}
	require.NoError(t, r.Register(dev))
	require.NoError(t, r.Register(rev))

	d := NewDispatcher(r, nil)
	actx := types.AssistContext{CurrentMode: types.ModeReviewer}

	issues := d.DispatchAnalyze(context.Background(), "a.go", "content", actx)

	require.Len(t, issues, 1)
	assert.Equal(t, "rev", issues[0].Code)
	// Every plugin was invoked; inactive ones self-filtered.
	assert.Equal(t, 1, dev.calls)
	assert.Equal(t, 1, rev.calls)
}

func TestDispatchAnalyzeSkipsFailingPlugin(t *testing.T) {
	r := NewRegistry()
	bad := &stubPlugin{mode: types.ModeDeveloper, err: errors.New("plugin broke")}
	require.NoError(t, r.Register(bad))

	d := NewDispatcher(r, nil)
	issues := d.DispatchAnalyze(context.Background(), "a.go", "x",
		types.AssistContext{CurrentMode: types.ModeDeveloper})
	assert.Empty(t, issues)
}

func TestDispatchSuggestUsesLLMFallbackWhenEmpty(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	llm := &perception.MockLLM{Response: "1. Line 10: [refactor] extract the validation logic\n" +
		"2. Line 20-25: [test] cover the error path\n"}
	d := NewDispatcher(r, llm)

	actx := types.AssistContext{CurrentMode: types.ModeDeveloper}
	suggestions := d.DispatchSuggest(context.Background(), "a.go", "package a\n", nil, actx)

	require.Len(t, suggestions, 2)
	assert.Equal(t, 10, suggestions[0].LineStart)
	assert.Equal(t, 10, suggestions[0].LineEnd)
	assert.Equal(t, "refactor", suggestions[0].Kind)
	assert.Equal(t, 20, suggestions[1].LineStart)
	assert.Equal(t, 25, suggestions[1].LineEnd)
	assert.Equal(t, "test", suggestions[1].Kind)
	require.Len(t, llm.Prompts(), 1)
	assert.Contains(t, llm.Prompts()[0], "package a")
}

func TestDispatchSuggestSkipsFallbackWhenPluginsProduce(t *testing.T) {
	r := NewRegistry()
	dev := &stubPlugin{mode: types.ModeDeveloper, suggestions: []types.CodeSuggestion{{LineStart: 1, Kind: "refactor"}}}
	require.NoError(t, r.Register(dev))

	llm := &perception.MockLLM{Response: "1. Line 1: [docs] unused"}
	d := NewDispatcher(r, llm)

	suggestions := d.DispatchSuggest(context.Background(), "a.go", "x", nil,
		types.AssistContext{CurrentMode: types.ModeDeveloper})
	require.Len(t, suggestions, 1)
	assert.Empty(t, llm.Prompts(), "fallback must not fire when fan-out produced suggestions")
}

func TestParseSuggestionsDropsMalformedLinesIndividually(t *testing.T) {
	text := `Here are my suggestions:
1. Line 5: [refactor] tighten the loop
2. Line abc: [test] not a number
banana
3. Line 7-9: [docs] document the invariant
4. Line 12: missing kind bracket
`
	got := ParseSuggestions(text)

	want := []types.CodeSuggestion{
		{LineStart: 5, LineEnd: 5, Kind: "refactor", Description: "tighten the loop", Confidence: llmSuggestionConfidence},
		{LineStart: 7, LineEnd: 9, Kind: "docs", Description: "document the invariant", Confidence: llmSuggestionConfidence},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed suggestions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSuggestionsEmptyOutput(t *testing.T) {
	assert.Empty(t, ParseSuggestions(""))
	assert.Empty(t, ParseSuggestions("no suggestions"))
}

func TestRegistryRejectsDuplicateMode(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{mode: types.ModeDeveloper}))
	assert.Error(t, r.Register(&stubPlugin{mode: types.ModeDeveloper}))
}

func TestLLMFallbackFailureYieldsNoSuggestions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	llm := &perception.MockLLM{Err: errors.New("adapter down")}
	d := NewDispatcher(r, llm)

	suggestions := d.DispatchSuggest(context.Background(), "a.go", "package a\n", nil,
		types.AssistContext{CurrentMode: types.ModeDeveloper})
	assert.Empty(t, suggestions)
}
