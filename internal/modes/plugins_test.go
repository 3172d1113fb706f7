package modes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnidev/internal/types"
)

func TestPluginsSelfFilterOnInactiveMode(t *testing.T) {
	content := "import os\nos.system(cmd + arg)\n"
	actx := types.AssistContext{CurrentMode: types.ModeDeveloper}

	// Reviewer is not active, so even content its rules would flag yields
	// nothing.
	rev := NewReviewerPlugin()
	issues, err := rev.Analyze(context.Background(), "a.py", content, actx)
	require.NoError(t, err)
	assert.Empty(t, issues)

	suggestions, err := rev.Suggest(context.Background(), "a.py", content, actx)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestReviewerFlagsSecurityPatterns(t *testing.T) {
	content := `query = "SELECT * FROM users WHERE id=" + user_id
subprocess.run(cmd, shell=True)
digest = md5(data)
`
	actx := types.AssistContext{CurrentMode: types.ModeReviewer}

	issues, err := NewReviewerPlugin().Analyze(context.Background(), "a.py", content, actx)
	require.NoError(t, err)

	codes := map[string]types.Severity{}
	for _, iss := range issues {
		codes[iss.Code] = iss.Severity
	}
	assert.Equal(t, types.SeverityError, codes["sql-concat"])
	assert.Equal(t, types.SeverityError, codes["shell-injection"])
	assert.Equal(t, types.SeverityWarning, codes["weak-hash"])
}

func TestDeveloperFlagsDiscardedErrors(t *testing.T) {
	content := "\t_ = f.Close()\n"
	actx := types.AssistContext{CurrentMode: types.ModeDeveloper}

	issues, err := NewDeveloperPlugin().Analyze(context.Background(), "a.go", content, actx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "discarded-error", issues[0].Code)
}

func TestTesterFlagsSkippedAndAssertionFreeTests(t *testing.T) {
	content := `func TestSomething(t *testing.T) {
	t.Skip("later")
	doWork()
}
`
	actx := types.AssistContext{CurrentMode: types.ModeTester}

	issues, err := NewTesterPlugin().Analyze(context.Background(), "a_test.go", content, actx)
	require.NoError(t, err)

	var codes []string
	for _, iss := range issues {
		codes = append(codes, iss.Code)
	}
	assert.Contains(t, codes, "skipped-test")
	assert.Contains(t, codes, "no-assertions")
}

func TestArchitectFlagsExportedGlobals(t *testing.T) {
	content := "package a\n\nvar GlobalState map[string]int\n"
	actx := types.AssistContext{CurrentMode: types.ModeArchitect}

	issues, err := NewArchitectPlugin().Analyze(context.Background(), "a.go", content, actx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "exported-global", issues[0].Code)
	assert.Equal(t, 3, issues[0].Line)
}

func TestFocusAreasComeFromActivePlugin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))
	d := NewDispatcher(r, nil)

	areas := d.FocusAreas(types.AssistContext{CurrentMode: types.ModeReviewer})
	assert.Contains(t, areas, "security")

	assert.Nil(t, d.FocusAreas(types.AssistContext{CurrentMode: "unknown"}))
}
