package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// TreeSitterAnalyzer is the default analysis collaborator. It parses Go,
// Python, and JavaScript with tree-sitter and reports syntax errors, then
// runs the language-agnostic line rules on every file. Unknown extensions
// get line rules only.
type TreeSitterAnalyzer struct {
	goParser *sitter.Parser
	pyParser *sitter.Parser
	jsParser *sitter.Parser
	rules    []lineRule
}

// NewTreeSitterAnalyzer creates the default analyzer.
func NewTreeSitterAnalyzer() *TreeSitterAnalyzer {
	logging.AnalysisDebug("creating tree-sitter analyzer")
	return &TreeSitterAnalyzer{
		goParser: sitter.NewParser(),
		pyParser: sitter.NewParser(),
		jsParser: sitter.NewParser(),
		rules:    defaultLineRules(),
	}
}

// Close releases parser resources.
func (a *TreeSitterAnalyzer) Close() {
	a.goParser.Close()
	a.pyParser.Close()
	a.jsParser.Close()
}

// Analyze implements Analyzer.
func (a *TreeSitterAnalyzer) Analyze(ctx context.Context, filePath string, content []byte) (*types.AnalysisResult, error) {
	start := time.Now()

	var issues []types.CodeIssue

	parser, langName := a.parserFor(filePath)
	if parser != nil {
		syntaxIssues, err := a.parseSyntax(ctx, parser, content)
		if err != nil {
			return nil, fmt.Errorf("parse %s as %s: %w", filepath.Base(filePath), langName, err)
		}
		issues = append(issues, syntaxIssues...)
	}

	issues = append(issues, checkLines(string(content), a.rules)...)

	logging.AnalysisDebug("analyzed %s: %d issues in %v", filepath.Base(filePath), len(issues), time.Since(start))
	return &types.AnalysisResult{FilePath: filePath, Issues: issues}, nil
}

// parserFor selects a parser by file extension and binds its language.
func (a *TreeSitterAnalyzer) parserFor(filePath string) (*sitter.Parser, string) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		a.goParser.SetLanguage(golang.GetLanguage())
		return a.goParser, "go"
	case ".py":
		a.pyParser.SetLanguage(python.GetLanguage())
		return a.pyParser, "python"
	case ".js", ".jsx":
		a.jsParser.SetLanguage(javascript.GetLanguage())
		return a.jsParser, "javascript"
	}
	return nil, ""
}

// parseSyntax parses the content and reports every ERROR or missing node as
// an error-severity issue.
func (a *TreeSitterAnalyzer) parseSyntax(ctx context.Context, parser *sitter.Parser, content []byte) ([]types.CodeIssue, error) {
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	var issues []types.CodeIssue
	collectSyntaxErrors(root, &issues)
	return issues, nil
}

func collectSyntaxErrors(n *sitter.Node, issues *[]types.CodeIssue) {
	if n.Type() == "ERROR" || n.IsMissing() {
		point := n.StartPoint()
		*issues = append(*issues, types.CodeIssue{
			Line:     int(point.Row) + 1,
			Column:   int(point.Column) + 1,
			Code:     "syntax",
			Message:  "syntax error",
			Severity: types.SeverityError,
		})
		return // Children of an ERROR node are noise
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectSyntaxErrors(n.Child(i), issues)
	}
}
