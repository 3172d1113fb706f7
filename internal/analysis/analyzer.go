// Package analysis defines the code-analysis collaborator contract the
// pipeline consumes, plus the built-in default analyzer. The pipeline treats
// any implementation as a black box: a failure abandons the current unit of
// work, never the worker loop.
package analysis

import (
	"context"

	"omnidev/internal/types"
)

// Analyzer is the code-analysis collaborator contract.
type Analyzer interface {
	Analyze(ctx context.Context, filePath string, content []byte) (*types.AnalysisResult, error)
}

// Func adapts a plain function to the Analyzer interface.
type Func func(ctx context.Context, filePath string, content []byte) (*types.AnalysisResult, error)

// Analyze implements Analyzer.
func (f Func) Analyze(ctx context.Context, filePath string, content []byte) (*types.AnalysisResult, error) {
	return f(ctx, filePath, content)
}
