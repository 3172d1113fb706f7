// Package perception implements the language-model collaborator: the client
// contract the dispatcher's suggestion fallback consumes, a Gemini-backed
// implementation, and a mock for tests. Timeout and retry behavior belong to
// the implementation; callers only see success or an error.
package perception

import "context"

// LLMClient is the language-model collaborator contract. Generate must not
// block indefinitely; implementations bound their own calls.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
