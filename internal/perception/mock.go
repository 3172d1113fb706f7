package perception

import (
	"context"
	"sync"
)

// MockLLM is an in-memory LLMClient for tests and for running without an API
// key. It records every prompt it receives.
type MockLLM struct {
	mu       sync.Mutex
	Response string
	Err      error
	prompts  []string
}

// Generate returns the canned response (or error).
func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Prompts returns a copy of the prompts seen so far.
func (m *MockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
