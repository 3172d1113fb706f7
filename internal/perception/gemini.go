package perception

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"omnidev/internal/logging"
)

// GeminiClient implements LLMClient against the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini-backed LLM client.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{client: client, model: model, timeout: timeout}, nil
}

// Generate sends the prompt and returns the raw response text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Generate")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logging.LLM("generate model=%s prompt_len=%d", c.model, len(prompt))

	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}
