package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
)

// generateWithRetry attempts to generate content and validates it using the
// provided function. It retries up to 3 times if the LLM fails or the
// validator returns an error.
func generateWithRetry(ctx context.Context, model llms.Model, logger *slog.Logger, prompts []llms.MessageContent, validator func(string) error) (string, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-time.After(time.Second * time.Duration(i)): // Linear backoff
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := model.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}

		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

// trimToContext truncates text so that it fits within maxTokens tokens of the
// model context. Counts use the cl100k_base encoding; if the encoding cannot
// be loaded a 4-characters-per-token estimate is used instead.
func trimToContext(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		runes := []rune(text)
		if len(runes) > maxTokens*4 {
			return string(runes[:maxTokens*4])
		}
		return text
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}
