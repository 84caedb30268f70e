package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LLMSynthesizer writes the final report from the aggregated findings.
type LLMSynthesizer struct {
	Model       llms.Model
	ContextSize int
	Logger      *slog.Logger
}

func NewLLMSynthesizer(model llms.Model, contextSize int, logger *slog.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSynthesizer{Model: model, ContextSize: contextSize, Logger: logger}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, goal string, findings, visitedURLs []string, formattingNotes string) (string, error) {
	s.Logger.Info("Compiling final report", "findings", len(findings), "urls", len(visitedURLs))

	body := trimToContext(strings.Join(findings, "\n\n"), s.ContextSize)

	prompt := fmt.Sprintf(`Write a comprehensive research report on "%s".
Use the following gathered findings:

%s

Format as Markdown with Introduction, Key Findings, Discussion, and Conclusion.
End with a Sources section listing these URLs:
%s`, goal, body, strings.Join(visitedURLs, "\n"))

	if formattingNotes != "" {
		prompt += "\n\nAdditional formatting instructions:\n" + formattingNotes
	}

	resp, err := s.Model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("report generation returned no choices")
	}

	report := resp.Choices[0].Content
	s.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}
