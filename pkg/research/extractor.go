package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LLMExtractor distills fetched page contents into findings and follow-up
// questions with a single structured LLM call.
type LLMExtractor struct {
	Model       llms.Model
	ContextSize int
	Logger      *slog.Logger
}

func NewLLMExtractor(model llms.Model, contextSize int, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{Model: model, ContextSize: contextSize, Logger: logger}
}

const extractorSchema = `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "findings": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Concise, information-dense facts extracted from the contents. Include entities, metrics, numbers and dates where present."
    },
    "followUpQuestions": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Questions that would deepen the research in a further search round"
    }
  },
  "required": ["findings", "followUpQuestions"]
}`

func (e *LLMExtractor) Extract(ctx context.Context, query string, contents []string, k int) (*Extraction, error) {
	systemPrompt := fmt.Sprintf(`You are a research analyst.
Given contents retrieved for a search query, extract up to %d findings and up to %d follow-up questions.
Each finding must be unique, concise and stand on its own without the source text.`, k, k)

	var sb strings.Builder
	for _, c := range contents {
		sb.WriteString("<content>\n")
		sb.WriteString(c)
		sb.WriteString("\n</content>\n")
	}
	body := trimToContext(sb.String(), e.ContextSize)
	input := fmt.Sprintf("Query: %s\n\nContents:\n%s", query, body)

	var extraction Extraction

	_, err := generateWithRetry(ctx, e.Model, e.Logger, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt+"\n\n# Response Format: \n\n"+extractorSchema),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		extraction = Extraction{}

		if err := json.Unmarshal([]byte(content), &extraction); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if len(extraction.Findings) == 0 {
			return fmt.Errorf("empty findings list")
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	if len(extraction.Findings) > k {
		extraction.Findings = extraction.Findings[:k]
	}
	if len(extraction.FollowUpQuestions) > k {
		extraction.FollowUpQuestions = extraction.FollowUpQuestions[:k]
	}

	e.Logger.Info("Extracted findings", "query", query, "findings", len(extraction.Findings), "follow_ups", len(extraction.FollowUpQuestions))
	return &extraction, nil
}
