package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LLMPlanner generates search queries with a single structured LLM call.
type LLMPlanner struct {
	Model       llms.Model
	ContextSize int
	Logger      *slog.Logger
}

func NewLLMPlanner(model llms.Model, contextSize int, logger *slog.Logger) *LLMPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMPlanner{Model: model, ContextSize: contextSize, Logger: logger}
}

const plannerSchema = `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "List of specific search queries, each exploring a distinct aspect of the topic"
    }
  },
  "required": ["queries"]
}`

func (p *LLMPlanner) PlanQueries(ctx context.Context, goal string, priorFindings []string, n int) ([]string, error) {
	systemPrompt := fmt.Sprintf(`You are a research planner.
Generate up to %d specific search queries to gather information about the topic.
Each query must target a distinct aspect; do not repeat ground already covered by the prior findings.`, n)

	input := fmt.Sprintf("Topic: %s", goal)
	if len(priorFindings) > 0 {
		findings := trimToContext(strings.Join(priorFindings, "\n"), p.ContextSize)
		input = fmt.Sprintf("Topic: %s\n\nPrior findings:\n%s", goal, findings)
	}

	type queryResponse struct {
		Queries []string `json:"queries"`
	}
	var queryResp queryResponse

	_, err := generateWithRetry(ctx, p.Model, p.Logger, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt+"\n\n# Response Format: \n\n"+plannerSchema),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		// Reset for retry
		queryResp = queryResponse{}

		if err := json.Unmarshal([]byte(content), &queryResp); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if len(queryResp.Queries) == 0 {
			return fmt.Errorf("empty queries list")
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	queries := queryResp.Queries
	if len(queries) > n {
		queries = queries[:n]
	}

	p.Logger.Info("Generated queries", "queries", queries)
	return queries, nil
}
