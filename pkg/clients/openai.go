package clients

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/openai"
)

// ModelConfig identifies the chat model used for planning, extraction and
// report synthesis. Endpoint may point at any OpenAI-compatible server
// (OpenAI itself, a proxy, or a local runtime such as ollama).
type ModelConfig struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	ContextSize int    `json:"contextSize"`
}

// OpenAI builds a langchaingo chat model from the given configuration.
// The API key is read from MODEL_API_KEY (falling back to OPENAI_API_KEY).
func OpenAI(cfg ModelConfig) (*openai.LLM, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}

	apiKey := os.Getenv("MODEL_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Name),
		openai.WithToken(apiKey),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM: %w", err)
	}
	return llm, nil
}
