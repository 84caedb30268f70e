package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port              string
	APISecret         string
	SearchBaseURL     string
	SearchAPIKey      string
	ModelName         string
	ModelEndpoint     string
	ModelAPIKey       string
	ContextSize       int
	Concurrency       int
	FollowUpQuestions int
}

func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "3000"),
		APISecret:         getEnv("API_SECRET", ""),
		SearchBaseURL:     getEnv("SEARCH_BASE_URL", "https://api.firecrawl.dev"),
		SearchAPIKey:      getEnv("SEARCH_API_KEY", ""),
		ModelName:         getEnv("MODEL_NAME", "gpt-4o-mini"),
		ModelEndpoint:     getEnv("MODEL_ENDPOINT", ""),
		ModelAPIKey:       getEnv("MODEL_API_KEY", ""),
		ContextSize:       getEnvAsInt("CONTEXT_SIZE", 128000),
		Concurrency:       getEnvAsInt("CONCURRENCY", 2),
		FollowUpQuestions: getEnvAsInt("FOLLOW_UP_QUESTIONS", 3),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
