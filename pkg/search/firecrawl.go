package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const defaultResultLimit = 5

// Client executes search queries against a Firecrawl-compatible
// search-and-scrape backend and returns the extracted page contents.
type Client struct {
	BaseURL     string
	APIKey      string
	ResultLimit int
	HTTP        *http.Client
	Logger      *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		ResultLimit: defaultResultLimit,
		HTTP:        &http.Client{Timeout: 60 * time.Second},
		Logger:      logger,
	}
}

type searchRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

type searchResponse struct {
	Success bool         `json:"success"`
	Data    []searchItem `json:"data"`
	Error   string       `json:"error,omitempty"`
}

type searchItem struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// Search runs one query and returns the scraped markdown contents plus the
// source URLs of the results that carried any content.
func (c *Client) Search(ctx context.Context, query string) (*research.SearchResult, error) {
	limit := c.ResultLimit
	if limit <= 0 {
		limit = defaultResultLimit
	}

	reqBody := searchRequest{
		Query:         query,
		Limit:         limit,
		ScrapeOptions: scrapeOptions{Formats: []string{"markdown"}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/search", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}
	if !searchResp.Success {
		return nil, fmt.Errorf("search backend error: %s", searchResp.Error)
	}

	result := &research.SearchResult{}
	for _, item := range searchResp.Data {
		if item.Markdown == "" {
			continue
		}
		result.Contents = append(result.Contents, item.Markdown)
		if item.URL != "" {
			result.URLs = append(result.URLs, item.URL)
		}
	}

	c.Logger.Info("Search successful", "query", query, "results", len(result.Contents))
	return result, nil
}
