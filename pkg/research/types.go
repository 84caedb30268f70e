package research

import "context"

// SearchResult holds the scraped contents and source URLs returned for one
// search query.
type SearchResult struct {
	Contents []string `json:"contents"`
	URLs     []string `json:"urls"`
}

// Extraction is the distilled output of one fetched branch: concise findings
// plus candidate follow-up questions for the next recursion level.
type Extraction struct {
	Findings          []string `json:"findings"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

// Result aggregates a research tree bottom-up: ordered-unique findings and
// ordered-unique visited URLs.
type Result struct {
	Findings    []string `json:"findings"`
	VisitedURLs []string `json:"visitedUrls"`
}

// Planner produces up to n new search queries derived from the research goal
// and the findings gathered so far.
type Planner interface {
	PlanQueries(ctx context.Context, goal string, priorFindings []string, n int) ([]string, error)
}

// Fetcher executes one query against the search/scrape backend.
type Fetcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// Extractor reduces fetched content into at most k findings and at most k
// follow-up questions.
type Extractor interface {
	Extract(ctx context.Context, query string, contents []string, k int) (*Extraction, error)
}

// Synthesizer combines the aggregated findings into a final report document.
type Synthesizer interface {
	Synthesize(ctx context.Context, goal string, findings, visitedURLs []string, formattingNotes string) (string, error)
}
