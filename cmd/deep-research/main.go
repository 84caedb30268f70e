package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

var (
	query       string
	breadth     int
	depth       int
	concurrency int
	followUps   int
)

func main() {
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research explores a topic by recursively generating search queries, distilling the results into findings, and following up on open questions until the configured depth is exhausted.`,
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("query") {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				query = strings.TrimSpace(input)
			}
			if query == "" {
				slog.Error("Research topic cannot be empty")
				os.Exit(1)
			}

			if concurrency == 0 {
				concurrency = cfg.Concurrency
			}
			if followUps == 0 {
				followUps = cfg.FollowUpQuestions
			}

			llm, err := clients.OpenAI(clients.ModelConfig{
				Name:        cfg.ModelName,
				Endpoint:    cfg.ModelEndpoint,
				ContextSize: cfg.ContextSize,
			})
			if err != nil {
				slog.Error("Error initializing LLM", "error", err)
				os.Exit(1)
			}

			logger := slog.Default()
			tracker := research.NewTracker(depth, breadth, func(snap research.Snapshot) {
				fmt.Printf("\rdepth %d/%d  queries %d/%d  %s",
					snap.TotalDepth-snap.CurrentDepth, snap.TotalDepth,
					snap.CompletedQueries, snap.TotalQueries, truncate(snap.CurrentQuery, 60))
			})

			tree := &research.Tree{
				Planner:           research.NewLLMPlanner(llm, cfg.ContextSize, logger),
				Fetcher:           search.NewClient(cfg.SearchBaseURL, cfg.SearchAPIKey, logger),
				Extractor:         research.NewLLMExtractor(llm, cfg.ContextSize, logger),
				Tracker:           tracker,
				Logger:            logger,
				Concurrency:       concurrency,
				FollowUpQuestions: followUps,
			}

			slog.Info("Starting research", "query", query, "breadth", breadth, "depth", depth)

			result, err := tree.Run(context.Background(), query, breadth, depth, nil)
			if err != nil {
				slog.Error("Error running research", "error", err)
				os.Exit(1)
			}
			fmt.Println()

			synthesizer := research.NewLLMSynthesizer(llm, cfg.ContextSize, logger)
			report, err := synthesizer.Synthesize(context.Background(), query, result.Findings, result.VisitedURLs, "")
			if err != nil {
				slog.Error("Error generating report", "error", err)
				os.Exit(1)
			}

			reportFilename := fmt.Sprintf("report_%d.md", time.Now().Unix())
			if err := os.WriteFile(reportFilename, []byte(report), 0644); err != nil {
				slog.Error("Failed to save report", "error", err)
				os.Exit(1)
			}
			slog.Info("Report saved", "filename", reportFilename, "findings", len(result.Findings), "sources", len(result.VisitedURLs))
		},
	}

	rootCmd.Flags().StringVarP(&query, "query", "q", "", "The research topic")
	rootCmd.Flags().IntVarP(&breadth, "breadth", "b", 4, "Parallel search queries per recursion level (1-10)")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", 2, "Recursion depth (1-5)")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent external calls (defaults from env)")
	rootCmd.Flags().IntVarP(&followUps, "follow-up-questions", "f", 0, "Findings and follow-up questions per branch (defaults from env)")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
