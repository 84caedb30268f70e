package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Tree is the recursive research coordinator. At each recursion level it
// plans a bounded set of queries, fans them out under a session-wide
// admission limit, and recurses into the follow-up questions of each
// successful branch at reduced breadth until depth is exhausted.
type Tree struct {
	Planner   Planner
	Fetcher   Fetcher
	Extractor Extractor
	Tracker   *Tracker
	Logger    *slog.Logger

	// Concurrency bounds the number of simultaneous external calls (plan,
	// fetch, extract) across the entire tree, not per level.
	Concurrency int

	// FollowUpQuestions caps findings and follow-up questions per branch.
	FollowUpQuestions int

	// NextBreadth is the breadth-reduction policy applied between recursion
	// levels. Defaults to halve-and-round-up with a floor of 1.
	NextBreadth func(int) int
}

// HalveBreadth is the default breadth-reduction policy.
func HalveBreadth(breadth int) int {
	next := (breadth + 1) / 2
	if next < 1 {
		return 1
	}
	return next
}

// Run walks the research tree to completion and returns the deduplicated
// findings and visited URLs aggregated across all branches. A failed branch
// never aborts its siblings; Run returns an error only when every root-level
// branch failed (or root planning itself failed).
func (t *Tree) Run(ctx context.Context, goal string, breadth, depth int, priorFindings []string) (*Result, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nextBreadth := t.NextBreadth
	if nextBreadth == nil {
		nextBreadth = HalveBreadth
	}
	concurrency := t.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	tracker := t.Tracker
	if tracker == nil {
		tracker = NewTracker(depth, breadth, nil)
	}

	w := &treeWalk{
		tree:        t,
		logger:      logger,
		tracker:     tracker,
		nextBreadth: nextBreadth,
		sem:         make(chan struct{}, concurrency),
		agg:         newAggregator(),
	}

	if err := w.explore(ctx, goal, breadth, depth, priorFindings); err != nil {
		return nil, err
	}
	return w.agg.result(), nil
}

// treeWalk carries the shared state of one Run: the admission semaphore is
// created once and propagated through the recursion.
type treeWalk struct {
	tree        *Tree
	logger      *slog.Logger
	tracker     *Tracker
	nextBreadth func(int) int
	sem         chan struct{}
	agg         *aggregator
}

// explore processes one recursion level. It returns an error when the level
// could not contribute anything (planning failed or every branch failed);
// callers above the root tolerate that, the root escalates it.
func (w *treeWalk) explore(ctx context.Context, goal string, breadth, depth int, priorFindings []string) error {
	if depth <= 0 {
		return nil
	}

	queries, err := w.plan(ctx, goal, priorFindings, breadth)
	if err != nil {
		return fmt.Errorf("query planning failed: %w", err)
	}
	w.tracker.AddQueries(len(queries))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for _, q := range queries {
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			if w.branch(ctx, query, breadth, depth, priorFindings) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(q)
	}
	wg.Wait()

	if succeeded == 0 {
		return fmt.Errorf("all %d research branches failed for goal %q", len(queries), goal)
	}
	return nil
}

// branch runs one query's unit of work: fetch, extract, record progress, and
// recurse into the follow-up questions. Reports whether the fetch+extract
// step succeeded; a failed subtree below a successful branch is tolerated.
func (w *treeWalk) branch(ctx context.Context, query string, breadth, depth int, priorFindings []string) bool {
	w.tracker.StartQuery(query, depth, breadth)

	res, err := w.search(ctx, query)
	if err != nil {
		w.logger.Warn("Search failed, skipping branch", "query", query, "error", err)
		w.tracker.FinishQuery()
		return false
	}

	ext, err := w.extract(ctx, query, res.Contents)
	if err != nil {
		w.logger.Warn("Extraction failed, skipping branch", "query", query, "error", err)
		w.tracker.FinishQuery()
		return false
	}

	w.agg.addURLs(res.URLs)
	w.agg.addFindings(ext.Findings)
	w.tracker.FinishQuery()

	if depth-1 > 0 && len(ext.FollowUpQuestions) > 0 {
		childGoal := fmt.Sprintf("Previous research goal: %s\nFollow-up research directions:\n- %s",
			query, strings.Join(ext.FollowUpQuestions, "\n- "))

		childFindings := make([]string, 0, len(priorFindings)+len(ext.Findings))
		childFindings = append(childFindings, priorFindings...)
		childFindings = append(childFindings, ext.Findings...)

		if err := w.explore(ctx, childGoal, w.nextBreadth(breadth), depth-1, childFindings); err != nil {
			w.logger.Warn("Subtree failed, keeping branch results", "query", query, "error", err)
		}
	}
	return true
}

func (w *treeWalk) plan(ctx context.Context, goal string, priorFindings []string, n int) ([]string, error) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()
	return w.tree.Planner.PlanQueries(ctx, goal, priorFindings, n)
}

func (w *treeWalk) search(ctx context.Context, query string) (*SearchResult, error) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()
	return w.tree.Fetcher.Search(ctx, query)
}

func (w *treeWalk) extract(ctx context.Context, query string, contents []string) (*Extraction, error) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()
	k := w.tree.FollowUpQuestions
	if k < 1 {
		k = 1
	}
	return w.tree.Extractor.Extract(ctx, query, contents, k)
}

// aggregator merges findings and URLs across branches, deduplicating by
// exact equality while preserving first-seen order.
type aggregator struct {
	mu           sync.Mutex
	findings     []string
	urls         []string
	seenFindings map[string]bool
	seenURLs     map[string]bool
}

func newAggregator() *aggregator {
	return &aggregator{
		seenFindings: make(map[string]bool),
		seenURLs:     make(map[string]bool),
	}
}

func (a *aggregator) addFindings(findings []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range findings {
		if f == "" || a.seenFindings[f] {
			continue
		}
		a.seenFindings[f] = true
		a.findings = append(a.findings, f)
	}
}

func (a *aggregator) addURLs(urls []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range urls {
		if u == "" || a.seenURLs[u] {
			continue
		}
		a.seenURLs[u] = true
		a.urls = append(a.urls, u)
	}
}

func (a *aggregator) result() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Result{
		Findings:    append([]string{}, a.findings...),
		VisitedURLs: append([]string{}, a.urls...),
	}
}
