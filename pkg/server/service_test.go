package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
)

type fakePlanner func(ctx context.Context, goal string, priorFindings []string, n int) ([]string, error)

func (f fakePlanner) PlanQueries(ctx context.Context, goal string, priorFindings []string, n int) ([]string, error) {
	return f(ctx, goal, priorFindings, n)
}

type fakeFetcher func(ctx context.Context, query string) (*research.SearchResult, error)

func (f fakeFetcher) Search(ctx context.Context, query string) (*research.SearchResult, error) {
	return f(ctx, query)
}

type fakeExtractor func(ctx context.Context, query string, contents []string, k int) (*research.Extraction, error)

func (f fakeExtractor) Extract(ctx context.Context, query string, contents []string, k int) (*research.Extraction, error) {
	return f(ctx, query, contents, k)
}

type fakeSynthesizer func(ctx context.Context, goal string, findings, visitedURLs []string, formattingNotes string) (string, error)

func (f fakeSynthesizer) Synthesize(ctx context.Context, goal string, findings, visitedURLs []string, formattingNotes string) (string, error) {
	return f(ctx, goal, findings, visitedURLs, formattingNotes)
}

func happyComponents() *Components {
	return &Components{
		Planner: fakePlanner(func(ctx context.Context, goal string, prior []string, n int) ([]string, error) {
			return []string{"q1", "q2"}, nil
		}),
		Fetcher: fakeFetcher(func(ctx context.Context, query string) (*research.SearchResult, error) {
			return &research.SearchResult{
				Contents: []string{"content for " + query},
				URLs:     []string{"https://example.com/" + query},
			}, nil
		}),
		Extractor: fakeExtractor(func(ctx context.Context, query string, contents []string, k int) (*research.Extraction, error) {
			return &research.Extraction{Findings: []string{"finding from " + query}}, nil
		}),
		Synthesizer: fakeSynthesizer(func(ctx context.Context, goal string, findings, urls []string, notes string) (string, error) {
			return "# Report", nil
		}),
	}
}

func newTestService(components *Components) (*Service, *Registry, *Broadcaster) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)
	cfg := &config.Config{
		Concurrency:       2,
		FollowUpQuestions: 2,
		ModelName:         "test-model",
		ContextSize:       8000,
	}
	svc := NewService(cfg, registry, broadcaster)
	svc.Logger = slog.Default()
	svc.NewComponents = func(params SessionParams, logger *slog.Logger) (*Components, error) {
		return components, nil
	}
	return svc, registry, broadcaster
}

func waitForTerminal(t *testing.T, registry *Registry, id string) Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := registry.Get(id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if session.Status.Terminal() {
			return session
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return Session{}
}

func TestCreateSessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateSessionRequest
		wantErr bool
	}{
		{"missing query", CreateSessionRequest{}, true},
		{"blank query", CreateSessionRequest{Query: "   "}, true},
		{"breadth too high", CreateSessionRequest{Query: "q", Breadth: 11}, true},
		{"breadth negative", CreateSessionRequest{Query: "q", Breadth: -1}, true},
		{"depth too high", CreateSessionRequest{Query: "q", Depth: 6}, true},
		{"concurrency too high", CreateSessionRequest{Query: "q", Concurrency: 11}, true},
		{"follow-ups too high", CreateSessionRequest{Query: "q", FollowUpQuestions: 11}, true},
		{"all defaults", CreateSessionRequest{Query: "q"}, false},
		{"bounds inclusive", CreateSessionRequest{Query: "q", Breadth: 10, Depth: 5, Concurrency: 10, FollowUpQuestions: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, registry, _ := newTestService(happyComponents())

			session, err := svc.CreateSession(tt.req)
			if tt.wantErr {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Errorf("CreateSession() error = %v, want ValidationError", err)
				}
				if len(registry.List()) != 0 {
					t.Error("session created despite validation failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if session.Status != StatusPending {
				t.Errorf("created status = %q, want pending", session.Status)
			}
		})
	}
}

func TestCreateSessionResolvesDefaults(t *testing.T) {
	svc, _, _ := newTestService(happyComponents())

	session, err := svc.CreateSession(CreateSessionRequest{Query: "q"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	p := session.Params
	if p.Breadth != 4 {
		t.Errorf("breadth = %d, want hardcoded default 4", p.Breadth)
	}
	if p.Depth != 2 {
		t.Errorf("depth = %d, want hardcoded default 2", p.Depth)
	}
	if p.Concurrency != 2 {
		t.Errorf("concurrency = %d, want env default 2", p.Concurrency)
	}
	if p.FollowUpQuestions != 2 {
		t.Errorf("followUpQuestions = %d, want env default 2", p.FollowUpQuestions)
	}
	if p.Model.Name != "test-model" {
		t.Errorf("model name = %q, want env default", p.Model.Name)
	}
}

func TestCreateSessionRequestOverridesDefaults(t *testing.T) {
	svc, _, _ := newTestService(happyComponents())

	session, err := svc.CreateSession(CreateSessionRequest{
		Query:       "q",
		Breadth:     6,
		Concurrency: 5,
		Model:       &clients.ModelConfig{Name: "other-model", ContextSize: 4000},
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	p := session.Params
	if p.Breadth != 6 || p.Concurrency != 5 {
		t.Errorf("request values not applied: breadth=%d concurrency=%d", p.Breadth, p.Concurrency)
	}
	if p.Model.Name != "other-model" || p.Model.ContextSize != 4000 {
		t.Errorf("model override not applied: %+v", p.Model)
	}
}

func TestSessionRunsToCompletion(t *testing.T) {
	svc, registry, _ := newTestService(happyComponents())

	created, err := svc.CreateSession(CreateSessionRequest{Query: "quantum computing", Breadth: 2, Depth: 1})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	session := waitForTerminal(t, registry, created.ID)
	if session.Status != StatusCompleted {
		t.Fatalf("status = %q (error=%q), want completed", session.Status, session.Error)
	}
	if session.Result == nil {
		t.Fatal("completed session has no result")
	}
	if len(session.Result.Findings) == 0 || len(session.Result.VisitedURLs) == 0 {
		t.Errorf("result = %+v, want findings and urls", session.Result)
	}
	if session.Result.Report != "# Report" {
		t.Errorf("report = %q", session.Result.Report)
	}
	if session.Error != "" {
		t.Errorf("completed session carries error %q", session.Error)
	}
	if session.Progress == nil {
		t.Error("progress snapshot cleared after completion, want retained")
	}

	logs, err := registry.Logs(created.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) == 0 {
		t.Error("worker produced no captured log entries")
	}
}

func TestSessionCompletesWhenOneRootBranchFails(t *testing.T) {
	components := happyComponents()
	components.Fetcher = fakeFetcher(func(ctx context.Context, query string) (*research.SearchResult, error) {
		if query == "q2" {
			return nil, fmt.Errorf("fetch failed")
		}
		return &research.SearchResult{Contents: []string{"c"}, URLs: []string{"https://example.com/q1"}}, nil
	})
	svc, registry, _ := newTestService(components)

	created, _ := svc.CreateSession(CreateSessionRequest{Query: "topic", Breadth: 2, Depth: 1})
	session := waitForTerminal(t, registry, created.ID)

	if session.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed despite one failed branch", session.Status)
	}
	if len(session.Result.Findings) != 1 || session.Result.Findings[0] != "finding from q1" {
		t.Errorf("findings = %v, want only the surviving branch", session.Result.Findings)
	}
}

func TestSessionFailsWhenAllRootBranchesFail(t *testing.T) {
	components := happyComponents()
	components.Fetcher = fakeFetcher(func(ctx context.Context, query string) (*research.SearchResult, error) {
		return nil, fmt.Errorf("fetch failed")
	})
	svc, registry, _ := newTestService(components)

	created, _ := svc.CreateSession(CreateSessionRequest{Query: "topic", Breadth: 2, Depth: 1})
	session := waitForTerminal(t, registry, created.ID)

	if session.Status != StatusError {
		t.Fatalf("status = %q, want error", session.Status)
	}
	if session.Error == "" {
		t.Error("failed session has no error message")
	}
	if session.Result != nil {
		t.Errorf("failed session has result %+v, want none", session.Result)
	}
}

func TestSynthesisFailureSurfacesPartialSuccess(t *testing.T) {
	components := happyComponents()
	components.Synthesizer = fakeSynthesizer(func(ctx context.Context, goal string, findings, urls []string, notes string) (string, error) {
		return "", fmt.Errorf("model overloaded")
	})
	svc, registry, _ := newTestService(components)

	created, _ := svc.CreateSession(CreateSessionRequest{Query: "topic", Breadth: 2, Depth: 1})
	session := waitForTerminal(t, registry, created.ID)

	if session.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed with partial result", session.Status)
	}
	if session.Result.Report != "" {
		t.Errorf("report = %q, want empty", session.Result.Report)
	}
	if session.Result.ReportError == "" {
		t.Error("reportError not set after synthesis failure")
	}
	if len(session.Result.Findings) == 0 {
		t.Error("findings discarded after synthesis failure")
	}
}

func TestComponentInitFailureFailsSession(t *testing.T) {
	svc, registry, _ := newTestService(nil)
	svc.NewComponents = func(params SessionParams, logger *slog.Logger) (*Components, error) {
		return nil, fmt.Errorf("no api key")
	}

	created, err := svc.CreateSession(CreateSessionRequest{Query: "topic"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	session := waitForTerminal(t, registry, created.ID)
	if session.Status != StatusError {
		t.Fatalf("status = %q, want error", session.Status)
	}
	if session.Error == "" {
		t.Error("failed session has no error message")
	}
}

func TestWorkerEventsReachSubscriber(t *testing.T) {
	svc, registry, broadcaster := newTestService(happyComponents())

	created, err := svc.CreateSession(CreateSessionRequest{Query: "topic", Breadth: 2, Depth: 1})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	ch := make(chan Event, 64)
	if err := broadcaster.Subscribe(created.ID, ch); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer broadcaster.Unsubscribe(created.ID, ch)

	deadline := time.After(2 * time.Second)
	var received []Event
	for {
		select {
		case event := <-ch:
			received = append(received, event)
			if event.Type != EventProgress {
				// Terminal event: verify nothing but progress preceded it.
				for _, prior := range received[:len(received)-1] {
					if prior.Type != EventProgress {
						t.Errorf("event %q arrived before the terminal event", prior.Type)
					}
				}
				if event.Type != EventCompleted {
					t.Errorf("terminal event = %q, want completed", event.Type)
				}
				waitForTerminal(t, registry, created.ID)
				return
			}
		case <-deadline:
			t.Fatal("no terminal event received")
		}
	}
}
