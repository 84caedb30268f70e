package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

func testParams() SessionParams {
	return SessionParams{
		Query:             "test topic",
		Breadth:           4,
		Depth:             2,
		Concurrency:       2,
		FollowUpQuestions: 3,
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	registry := NewRegistry()
	created := registry.Create(testParams())

	if created.Status != StatusPending {
		t.Errorf("new session status = %q, want pending", created.Status)
	}
	if created.ID == "" {
		t.Error("new session has no id")
	}

	got, err := registry.Get(created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Params.Query != "test topic" {
		t.Errorf("query = %q", got.Params.Query)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryLifecycleTransitions(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())

	if err := registry.MarkRunning(session.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	got, _ := registry.Get(session.ID)
	if got.Status != StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}

	result := &Result{Findings: []string{"f"}, VisitedURLs: []string{"u"}, Report: "r"}
	if err := registry.Complete(session.ID, result); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ = registry.Get(session.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Result == nil || got.Result.Report != "r" {
		t.Errorf("result = %+v, want stored result", got.Result)
	}
	if got.Error != "" {
		t.Errorf("completed session has error %q", got.Error)
	}
}

func TestRegistryTerminalStatesAreFinal(t *testing.T) {
	tests := []struct {
		name      string
		terminate func(r *Registry, id string)
	}{
		{
			name: "completed",
			terminate: func(r *Registry, id string) {
				_ = r.MarkRunning(id)
				_ = r.Complete(id, &Result{})
			},
		},
		{
			name: "error",
			terminate: func(r *Registry, id string) {
				_ = r.MarkRunning(id)
				_ = r.Fail(id, "boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			session := registry.Create(testParams())
			tt.terminate(registry, session.ID)

			if err := registry.MarkRunning(session.ID); !errors.Is(err, ErrTerminalState) {
				t.Errorf("MarkRunning after terminal: error = %v, want ErrTerminalState", err)
			}
			if err := registry.Complete(session.ID, &Result{}); !errors.Is(err, ErrTerminalState) {
				t.Errorf("Complete after terminal: error = %v, want ErrTerminalState", err)
			}
			if err := registry.Fail(session.ID, "again"); !errors.Is(err, ErrTerminalState) {
				t.Errorf("Fail after terminal: error = %v, want ErrTerminalState", err)
			}
		})
	}
}

func TestRegistryFailFromPending(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())

	if err := registry.Fail(session.ID, "engine init failed"); err != nil {
		t.Fatalf("Fail() from pending error = %v", err)
	}
	got, _ := registry.Get(session.ID)
	if got.Status != StatusError || got.Error != "engine init failed" {
		t.Errorf("session = %+v, want error state with message", got)
	}
}

func TestRegistryProgressAfterTerminalIsDropped(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())
	_ = registry.MarkRunning(session.ID)

	snap := research.Snapshot{TotalQueries: 4, CompletedQueries: 2}
	if err := registry.UpdateProgress(session.ID, snap); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	_ = registry.Complete(session.ID, &Result{})

	late := research.Snapshot{TotalQueries: 8, CompletedQueries: 8}
	if err := registry.UpdateProgress(session.ID, late); err != nil {
		t.Fatalf("UpdateProgress() after terminal error = %v, want silent drop", err)
	}

	got, _ := registry.Get(session.ID)
	if got.Progress == nil {
		t.Fatal("snapshot cleared after completion, want retained")
	}
	if got.Progress.TotalQueries != 4 {
		t.Errorf("snapshot overwritten after terminal: %+v", got.Progress)
	}
}

func TestRegistryGetReturnsCopies(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())
	_ = registry.MarkRunning(session.ID)
	_ = registry.Complete(session.ID, &Result{Findings: []string{"original"}})

	got, _ := registry.Get(session.ID)
	got.Result.Findings[0] = "mutated"

	again, _ := registry.Get(session.ID)
	if again.Result.Findings[0] != "original" {
		t.Error("mutating a returned session leaked into the registry")
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	registry := NewRegistry()
	first := registry.Create(testParams())
	time.Sleep(2 * time.Millisecond)
	second := registry.Create(testParams())

	sessions := registry.List()
	if len(sessions) != 2 {
		t.Fatalf("List() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Error("sessions not ordered newest first")
	}
}

func TestRegistryConcurrentReadsDuringWrites(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())
	_ = registry.MarkRunning(session.ID)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = registry.UpdateProgress(session.ID, research.Snapshot{TotalQueries: i + 1, CompletedQueries: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			got, err := registry.Get(session.ID)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			if got.Progress != nil && got.Progress.CompletedQueries > got.Progress.TotalQueries {
				t.Errorf("torn snapshot read: %+v", got.Progress)
				return
			}
		}
	}()
	wg.Wait()
}

func TestRegistryLogCapture(t *testing.T) {
	registry := NewRegistry()
	session := registry.Create(testParams())

	for i := 0; i < maxSessionLogs+10; i++ {
		if err := registry.AppendLog(session.ID, LogEntry{Message: "entry", Level: "INFO"}); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	logs, err := registry.Logs(session.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != maxSessionLogs {
		t.Errorf("got %d log entries, want capped at %d", len(logs), maxSessionLogs)
	}

	if _, err := registry.Logs("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Logs(unknown) error = %v, want ErrNotFound", err)
	}
}
