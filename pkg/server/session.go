package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	ErrNotFound      = errors.New("session not found")
	ErrTerminalState = errors.New("session already in a terminal state")
)

// SessionParams is the fully resolved configuration of one research session,
// fixed at creation time and never re-read mid-session.
type SessionParams struct {
	Query             string              `json:"query"`
	Breadth           int                 `json:"breadth"`
	Depth             int                 `json:"depth"`
	Concurrency       int                 `json:"concurrency"`
	FollowUpQuestions int                 `json:"followUpQuestions"`
	Model             clients.ModelConfig `json:"model"`
	AdditionalNotes   string              `json:"additionalNotes,omitempty"`
	MainPromptNotes   string              `json:"mainPromptNotes,omitempty"`
}

// Result is the outcome of a completed session. Report may be empty with
// ReportError set when the research succeeded but synthesis did not.
type Result struct {
	Findings    []string `json:"findings"`
	VisitedURLs []string `json:"visitedUrls"`
	Report      string   `json:"report,omitempty"`
	ReportError string   `json:"reportError,omitempty"`
}

// Session is one research job's lifecycle record. Result is non-nil iff the
// status is completed; Error is non-empty iff the status is error; the last
// progress snapshot is retained after completion.
type Session struct {
	ID        string             `json:"id"`
	Status    Status             `json:"status"`
	Params    SessionParams      `json:"params"`
	Progress  *research.Snapshot `json:"progress,omitempty"`
	Result    *Result            `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LogEntry is one captured log record of a session's background worker.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

const maxSessionLogs = 500

type sessionRecord struct {
	session Session
	logs    []LogEntry
}

// Registry maps session ids to their lifecycle records. Each session has
// exactly one concurrent writer (its background worker); the registry itself
// supports concurrent polling reads interleaved with those writes and
// concurrent creation of unrelated sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionRecord)}
}

// Create initializes a pending session and returns a snapshot of it.
func (r *Registry) Create(params SessionParams) Session {
	now := time.Now().UTC()
	session := Session{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = &sessionRecord{session: session}
	r.mu.Unlock()

	return session
}

// Get returns a defensive snapshot of the session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(rec.session), nil
}

// List returns snapshots of all sessions, newest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		sessions = append(sessions, cloneSession(rec.session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// MarkRunning transitions pending -> in_progress.
func (r *Registry) MarkRunning(id string) error {
	return r.mutate(id, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrTerminalState
		}
		s.Status = StatusInProgress
		return nil
	})
}

// UpdateProgress overwrites the stored snapshot, last write wins. Updates
// racing past a terminal transition are dropped silently: the final state
// already represents the session.
func (r *Registry) UpdateProgress(id string, snap research.Snapshot) error {
	return r.mutate(id, func(s *Session) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Progress = &snap
		return nil
	})
}

// Complete transitions the session to its successful terminal state.
func (r *Registry) Complete(id string, result *Result) error {
	return r.mutate(id, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrTerminalState
		}
		s.Status = StatusCompleted
		s.Result = result
		return nil
	})
}

// Fail transitions the session to its error terminal state. Valid from both
// pending and in_progress.
func (r *Registry) Fail(id string, message string) error {
	return r.mutate(id, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrTerminalState
		}
		s.Status = StatusError
		s.Error = message
		return nil
	})
}

// AppendLog records one worker log entry, keeping at most maxSessionLogs.
func (r *Registry) AppendLog(id string, entry LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	rec.logs = append(rec.logs, entry)
	if len(rec.logs) > maxSessionLogs {
		rec.logs = rec.logs[len(rec.logs)-maxSessionLogs:]
	}
	return nil
}

// Logs returns a copy of the captured log entries for a session.
func (r *Registry) Logs(id string) ([]LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]LogEntry{}, rec.logs...), nil
}

func (r *Registry) mutate(id string, apply func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if err := apply(&rec.session); err != nil {
		return err
	}
	rec.session.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneSession(s Session) Session {
	if s.Progress != nil {
		snap := *s.Progress
		s.Progress = &snap
	}
	if s.Result != nil {
		result := Result{
			Findings:    append([]string{}, s.Result.Findings...),
			VisitedURLs: append([]string{}, s.Result.VisitedURLs...),
			Report:      s.Result.Report,
			ReportError: s.Result.ReportError,
		}
		s.Result = &result
	}
	return s
}
