package server

import (
	"log/slog"
	"sync"

	"github.com/mikeboe/deep-research/pkg/research"
)

type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is the tagged union delivered over a session's live channel. Exactly
// one payload field is set, selected by Type.
type Event struct {
	Type     EventType          `json:"type"`
	Snapshot *research.Snapshot `json:"snapshot,omitempty"`
	Result   *Result            `json:"result,omitempty"`
	Message  string             `json:"message,omitempty"`
}

func ProgressEvent(snap research.Snapshot) Event {
	return Event{Type: EventProgress, Snapshot: &snap}
}

func CompletedEvent(result *Result) Event {
	return Event{Type: EventCompleted, Result: result}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Broadcaster is the session-scoped publish/subscribe hub. Delivery is
// at-most-current: no buffering beyond the subscriber's own channel, no
// retry, no replay of missed events. A subscriber attaching mid-session (or
// after completion) receives one event representing the session's current
// state, then live updates.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		subs:     make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers ch for the session's events after replaying the
// current state into it. The channel should be buffered; a full channel
// simply misses events. Returns ErrNotFound for an unknown session.
//
// The replay and the registration happen under the same lock Publish takes,
// so a subscriber never observes an update older than its replay.
func (b *Broadcaster) Subscribe(sessionID string, ch chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, err := b.registry.Get(sessionID)
	if err != nil {
		return err
	}

	b.send(sessionID, ch, replayEvent(session))

	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	return nil
}

// Unsubscribe removes the channel. Safe to call multiple times.
func (b *Broadcaster) Unsubscribe(sessionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sessionID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
}

// Publish fans the event out to all currently registered subscribers of the
// session, best effort. Zero subscribers is not an error.
func (b *Broadcaster) Publish(sessionID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[sessionID] {
		b.send(sessionID, ch, event)
	}
}

func (b *Broadcaster) send(sessionID string, ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.logger.Debug("Dropping event for slow subscriber", "session_id", sessionID, "event", event.Type)
	}
}

// replayEvent synthesizes the single event a new subscriber receives: the
// terminal event if the session already finished, the last snapshot if it is
// running, or a zeroed snapshot if no work has started yet.
func replayEvent(session Session) Event {
	switch {
	case session.Status == StatusCompleted:
		return CompletedEvent(session.Result)
	case session.Status == StatusError:
		return ErrorEvent(session.Error)
	case session.Progress != nil:
		return ProgressEvent(*session.Progress)
	default:
		return ProgressEvent(research.Snapshot{
			CurrentDepth:   session.Params.Depth,
			TotalDepth:     session.Params.Depth,
			CurrentBreadth: session.Params.Breadth,
			TotalBreadth:   session.Params.Breadth,
		})
	}
}
