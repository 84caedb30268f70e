package research

import "sync"

// Snapshot is an immutable point-in-time view of a session's progress
// counters. CurrentDepth counts down from TotalDepth as the recursion
// descends; TotalQueries grows as new branches are discovered during the
// walk, so CompletedQueries <= TotalQueries holds for every snapshot.
type Snapshot struct {
	CurrentDepth     int    `json:"currentDepth"`
	TotalDepth       int    `json:"totalDepth"`
	CurrentBreadth   int    `json:"currentBreadth"`
	TotalBreadth     int    `json:"totalBreadth"`
	CurrentQuery     string `json:"currentQuery,omitempty"`
	TotalQueries     int    `json:"totalQueries"`
	CompletedQueries int    `json:"completedQueries"`
}

// Tracker is the per-session mutable counter structure updated as work units
// start and finish. Every mutation emits a snapshot copy through OnUpdate.
// OnUpdate runs under the tracker lock so snapshots are delivered in the
// order they were produced; it must not call back into the tracker.
type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	OnUpdate func(Snapshot)
}

func NewTracker(totalDepth, totalBreadth int, onUpdate func(Snapshot)) *Tracker {
	return &Tracker{
		snap: Snapshot{
			CurrentDepth:   totalDepth,
			TotalDepth:     totalDepth,
			CurrentBreadth: totalBreadth,
			TotalBreadth:   totalBreadth,
		},
		OnUpdate: onUpdate,
	}
}

// AddQueries records n newly scheduled branches. TotalQueries only ever
// grows: follow-up counts are data-dependent and discovered mid-walk.
func (t *Tracker) AddQueries(n int) {
	t.update(func(s *Snapshot) {
		s.TotalQueries += n
	})
}

// StartQuery marks one branch as in flight at the given recursion position.
func (t *Tracker) StartQuery(query string, depth, breadth int) {
	t.update(func(s *Snapshot) {
		s.CurrentQuery = query
		s.CurrentDepth = depth
		s.CurrentBreadth = breadth
	})
}

// FinishQuery records the completion of one unit of work, whether the branch
// succeeded or was skipped after an upstream failure.
func (t *Tracker) FinishQuery() {
	t.update(func(s *Snapshot) {
		s.CompletedQueries++
	})
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) update(mutate func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mutate(&t.snap)
	if t.OnUpdate != nil {
		t.OnUpdate(t.snap)
	}
}
