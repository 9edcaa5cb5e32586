package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PhaseTracker holds the five user-facing phases of one request.
//
// A completed phase never moves back to pending or in_progress. Skipping only
// applies to phases that have not started (pending or in_progress).
type PhaseTracker struct {
	mu       sync.RWMutex
	phases   []Phase
	onChange func(Phase)
	now      func() time.Time
}

// NewPhaseTracker returns a tracker with every phase pending.
func NewPhaseTracker() *PhaseTracker {
	t := &PhaseTracker{now: func() time.Time { return time.Now().UTC() }}
	ts := t.now()
	for _, id := range PhaseOrder {
		t.phases = append(t.phases, Phase{ID: id, Title: id.Title(), Status: PhasePending, UpdatedAt: ts})
	}
	return t
}

// RestorePhaseTracker rebuilds a tracker from a saved phase list. Unknown or
// missing entries fall back to pending.
func RestorePhaseTracker(saved []Phase) *PhaseTracker {
	t := NewPhaseTracker()
	for _, p := range saved {
		idx := t.index(p.ID)
		if idx < 0 || p.Status.Validate() != nil {
			continue
		}
		t.phases[idx].Status = p.Status
		t.phases[idx].Detail = p.Detail
		if !p.UpdatedAt.IsZero() {
			t.phases[idx].UpdatedAt = p.UpdatedAt
		}
	}
	return t
}

// OnChange registers a callback invoked after every applied transition.
func (t *PhaseTracker) OnChange(fn func(Phase)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *PhaseTracker) index(id PhaseID) int {
	for i, p := range t.phases {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// allowed reports whether from → to is a legal transition.
func allowed(from, to PhaseStatus) bool {
	if from == PhaseCompleted && (to == PhasePending || to == PhaseInProgress) {
		return false
	}
	if to == PhaseSkipped {
		return from.IsNotStarted() || from == PhaseSkipped
	}
	return true
}

// Set moves a phase to status. It returns false when the transition is refused.
// An empty detail keeps the existing detail.
func (t *PhaseTracker) Set(id PhaseID, status PhaseStatus, detail string) bool {
	t.mu.Lock()
	idx := t.index(id)
	if idx < 0 || !allowed(t.phases[idx].Status, status) {
		t.mu.Unlock()
		return false
	}
	p := &t.phases[idx]
	p.Status = status
	if detail != "" {
		p.Detail = detail
	}
	p.UpdatedAt = t.now()
	changed := *p
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(changed)
	}
	return true
}

// SkipRemaining marks every phase after from that has not started as skipped.
func (t *PhaseTracker) SkipRemaining(from PhaseID, detail string) {
	t.mu.RLock()
	start := t.index(from)
	var targets []PhaseID
	if start >= 0 {
		for _, p := range t.phases[start+1:] {
			if p.Status.IsNotStarted() {
				targets = append(targets, p.ID)
			}
		}
	}
	t.mu.RUnlock()

	for _, id := range targets {
		t.Set(id, PhaseSkipped, detail)
	}
}

// Get returns a copy of the phase.
func (t *PhaseTracker) Get(id PhaseID) (Phase, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.index(id)
	if idx < 0 {
		return Phase{}, false
	}
	return t.phases[idx], true
}

// Status returns the status of a phase.
func (t *PhaseTracker) Status(id PhaseID) PhaseStatus {
	p, _ := t.Get(id)
	return p.Status
}

// Snapshot returns a copy of every phase, in order.
func (t *PhaseTracker) Snapshot() []Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}

// FirstWithStatus returns the first phase whose status is in statuses.
func (t *PhaseTracker) FirstWithStatus(statuses ...PhaseStatus) (PhaseID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.phases {
		for _, s := range statuses {
			if p.Status == s {
				return p.ID, true
			}
		}
	}
	return "", false
}

// FirstStalled returns the first phase a resume may re-enter.
func (t *PhaseTracker) FirstStalled() (PhaseID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.phases {
		if p.Status.IsStalled() {
			return p.ID, true
		}
	}
	return "", false
}

// MarshalJSON encodes the tracker as its phase list.
func (t *PhaseTracker) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// UnmarshalJSON decodes a phase list into the tracker.
func (t *PhaseTracker) UnmarshalJSON(data []byte) error {
	var phases []Phase
	if err := json.Unmarshal(data, &phases); err != nil {
		return fmt.Errorf("failed to decode phases: %w", err)
	}
	restored := RestorePhaseTracker(phases)
	t.mu.Lock()
	t.phases = restored.phases
	if t.now == nil {
		t.now = restored.now
	}
	t.mu.Unlock()
	return nil
}
