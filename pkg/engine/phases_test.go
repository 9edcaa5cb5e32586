package engine

import (
	"encoding/json"
	"testing"
)

func TestPhaseTracker_InitialState(t *testing.T) {
	tracker := NewPhaseTracker()
	phases := tracker.Snapshot()

	if len(phases) != 5 {
		t.Fatalf("Expected 5 phases, got %d", len(phases))
	}
	for i, id := range PhaseOrder {
		if phases[i].ID != id {
			t.Errorf("Expected phase %d to be %s, got %s", i, id, phases[i].ID)
		}
		if phases[i].Status != PhasePending {
			t.Errorf("Expected %s to be pending, got %s", id, phases[i].Status)
		}
		if phases[i].Title == "" {
			t.Errorf("Expected %s to have a title", id)
		}
	}
}

func TestPhaseTracker_CompletedNeverRegresses(t *testing.T) {
	tests := []struct {
		name   string
		to     PhaseStatus
		wantOK bool
	}{
		{"to pending", PhasePending, false},
		{"to in_progress", PhaseInProgress, false},
		{"to skipped", PhaseSkipped, false},
		{"to needs_input", PhaseNeedsInput, true},
		{"to failed", PhaseFailed, true},
		{"to completed", PhaseCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewPhaseTracker()
			tracker.Set(PhaseDesignPlan, PhaseCompleted, "done")

			ok := tracker.Set(PhaseDesignPlan, tt.to, "again")
			if ok != tt.wantOK {
				t.Errorf("Expected Set to return %v, got %v", tt.wantOK, ok)
			}
			want := PhaseCompleted
			if tt.wantOK {
				want = tt.to
			}
			if got := tracker.Status(PhaseDesignPlan); got != want {
				t.Errorf("Expected status %s, got %s", want, got)
			}
		})
	}
}

func TestPhaseTracker_SkipRemaining(t *testing.T) {
	tracker := NewPhaseTracker()
	tracker.Set(PhaseDesignPlan, PhaseCompleted, "")
	tracker.Set(PhaseNetworkingSecurity, PhaseFailed, "boom")
	tracker.Set(PhaseDeployApp, PhaseCompleted, "already deployed")
	tracker.Set(PhaseValidateHealth, PhaseInProgress, "")

	tracker.SkipRemaining(PhaseNetworkingSecurity, "Skipped after failure.")

	got := phaseStatuses(tracker.Snapshot())
	want := map[PhaseID]PhaseStatus{
		PhaseDesignPlan:         PhaseCompleted,
		PhaseNetworkingSecurity: PhaseFailed,
		PhaseComputeData:        PhaseSkipped,
		PhaseDeployApp:          PhaseCompleted,
		PhaseValidateHealth:     PhaseSkipped,
	}
	for id, status := range want {
		if got[id] != status {
			t.Errorf("Expected %s to be %s, got %s", id, status, got[id])
		}
	}
}

func TestPhaseTracker_EmptyDetailKeepsPrevious(t *testing.T) {
	tracker := NewPhaseTracker()
	tracker.Set(PhaseComputeData, PhaseInProgress, "creating")
	tracker.Set(PhaseComputeData, PhaseCompleted, "")

	p, _ := tracker.Get(PhaseComputeData)
	if p.Detail != "creating" {
		t.Errorf("Expected detail to be kept, got %q", p.Detail)
	}
}

func TestPhaseTracker_FirstStalled(t *testing.T) {
	tracker := NewPhaseTracker()
	for _, id := range PhaseOrder {
		tracker.Set(id, PhaseCompleted, "")
	}
	if _, ok := tracker.FirstStalled(); ok {
		t.Fatal("Expected no stalled phase when everything is completed")
	}

	tracker = NewPhaseTracker()
	tracker.Set(PhaseDesignPlan, PhaseCompleted, "")
	tracker.Set(PhaseNetworkingSecurity, PhaseCompleted, "")
	tracker.Set(PhaseComputeData, PhaseCompleted, "")
	tracker.Set(PhaseDeployApp, PhaseNeedsInput, "waiting")

	id, ok := tracker.FirstStalled()
	if !ok || id != PhaseDeployApp {
		t.Errorf("Expected deploy_app to be stalled, got %s (%v)", id, ok)
	}
}

func TestPhaseTracker_OnChange(t *testing.T) {
	tracker := NewPhaseTracker()
	var seen []Phase
	tracker.OnChange(func(p Phase) { seen = append(seen, p) })

	tracker.Set(PhaseDesignPlan, PhaseInProgress, "planning")
	tracker.Set(PhaseDesignPlan, PhaseCompleted, "planned")
	tracker.Set(PhaseDesignPlan, PhasePending, "refused")

	if len(seen) != 2 {
		t.Fatalf("Expected 2 change notifications, got %d", len(seen))
	}
	if seen[1].Status != PhaseCompleted || seen[1].Detail != "planned" {
		t.Errorf("Unexpected second notification: %+v", seen[1])
	}
}

func TestPhaseTracker_JSONRoundTrip(t *testing.T) {
	tracker := NewPhaseTracker()
	tracker.Set(PhaseDesignPlan, PhaseCompleted, "ok")
	tracker.Set(PhaseNetworkingSecurity, PhaseNeedsInput, "waiting")

	data, err := json.Marshal(tracker)
	if err != nil {
		t.Fatalf("Failed to marshal tracker: %v", err)
	}

	restored := NewPhaseTracker()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Failed to unmarshal tracker: %v", err)
	}
	if got := restored.Status(PhaseNetworkingSecurity); got != PhaseNeedsInput {
		t.Errorf("Expected needs_input after restore, got %s", got)
	}
	if p, _ := restored.Get(PhaseDesignPlan); p.Detail != "ok" {
		t.Errorf("Expected detail to survive restore, got %q", p.Detail)
	}
}

func TestRestorePhaseTracker_IgnoresUnknownEntries(t *testing.T) {
	restored := RestorePhaseTracker([]Phase{
		{ID: "bogus", Status: PhaseCompleted},
		{ID: PhaseComputeData, Status: "exploded"},
		{ID: PhaseDeployApp, Status: PhaseSkipped},
	})

	got := phaseStatuses(restored.Snapshot())
	if got[PhaseComputeData] != PhasePending {
		t.Errorf("Expected invalid status to fall back to pending, got %s", got[PhaseComputeData])
	}
	if got[PhaseDeployApp] != PhaseSkipped {
		t.Errorf("Expected deploy_app skipped, got %s", got[PhaseDeployApp])
	}
	if len(restored.Snapshot()) != 5 {
		t.Errorf("Expected 5 phases, got %d", len(restored.Snapshot()))
	}
}
