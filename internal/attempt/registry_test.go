package attempt

import (
	"testing"
	"time"
)

func TestRegistrySweepTerminal(t *testing.T) {
	r := NewRegistry()
	r.Add(&Session{ID: "live", state: StateInProgress})
	r.Add(&Session{ID: "done", state: StateSubmitted})
	r.Add(&Session{ID: "broken", state: StateFailed})

	if got := r.SweepTerminal(); got != 2 {
		t.Fatalf("expected 2 swept, got %d", got)
	}
	if _, ok := r.Get("live"); !ok {
		t.Fatal("in-progress session must survive the sweep")
	}
	if _, ok := r.Get("done"); ok {
		t.Fatal("submitted session should be gone")
	}
	if _, ok := r.Get("broken"); ok {
		t.Fatal("failed session should be gone")
	}
}

func TestRegistrySweeperEvictsTerminalSessions(t *testing.T) {
	r := NewRegistry()
	stop := r.StartSweeper(5 * time.Millisecond)
	defer stop()

	r.Add(&Session{ID: "done", state: StateSubmitted})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.Get("done"); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("terminal session was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
