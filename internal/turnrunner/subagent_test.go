package turnrunner

import (
	"testing"
	"time"
)

func TestSubAgentTracker_RegisterAndComplete(t *testing.T) {
	tr := NewSubAgentTracker(time.Minute)
	rec := &SubagentRunRecord{RunID: "run-1", RequesterSessionID: "sess-1", State: SubagentRunning}
	tr.Register(rec)

	got, ok := tr.Get("run-1")
	if !ok || got.State != SubagentRunning {
		t.Fatalf("expected a running record, got %+v ok=%v", got, ok)
	}

	tr.Complete("run-1", "done", nil)
	got, ok = tr.Get("run-1")
	if !ok || got.State != SubagentCompleted || got.Result != "done" {
		t.Fatalf("expected a completed record with result, got %+v", got)
	}
}

func TestSubAgentTracker_CompleteWithError(t *testing.T) {
	tr := NewSubAgentTracker(time.Minute)
	tr.Register(&SubagentRunRecord{RunID: "run-1", State: SubagentRunning})

	tr.Complete("run-1", "", errBoom)
	got, _ := tr.Get("run-1")
	if got.State != SubagentFailed || got.Err == "" {
		t.Fatalf("expected a failed record with an error message, got %+v", got)
	}
}

func TestSubAgentTracker_ListForRequester(t *testing.T) {
	tr := NewSubAgentTracker(time.Minute)
	tr.Register(&SubagentRunRecord{RunID: "run-1", RequesterSessionID: "a"})
	tr.Register(&SubagentRunRecord{RunID: "run-2", RequesterSessionID: "a"})
	tr.Register(&SubagentRunRecord{RunID: "run-3", RequesterSessionID: "b"})

	runs := tr.ListForRequester("a")
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for requester a, got %d", len(runs))
	}
}

func TestSubAgentTracker_CheckTimeoutsMarksExpired(t *testing.T) {
	tr := NewSubAgentTracker(time.Minute)
	tr.Register(&SubagentRunRecord{
		RunID:    "run-1",
		State:    SubagentRunning,
		Deadline: time.Now().UTC().Add(-time.Second),
	})
	tr.Register(&SubagentRunRecord{
		RunID:    "run-2",
		State:    SubagentRunning,
		Deadline: time.Now().UTC().Add(time.Hour),
	})

	tr.CheckTimeouts()

	expired, _ := tr.Get("run-1")
	if expired.State != SubagentTimedOut {
		t.Fatalf("expected run-1 to time out, got %v", expired.State)
	}
	alive, _ := tr.Get("run-2")
	if alive.State != SubagentRunning {
		t.Fatalf("expected run-2 to still be running, got %v", alive.State)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := map[SubagentState]bool{
		SubagentRunning:   false,
		SubagentCompleted: true,
		SubagentFailed:    true,
		SubagentTimedOut:  true,
	}
	for state, want := range cases {
		if got := isTerminal(state); got != want {
			t.Fatalf("isTerminal(%v) = %v, want %v", state, got, want)
		}
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
