package turnrunner

import (
	"context"
	"testing"
	"time"

	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/sessioncore"
	"github.com/tronrun/tron/pkg/models"
)

func newTestOrchestrator(t *testing.T, factory SessionFactory) (*Orchestrator, *sessioncore.Controller) {
	t.Helper()
	controller := sessioncore.NewController(sessioncore.NewMemoryLog(), sessioncore.NewMemoryStore(), nil)
	t.Cleanup(controller.Close)
	o := NewOrchestrator(controller, factory, nil, nil)
	t.Cleanup(o.Stop)
	return o, controller
}

func TestOrchestrator_SpawnSubagentDeniedForSubagentRequester(t *testing.T) {
	o, controller := newTestOrchestrator(t, func(ctx context.Context, req SpawnRequest, child *models.Session) (string, error) {
		return "ok", nil
	})
	ctx := context.Background()

	requester := &models.Session{ID: "child-sess", SpawningSessionID: "root-sess"}
	if err := controller.CreateSession(ctx, requester); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err := o.SpawnSubagent(ctx, SpawnRequest{RequesterSessionID: "child-sess", Task: "t", SpawnType: models.SpawnSubsession})
	if err == nil {
		t.Fatal("expected spawn to be denied for a subagent requester")
	}
	rerr, ok := runtimeerr.As(err)
	if !ok || rerr.Category != runtimeerr.CategoryToolBlocked {
		t.Fatalf("expected CategoryToolBlocked, got %+v", err)
	}
}

func TestOrchestrator_SpawnSubagentAndWaitAll(t *testing.T) {
	done := make(chan struct{})
	o, controller := newTestOrchestrator(t, func(ctx context.Context, req SpawnRequest, child *models.Session) (string, error) {
		defer close(done)
		return "subagent result", nil
	})
	ctx := context.Background()

	requester := &models.Session{ID: "root-sess"}
	if err := controller.CreateSession(ctx, requester); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec, err := o.SpawnSubagent(ctx, SpawnRequest{
		RequesterSessionID: "root-sess",
		Task:               "investigate",
		SpawnType:          models.SpawnSubsession,
		Timeout:            5 * time.Second,
	})
	if err != nil {
		t.Fatalf("SpawnSubagent: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for factory dispatch")
	}

	result := o.WaitForAgents(ctx, []string{rec.RunID}, WaitAll, 2*time.Second)
	if len(result.Completed) != 1 || result.TimedOut {
		t.Fatalf("expected 1 completed run, got %+v", result)
	}
	if result.Completed[0].Result != "subagent result" {
		t.Fatalf("expected the factory's result to be recorded, got %q", result.Completed[0].Result)
	}

	queried, ok := o.QueryAgent(rec.RunID)
	if !ok || queried.State != SubagentCompleted {
		t.Fatalf("expected QueryAgent to report completed, got %+v ok=%v", queried, ok)
	}
}

func TestOrchestrator_WaitForAgentsTimesOutWhenNonePending(t *testing.T) {
	o, controller := newTestOrchestrator(t, func(ctx context.Context, req SpawnRequest, child *models.Session) (string, error) {
		select {}
	})
	ctx := context.Background()
	requester := &models.Session{ID: "root-sess"}
	if err := controller.CreateSession(ctx, requester); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec, err := o.SpawnSubagent(ctx, SpawnRequest{
		RequesterSessionID: "root-sess",
		Task:               "slow",
		SpawnType:          models.SpawnTmux,
		Timeout:            time.Hour,
	})
	if err != nil {
		t.Fatalf("SpawnSubagent: %v", err)
	}

	result := o.WaitForAgents(ctx, []string{rec.RunID}, WaitAll, 200*time.Millisecond)
	if !result.TimedOut {
		t.Fatal("expected WaitForAgents to time out while the run is still pending")
	}
}

func TestOrchestrator_ForkSpawnRequiresForkFromEventID(t *testing.T) {
	o, controller := newTestOrchestrator(t, func(ctx context.Context, req SpawnRequest, child *models.Session) (string, error) {
		return "", nil
	})
	ctx := context.Background()
	requester := &models.Session{ID: "root-sess"}
	if err := controller.CreateSession(ctx, requester); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err := o.SpawnSubagent(ctx, SpawnRequest{RequesterSessionID: "root-sess", Task: "t", SpawnType: models.SpawnFork})
	if err == nil {
		t.Fatal("expected an error when ForkFromEventID is missing")
	}
}
