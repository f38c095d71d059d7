package turnrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/internal/observability"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/sessioncore"
	"github.com/tronrun/tron/pkg/models"
)

// SubagentDeniedTools lists the tool names a subagent session is never
// allowed to invoke, preventing a subagent from spawning further subagents.
var SubagentDeniedTools = map[string]bool{
	"spawn_subagent":  true,
	"query_agent":     true,
	"wait_for_agents": true,
}

// SpawnRequest is the input to SpawnSubagent.
type SpawnRequest struct {
	RequesterSessionID string
	Task               string
	SpawnType          models.SpawnType
	Model              string
	WorkingDirectory   string
	ForkFromEventID    string // only honored when SpawnType == models.SpawnFork
	Timeout            time.Duration
}

// SessionFactory builds and drives a child session's own turn runner given
// its SpawnRequest and freshly-created models.Session. It returns the
// subagent's final textual result. Supplied by cmd/tron, since it must wire
// a Provider and toolexec.Executor for the child session.
type SessionFactory func(ctx context.Context, req SpawnRequest, child *models.Session) (string, error)

// WaitMode controls WaitForAgents' completion semantics.
type WaitMode string

const (
	WaitAll WaitMode = "all"
	WaitAny WaitMode = "any"
)

// WaitResult is what WaitForAgents returns.
type WaitResult struct {
	Completed []SubagentRunRecord
	Pending   []string
	TimedOut  bool
}

// Orchestrator implements Subagent Orchestration (§4.5): SpawnSubagent,
// QueryAgent and WaitForAgents, grounded on the teacher's subagent run
// registry (internal/multiagent/subagent_registry.go) generalized into a
// first-class API instead of an internal bookkeeping struct.
type Orchestrator struct {
	controller *sessioncore.Controller
	tracker    *SubAgentTracker
	factory    SessionFactory
	emitter    *eventbus.Emitter
	logger     *observability.Logger
	cron       *cron.Cron
}

// NewOrchestrator wires a periodic cron sweep (every 30s) that marks
// past-deadline runs as timed out, the way the teacher's scheduler runs
// recurring maintenance jobs.
func NewOrchestrator(controller *sessioncore.Controller, factory SessionFactory, emitter *eventbus.Emitter, logger *observability.Logger) *Orchestrator {
	o := &Orchestrator{
		controller: controller,
		tracker:    NewSubAgentTracker(30 * time.Minute),
		factory:    factory,
		emitter:    emitter,
		logger:     logger,
		cron:       cron.New(),
	}
	_, _ = o.cron.AddFunc("@every 30s", o.tracker.CheckTimeouts)
	o.cron.Start()
	return o
}

// Stop halts the timeout-sweep cron.
func (o *Orchestrator) Stop() { o.cron.Stop() }

// SpawnSubagent creates a child session per req.SpawnType and dispatches it
// through the factory. subsession and fork spawns race the caller's
// context; tmux spawns are fire-and-forget against a detached context,
// since a tmux pane outlives the requesting turn.
func (o *Orchestrator) SpawnSubagent(ctx context.Context, req SpawnRequest) (*SubagentRunRecord, error) {
	requester, err := o.controller.GetState(ctx, req.RequesterSessionID)
	if err != nil {
		return nil, err
	}
	if requester.IsSubagent() {
		return nil, runtimeerr.New(runtimeerr.CategoryToolBlocked, runtimeerr.ErrSubagentSpawnDenied)
	}

	childID := uuid.NewString()
	child := &models.Session{
		ID:                childID,
		WorkspaceID:       requester.WorkspaceID,
		AgentID:           requester.AgentID,
		Channel:           requester.Channel,
		ChannelID:         requester.ChannelID,
		Title:             req.Task,
		LatestModel:       req.Model,
		WorkingDirectory:  req.WorkingDirectory,
		SpawningSessionID: req.RequesterSessionID,
		SpawnType:         req.SpawnType,
		SpawnTask:         req.Task,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if child.LatestModel == "" {
		child.LatestModel = requester.LatestModel
	}
	if child.WorkingDirectory == "" {
		child.WorkingDirectory = requester.WorkingDirectory
	}

	if req.SpawnType == models.SpawnFork {
		if req.ForkFromEventID == "" {
			return nil, runtimeerr.New(runtimeerr.CategoryToolBlocked, fmt.Errorf("fork spawn requires ForkFromEventID"))
		}
		child.ParentSessionID = req.RequesterSessionID
		child.ForkFromEventID = req.ForkFromEventID
		if err := o.controller.Fork(ctx, req.RequesterSessionID, req.ForkFromEventID, childID); err != nil {
			return nil, err
		}
	}

	if err := o.controller.CreateSession(ctx, child); err != nil {
		return nil, err
	}
	o.controller.Activate(child)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.tracker.defaultTimeout
	}
	rec := &SubagentRunRecord{
		RunID:              uuid.NewString(),
		RequesterSessionID: req.RequesterSessionID,
		ChildSessionID:     childID,
		SpawnType:          req.SpawnType,
		Task:               req.Task,
		State:              SubagentRunning,
		StartedAt:          time.Now().UTC(),
		Deadline:           time.Now().UTC().Add(timeout),
	}
	o.tracker.Register(rec)

	runID := rec.RunID
	dispatch := func(runCtx context.Context) {
		result, runErr := o.factory(runCtx, req, child)
		o.tracker.Complete(runID, result, runErr)
		_ = o.controller.Deactivate(context.Background(), childID)
	}

	switch req.SpawnType {
	case models.SpawnTmux:
		go dispatch(context.Background())
	default:
		runCtx, cancel := context.WithTimeout(detach(ctx), timeout)
		go func() {
			defer cancel()
			dispatch(runCtx)
		}()
	}

	return rec, nil
}

// QueryAgent returns the current record for a previously spawned run.
func (o *Orchestrator) QueryAgent(runID string) (SubagentRunRecord, bool) {
	return o.tracker.Get(runID)
}

// WaitForAgents blocks (bounded by timeout) until every listed run is
// terminal (WaitAll) or at least one is (WaitAny).
func (o *Orchestrator) WaitForAgents(ctx context.Context, runIDs []string, mode WaitMode, timeout time.Duration) WaitResult {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		completed, pending := o.snapshot(runIDs)
		if mode == WaitAny && len(completed) > 0 {
			return WaitResult{Completed: completed, Pending: pending}
		}
		if mode == WaitAll && len(pending) == 0 {
			return WaitResult{Completed: completed}
		}
		if timeout > 0 && time.Now().After(deadline) {
			return WaitResult{Completed: completed, Pending: pending, TimedOut: true}
		}
		select {
		case <-ctx.Done():
			return WaitResult{Completed: completed, Pending: pending, TimedOut: true}
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) snapshot(runIDs []string) (completed []SubagentRunRecord, pending []string) {
	for _, id := range runIDs {
		rec, ok := o.tracker.Get(id)
		if !ok {
			continue
		}
		if isTerminal(rec.State) {
			completed = append(completed, rec)
		} else {
			pending = append(pending, id)
		}
	}
	return completed, pending
}

// detach strips ctx's cancellation while keeping its values, so a
// subsession/fork spawn isn't killed outright by the parent turn ending but
// is still bounded by its own per-run timeout.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
