package turnrunner

import (
	"sync"
	"time"

	"github.com/tronrun/tron/pkg/models"
)

// SubagentState is the lifecycle state of one spawned run.
type SubagentState string

const (
	SubagentRunning   SubagentState = "running"
	SubagentCompleted SubagentState = "completed"
	SubagentFailed    SubagentState = "failed"
	SubagentTimedOut  SubagentState = "timed_out"
)

// SubagentRunRecord tracks one SpawnSubagent call from start to terminal
// state, grounded on the teacher's subagent run registry.
type SubagentRunRecord struct {
	RunID              string
	RequesterSessionID string
	ChildSessionID     string
	SpawnType          models.SpawnType
	Task               string
	State              SubagentState
	StartedAt          time.Time
	CompletedAt        time.Time
	Deadline           time.Time
	Result             string
	Err                string
}

// SubAgentTracker is a thread-safe registry of in-flight and completed
// subagent runs, with a background sweep that times out runs past their
// deadline.
type SubAgentTracker struct {
	mu             sync.RWMutex
	runs           map[string]*SubagentRunRecord
	defaultTimeout time.Duration
}

func NewSubAgentTracker(defaultTimeout time.Duration) *SubAgentTracker {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Minute
	}
	return &SubAgentTracker{
		runs:           make(map[string]*SubagentRunRecord),
		defaultTimeout: defaultTimeout,
	}
}

func (t *SubAgentTracker) Register(rec *SubagentRunRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[rec.RunID] = rec
}

func (t *SubAgentTracker) Complete(runID, result string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.runs[runID]
	if !ok {
		return
	}
	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.State = SubagentFailed
		rec.Err = err.Error()
	} else {
		rec.State = SubagentCompleted
		rec.Result = result
	}
}

// Get returns a defensive copy of a run's current record.
func (t *SubAgentTracker) Get(runID string) (SubagentRunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.runs[runID]
	if !ok {
		return SubagentRunRecord{}, false
	}
	return *rec, true
}

// ListForRequester returns every run a given session has spawned.
func (t *SubAgentTracker) ListForRequester(sessionID string) []SubagentRunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []SubagentRunRecord
	for _, rec := range t.runs {
		if rec.RequesterSessionID == sessionID {
			out = append(out, *rec)
		}
	}
	return out
}

// CheckTimeouts marks every still-running record whose deadline has passed
// as timed out. It is the cron-scheduled sweep's body.
func (t *SubAgentTracker) CheckTimeouts() {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.runs {
		if rec.State == SubagentRunning && !rec.Deadline.IsZero() && now.After(rec.Deadline) {
			rec.State = SubagentTimedOut
			rec.CompletedAt = now
			rec.Err = "subagent run exceeded its timeout"
		}
	}
}

func isTerminal(s SubagentState) bool {
	return s == SubagentCompleted || s == SubagentFailed || s == SubagentTimedOut
}
