package sessioncore

import (
	"context"
	"sync"
	"time"

	"github.com/tronrun/tron/pkg/models"
)

// TodoItem is one entry of a session's in-progress task list, written by the
// TodoWrite tool and surfaced back through GetState.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// TodoTracker holds the current todo list for one active session.
type TodoTracker struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoTracker() *TodoTracker { return &TodoTracker{} }

func (t *TodoTracker) Set(items []TodoItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append([]TodoItem(nil), items...)
}

func (t *TodoTracker) Get() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TodoItem(nil), t.items...)
}

// SessionContext is the per-session handle the Turn Runner drives: it
// buffers events for a turn and flushes them through the session's chain so
// they land on the durable log in the order they were produced, exposes the
// chain directly for compound operations (model switch, subagent spawn),
// and tracks whether a turn is currently in flight.
type SessionContext struct {
	sessionID string
	chain     *Chain
	log       EventLog

	mu           sync.Mutex
	buffer       []models.Event
	processing   bool
	currentRunID string
}

func newSessionContext(sessionID string, chain *Chain, log EventLog) *SessionContext {
	return &SessionContext{sessionID: sessionID, chain: chain, log: log}
}

// AppendEvent buffers ev for the next FlushEvents call. It does not touch
// the log directly — buffering lets a turn batch several events (tool call,
// tool result, response_complete) into one chain acquisition.
func (sc *SessionContext) AppendEvent(ev models.Event) {
	ev.SessionID = sc.sessionID
	sc.mu.Lock()
	sc.buffer = append(sc.buffer, ev)
	sc.mu.Unlock()
}

// FlushEvents drains the buffer, appending every event to the log in order
// while holding the session's chain, so no other writer can interleave.
func (sc *SessionContext) FlushEvents(ctx context.Context) error {
	sc.mu.Lock()
	pending := sc.buffer
	sc.buffer = nil
	sc.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return sc.chain.Run(ctx, sc.sessionID, "session-context", func(ctx context.Context) error {
		for _, ev := range pending {
			if _, err := sc.log.Append(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunInChain serializes fn against every other chain user for this session
// (other Append/DeleteMessage/FlushEvents/model-switch calls).
func (sc *SessionContext) RunInChain(ctx context.Context, fn func(ctx context.Context) error) error {
	return sc.chain.Run(ctx, sc.sessionID, "session-context", fn)
}

func (sc *SessionContext) SetProcessing(processing bool, runID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.processing = processing
	if processing {
		sc.currentRunID = runID
	} else {
		sc.currentRunID = ""
	}
}

func (sc *SessionContext) IsProcessing() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.processing
}

func (sc *SessionContext) CurrentRunID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.currentRunID
}

// ActiveSession is the record an in-memory, currently-loaded session is
// tracked by (§4.5): identity plus the mutable fields the Turn Runner reads
// and writes turn over turn.
type ActiveSession struct {
	ID      string
	Context *SessionContext

	mu               sync.Mutex
	agent            string
	model            string
	workingDirectory string
	lastActivity     time.Time
	todos            *TodoTracker
}

func newActiveSession(id string, chain *Chain, log EventLog, agent, model, workingDirectory string) *ActiveSession {
	return &ActiveSession{
		ID:               id,
		Context:          newSessionContext(id, chain, log),
		agent:            agent,
		model:            model,
		workingDirectory: workingDirectory,
		lastActivity:     time.Now().UTC(),
		todos:            NewTodoTracker(),
	}
}

// Touch records turn activity, used by idle-session eviction.
func (a *ActiveSession) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now().UTC()
}

func (a *ActiveSession) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

func (a *ActiveSession) Agent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent
}

func (a *ActiveSession) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// SetModel updates the active session's current model, used by the atomic
// model-switch sequence.
func (a *ActiveSession) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
}

func (a *ActiveSession) WorkingDirectory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workingDirectory
}

func (a *ActiveSession) Todos() *TodoTracker { return a.todos }
