// Package eventbus provides the in-process, synchronous fan-out of typed
// agent events to registered listeners (the Event Emitter, C1).
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tronrun/tron/internal/observability"
)

// Listener receives every event emitted on the bus. Implementations must be
// safe to call repeatedly; a listener that panics or returns is isolated
// from the others by Emitter.emit.
type Listener func(Event)

// Emitter fans an Event out to N registered listeners in registration order,
// synchronously: delivery for one emit completes for listener i before
// listener i+1 is invoked, and a failing listener never prevents delivery to
// the rest.
type Emitter struct {
	mu        sync.RWMutex
	listeners []namedListener
	seq       uint64
	turn      int
	iter      int
	sessionID string
	logger    *observability.Logger
}

type namedListener struct {
	id       int
	listener Listener
}

// NewEmitter creates an Emitter for a given session id. logger may be nil,
// in which case listener panics are still recovered but not logged.
func NewEmitter(sessionID string, logger *observability.Logger) *Emitter {
	return &Emitter{sessionID: sessionID, logger: logger}
}

// SetTurn records the current turn index, stamped onto subsequently built
// events.
func (e *Emitter) SetTurn(turn int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turn = turn
}

// SetIter records the current agentic-loop iteration index.
func (e *Emitter) SetIter(iter int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iter = iter
}

// Add registers a listener and returns an id usable with Remove.
func (e *Emitter) Add(l Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := len(e.listeners) + 1
	e.listeners = append(e.listeners, namedListener{id: id, listener: l})
	return id
}

// Remove unregisters a listener by the id returned from Add.
func (e *Emitter) Remove(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, nl := range e.listeners {
		if nl.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Count returns the number of currently registered listeners.
func (e *Emitter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Clear removes every registered listener.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
}

func (e *Emitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.seq, 1)
}

func (e *Emitter) base(typ EventType) Event {
	e.mu.RLock()
	turn, iter := e.turn, e.iter
	e.mu.RUnlock()
	return Event{
		Type:      typ,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Sequence:  e.nextSeq(),
		Turn:      turn,
		Iter:      iter,
	}
}

// Emit delivers ev to every listener in registration order. A listener that
// panics is recovered and logged; delivery continues to the remaining
// listeners. Emit is synchronous: it does not return until every listener
// has been invoked (or has panicked).
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	listeners := make([]namedListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, nl := range listeners {
		e.deliverOne(nl, ev)
	}
}

func (e *Emitter) deliverOne(nl namedListener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error(context.Background(), "event listener panicked",
					"listener_id", nl.id, "event_type", ev.Type, "panic", fmt.Sprintf("%v", r))
			}
		}
	}()
	nl.listener(ev)
}

// Typed emit helpers, one per event variant the core produces (§4.1).

func (e *Emitter) TurnStart(turn int) {
	ev := e.base(EventTurnStart)
	ev.Turn = turn
	e.Emit(ev)
}

func (e *Emitter) TurnEnd(turn int, durationMS int64) {
	ev := e.base(EventTurnEnd)
	ev.Turn = turn
	ev.DurationMS = durationMS
	e.Emit(ev)
}

func (e *Emitter) AgentEnd() { e.Emit(e.base(EventAgentEnd)) }

func (e *Emitter) AgentInterrupted(partial string) {
	ev := e.base(EventAgentInterrupted)
	ev.Text = partial
	e.Emit(ev)
}

func (e *Emitter) MessageUpdate(delta string) {
	ev := e.base(EventMessageUpdate)
	ev.Text = delta
	e.Emit(ev)
}

func (e *Emitter) ThinkingStart() { e.Emit(e.base(EventThinkingStart)) }

func (e *Emitter) ThinkingDelta(delta string) {
	ev := e.base(EventThinkingDelta)
	ev.Text = delta
	e.Emit(ev)
}

func (e *Emitter) ThinkingEnd(full string) {
	ev := e.base(EventThinkingEnd)
	ev.Text = full
	e.Emit(ev)
}

func (e *Emitter) TextStart() { e.Emit(e.base(EventTextStart)) }

func (e *Emitter) TextEnd(full string) {
	ev := e.base(EventTextEnd)
	ev.Text = full
	e.Emit(ev)
}

func (e *Emitter) ToolUseBatch(callIDs []string) {
	ev := e.base(EventToolUseBatch)
	ev.ToolCallIDs = callIDs
	e.Emit(ev)
}

func (e *Emitter) ToolExecutionStart(callID, name string, args []byte) {
	ev := e.base(EventToolExecutionStart)
	ev.ToolCallID = callID
	ev.ToolName = name
	ev.ArgsJSON = args
	e.Emit(ev)
}

func (e *Emitter) ToolExecutionUpdate(callID string, chunk string) {
	ev := e.base(EventToolExecutionUpdate)
	ev.ToolCallID = callID
	ev.Text = chunk
	e.Emit(ev)
}

func (e *Emitter) ToolExecutionEnd(callID string, durationMS int64, isError bool, result string) {
	ev := e.base(EventToolExecutionEnd)
	ev.ToolCallID = callID
	ev.DurationMS = durationMS
	ev.IsError = isError
	ev.Text = result
	e.Emit(ev)
}

func (e *Emitter) HookTriggered(hookType string, names []string) {
	ev := e.base(EventHookTriggered)
	ev.HookType = hookType
	ev.HookNames = names
	e.Emit(ev)
}

func (e *Emitter) HookCompleted(hookType string) {
	ev := e.base(EventHookCompleted)
	ev.HookType = hookType
	e.Emit(ev)
}

func (e *Emitter) ResponseComplete(hasToolCalls bool, inTok, outTok int) {
	ev := e.base(EventResponseComplete)
	ev.HasToolCalls = hasToolCalls
	ev.InputTokens = inTok
	ev.OutputTokens = outTok
	e.Emit(ev)
}

func (e *Emitter) APIRetry(attempt, max int, delay time.Duration, errText string) {
	ev := e.base(EventAPIRetry)
	ev.Attempt = attempt
	ev.MaxAttempts = max
	ev.DelayMS = delay.Milliseconds()
	ev.Text = errText
	e.Emit(ev)
}

func (e *Emitter) CompactionStart(reason string) {
	ev := e.base(EventCompactionStart)
	ev.Reason = reason
	e.Emit(ev)
}

func (e *Emitter) CompactionComplete(success bool, tokensBefore, tokensAfter int) {
	ev := e.base(EventCompactionComplete)
	ev.IsError = !success
	ev.TokensBefore = tokensBefore
	ev.TokensAfter = tokensAfter
	e.Emit(ev)
}

func (e *Emitter) TodosUpdated() { e.Emit(e.base(EventTodosUpdated)) }

func (e *Emitter) TurnFailed(category, code, errText string, recoverable bool) {
	ev := e.base(EventTurnFailed)
	ev.Category = category
	ev.Code = code
	ev.Text = errText
	ev.Recoverable = recoverable
	e.Emit(ev)
}
