package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of durable-log event. Unlike AgentEventType
// (the in-process streaming bus), these are the append-only log's record
// types — the set a session can be reconstructed from.
type EventType string

const (
	EventMessageUser      EventType = "message.user"
	EventMessageAssistant EventType = "message.assistant"
	EventMessageDeleted   EventType = "message.deleted"
	EventToolCall         EventType = "tool.call"
	EventToolResult       EventType = "tool.result"
	EventTurnStart        EventType = "turn_start"
	EventTurnEnd          EventType = "turn_end"
	EventResponseComplete EventType = "response_complete"
	EventModelSwitch      EventType = "config.model_switch"
	EventTodoWrite        EventType = "todo.write"
	EventMemoryLedger     EventType = "memory.ledger"
	EventCompactionStart  EventType = "compaction_start"
	EventCompactionDone   EventType = "compaction_complete"
	EventTurnFailed       EventType = "agent.turn_failed"
)

// Event is one immutable record in a session's durable, append-only log.
// Every event's ParentID points to whatever was the session's head at the
// moment of append, forming the linearization chain described by the
// Session/Event Controller.
type Event struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	ParentID    string          `json:"parent_id,omitempty"`
	Type        EventType       `json:"type"`
	Sequence    int64           `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MessageDeletedPayload is the payload of an EventMessageDeleted tombstone.
type MessageDeletedPayload struct {
	TargetEventID string `json:"target_event_id"`
	Reason        string `json:"reason,omitempty"`
}

// ModelSwitchPayload is the payload of an EventModelSwitch event.
type ModelSwitchPayload struct {
	PreviousModel string `json:"previous_model"`
	NewModel      string `json:"new_model"`
}

// TurnFailedPayload is the payload of an EventTurnFailed event.
type TurnFailedPayload struct {
	Category    string `json:"category"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

// TurnEndPayload is the payload of an EventTurnEnd event.
type TurnEndPayload struct {
	DurationMS    int64       `json:"duration_ms"`
	TokenUsage    *TokenUsage `json:"token_usage,omitempty"`
	CostMicroUSD  int64       `json:"cost_micro_usd"`
	ContextLimit  int         `json:"context_limit"`
}
