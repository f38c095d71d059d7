package eventbus

import "time"

// EventType enumerates the variants the core produces on the in-process bus
// (§4.1). Every variant carries SessionID and Timestamp; the remaining
// fields are a tagged union — only the ones relevant to Type are populated.
type EventType string

const (
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventAgentEnd            EventType = "agent_end"
	EventAgentInterrupted    EventType = "agent_interrupted"
	EventMessageUpdate       EventType = "message_update"
	EventThinkingStart       EventType = "thinking_start"
	EventThinkingDelta       EventType = "thinking_delta"
	EventThinkingEnd         EventType = "thinking_end"
	EventTextStart           EventType = "text_start"
	EventTextEnd             EventType = "text_end"
	EventToolUseBatch        EventType = "tool_use_batch"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventHookTriggered       EventType = "hook_triggered"
	EventHookCompleted       EventType = "hook_completed"
	EventResponseComplete    EventType = "response_complete"
	EventAPIRetry            EventType = "api_retry"
	EventCompactionStart     EventType = "compaction_start"
	EventCompactionComplete  EventType = "compaction_complete"
	EventTodosUpdated        EventType = "todos_updated"
	EventTurnFailed          EventType = "agent.turn_failed"
)

// Event is one item delivered on the in-process bus.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Turn      int       `json:"turn,omitempty"`
	Iter      int       `json:"iter,omitempty"`

	// Generic text payload (message/thinking deltas, tool output, error text).
	Text string `json:"text,omitempty"`

	DurationMS int64 `json:"duration_ms,omitempty"`
	IsError    bool  `json:"is_error,omitempty"`

	ToolCallID  string   `json:"tool_call_id,omitempty"`
	ToolName    string   `json:"tool_name,omitempty"`
	ArgsJSON    []byte   `json:"args_json,omitempty"`
	ToolCallIDs []string `json:"tool_call_ids,omitempty"`

	HookType  string   `json:"hook_type,omitempty"`
	HookNames []string `json:"hook_names,omitempty"`

	HasToolCalls bool `json:"has_tool_calls,omitempty"`
	InputTokens  int  `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens,omitempty"`

	Attempt     int   `json:"attempt,omitempty"`
	MaxAttempts int   `json:"max_attempts,omitempty"`
	DelayMS     int64 `json:"delay_ms,omitempty"`

	Reason       string `json:"reason,omitempty"`
	TokensBefore int    `json:"tokens_before,omitempty"`
	TokensAfter  int    `json:"tokens_after,omitempty"`

	Category    string `json:"category,omitempty"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}
