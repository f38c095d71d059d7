package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels.
//
// Role determines which fields are meaningful: a user message carries Content
// (or Blocks for multimodal input); an assistant message carries Blocks
// (text/thinking/tool_use), Usage, and StopReason; a tool message carries
// ToolResults keyed by the originating tool call id.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel"`
	ChannelID   string         `json:"channel_id"` // Platform-specific message ID
	Direction   Direction      `json:"direction"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Blocks      []ContentBlock `json:"blocks,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Usage carries token accounting for an assistant message. Nil for
	// user/tool messages.
	Usage *TokenUsage `json:"usage,omitempty"`

	// StopReason is set on assistant messages that completed a model turn.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// ProviderMessageID is the vendor-assigned id for this message, when the
	// provider reports one (used for debugging/correlation only).
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	// ModelID is the concrete model that produced an assistant message.
	ModelID string `json:"model_id,omitempty"`
}

// BlockType discriminates the kind of content carried by a ContentBlock.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockImage   BlockType = "image"
	BlockThink   BlockType = "thinking"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock is one element of a message's ordered content sequence. Only
// the fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text holds BlockText and BlockThink content.
	Text string `json:"text,omitempty"`

	// ImageRef holds a reference (URL or attachment id) for BlockImage.
	ImageRef string `json:"image_ref,omitempty"`

	// ToolCall holds the tool invocation request for BlockToolUse.
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// StopReason is why the model stopped generating on a given turn.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopAborted      StopReason = "aborted"
)

// TokenUsage is the token accounting reported by a provider for one
// assistant message.
type TokenUsage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CacheReadTokens   int `json:"cache_read_tokens,omitempty"`
	CacheCreateTokens int `json:"cache_creation_tokens,omitempty"`
}

// Total returns the sum of all counted tokens for this usage record.
func (u *TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreateTokens
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool. Ids are unique
// within a turn and join tool_use blocks to their later tool_result message.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Arguments decodes the tool call's raw input into a generic map, matching
// the spec's `arguments: map<string,any>` shape for callers that don't need
// a typed struct.
func (c *ToolCall) Arguments() (map[string]any, error) {
	if len(c.Input) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Input, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Content    string         `json:"content"`
	IsError    bool           `json:"is_error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`

	// StopTurn, when set, instructs the Turn Runner to end the turn after
	// this tool completes even if the model would otherwise continue.
	StopTurn bool `json:"stop_turn,omitempty"`

	// Truncated and OriginalSize record the outcome of the Context
	// Manager's safety-net truncation pass, when applied.
	Truncated    bool `json:"truncated,omitempty"`
	OriginalSize int  `json:"original_size,omitempty"`
}

// SpawnType categorizes how a subagent session was created.
type SpawnType string

const (
	SpawnSubsession SpawnType = "subsession"
	SpawnTmux       SpawnType = "tmux"
	SpawnFork       SpawnType = "fork"
)

// SessionCounters is the denormalized cache of log-derived totals carried on
// a Session record. The durable log remains authoritative; these are updated
// incrementally as events append.
type SessionCounters struct {
	EventCount         int64 `json:"event_count"`
	MessageCount       int64 `json:"message_count"`
	TurnCount          int64 `json:"turn_count"`
	InputTokens        int64 `json:"input_tokens"`
	OutputTokens       int64 `json:"output_tokens"`
	CacheTokens        int64 `json:"cache_tokens"`
	CostMicroUSD       int64 `json:"cost_micro_usd"`
	LastTurnInputTokens int64 `json:"last_turn_input_tokens"`
}

// Session represents a conversation thread and its place in the session
// hierarchy (parent/fork/spawn lineage) and durable event chain.
type Session struct {
	ID               string         `json:"id"`
	WorkspaceID      string         `json:"workspace_id"`
	AgentID          string         `json:"agent_id"`
	Channel          ChannelType    `json:"channel"`
	ChannelID        string         `json:"channel_id"`
	Key              string         `json:"key"`
	Title            string         `json:"title,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// HeadEventID is the id of the most recently appended event in this
	// session's chain; nil only before the first event is appended.
	HeadEventID string `json:"head_event_id,omitempty"`

	// RootEventID is the first event in this session's chain.
	RootEventID string `json:"root_event_id,omitempty"`

	LatestModel      string    `json:"latest_model,omitempty"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	LastActivityAt   time.Time `json:"last_activity_at,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`

	// ParentSessionID and ForkFromEventID describe a fork-type child: its
	// chain is rooted at ForkFromEventID rather than continuing the
	// parent's chain.
	ParentSessionID string `json:"parent_session_id,omitempty"`
	ForkFromEventID string `json:"fork_from_event_id,omitempty"`

	// SpawningSessionID, SpawnType and SpawnTask describe a subagent
	// session's relationship to the session that spawned it.
	SpawningSessionID string    `json:"spawning_session_id,omitempty"`
	SpawnType         SpawnType `json:"spawn_type,omitempty"`
	SpawnTask         string    `json:"spawn_task,omitempty"`

	Counters SessionCounters `json:"counters"`
	Tags     []string        `json:"tags,omitempty"`
}

// IsSubagent reports whether this session was spawned by another session.
func (s *Session) IsSubagent() bool {
	return s.SpawningSessionID != ""
}

// IsFork reports whether this session's chain is rooted at a fork point in
// another session's chain rather than starting fresh.
func (s *Session) IsFork() bool {
	return s.SpawnType == SpawnFork && s.ForkFromEventID != ""
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured AI agent.
type Agent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// APIKey represents an API key for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // First 8 chars for identification
	Scopes     []string  `json:"scopes,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
