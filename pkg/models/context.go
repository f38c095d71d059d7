package models

// ThresholdLevel is a coarse band derived from a context window's usage
// percent, used to decide whether compaction is merely advisable or
// mandatory.
type ThresholdLevel string

const (
	ThresholdNormal   ThresholdLevel = "normal"
	ThresholdWarning  ThresholdLevel = "warning"
	ThresholdAlert    ThresholdLevel = "alert"
	ThresholdCritical ThresholdLevel = "critical"
	ThresholdExceeded ThresholdLevel = "exceeded"
)

// ThresholdLevelFor classifies a usage fraction (0..1+) into a band per the
// Context Manager's bands: [0,.50) normal | [.50,.70) warning |
// [.70,.85) alert | [.85,.95) critical | [.95,inf) exceeded.
func ThresholdLevelFor(usageFraction float64) ThresholdLevel {
	switch {
	case usageFraction >= 0.95:
		return ThresholdExceeded
	case usageFraction >= 0.85:
		return ThresholdCritical
	case usageFraction >= 0.70:
		return ThresholdAlert
	case usageFraction >= 0.50:
		return ThresholdWarning
	default:
		return ThresholdNormal
	}
}

// ContextBreakdown is the component estimate of token usage when no
// API-reported count is available.
type ContextBreakdown struct {
	SystemPrompt int `json:"system_prompt"`
	Tools        int `json:"tools"`
	Rules        int `json:"rules"`
	Messages     int `json:"messages"`
}

// Sum returns the total of all components.
func (b ContextBreakdown) Sum() int {
	return b.SystemPrompt + b.Tools + b.Rules + b.Messages
}

// ContextSnapshot is a point-in-time view of a session's context-window
// usage, as returned by the Context Manager's getSnapshot.
type ContextSnapshot struct {
	CurrentTokens  int               `json:"current_tokens"`
	ContextLimit   int               `json:"context_limit"`
	UsagePercent   float64           `json:"usage_percent"`
	ThresholdLevel ThresholdLevel    `json:"threshold_level"`
	Breakdown      ContextBreakdown  `json:"breakdown"`
}

// MessageSummary is a per-message entry in the detailed context snapshot.
type MessageSummary struct {
	Index        int    `json:"index"`
	Role         Role   `json:"role"`
	Chars        int    `json:"chars"`
	EstimatedTok int    `json:"estimated_tokens"`
	Preview      string `json:"preview,omitempty"`
}

// DetailedContextSnapshot extends ContextSnapshot with per-message detail.
type DetailedContextSnapshot struct {
	ContextSnapshot
	Messages []MessageSummary `json:"messages"`
}

// ExtractedData is the structured memory a Summarizer distills from the
// portion of history being compacted away.
type ExtractedData struct {
	CurrentGoal      string   `json:"current_goal,omitempty"`
	CompletedSteps   []string `json:"completed_steps,omitempty"`
	PendingTasks     []string `json:"pending_tasks,omitempty"`
	KeyDecisions     []string `json:"key_decisions,omitempty"`
	FilesModified    []string `json:"files_modified,omitempty"`
	TopicsDiscussed  []string `json:"topics_discussed,omitempty"`
	UserPreferences  []string `json:"user_preferences,omitempty"`
	ImportantContext []string `json:"important_context,omitempty"`
}

// SummaryResult is what a Summarizer collaborator returns.
type SummaryResult struct {
	ExtractedData ExtractedData `json:"extracted_data"`
	Narrative     string        `json:"narrative"`
}

// CompactionReason identifies what triggered a compaction pass.
type CompactionReason string

const (
	CompactionPreTurnGuardrail CompactionReason = "pre_turn_guardrail"
	CompactionThresholdExceed CompactionReason = "threshold_exceeded"
	CompactionManual          CompactionReason = "manual"
	CompactionModelSwitch     CompactionReason = "model_switch"
)

// CompactionResult describes the outcome of one compaction pass.
type CompactionResult struct {
	Success          bool           `json:"success"`
	TokensBefore     int            `json:"tokens_before"`
	TokensAfter      int            `json:"tokens_after"`
	CompressionRatio float64        `json:"compression_ratio"`
	Summary          string         `json:"summary"`
	ExtractedData    ExtractedData  `json:"extracted_data"`
	PreservedTurns   int            `json:"preserved_turns"`
	SummarizedTurns  int            `json:"summarized_turns"`
}

// ToolManifestEntry is the tool-facing description exposed to a provider as
// part of a context snapshot's tools_manifest.
type ToolManifestEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []byte          `json:"parameters"`
	Category    string          `json:"category,omitempty"`
}

// SessionSnapshot is an exportable view of a session's state at a given
// event, used for export/restore and for subagent/fork bootstrapping.
type SessionSnapshot struct {
	Model         string              `json:"model"`
	ProviderID    string              `json:"provider_id"`
	SystemPrompt  string              `json:"system_prompt"`
	Messages      []Message           `json:"messages"`
	ToolsManifest []ToolManifestEntry `json:"tools_manifest"`
}
