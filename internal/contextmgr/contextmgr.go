// Package contextmgr implements the Context Manager and Compaction Handler
// (C4): token accounting, threshold classification, adaptive tool-result
// truncation, and history compaction.
package contextmgr

import (
	"context"
	"sync"

	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/pkg/models"
)

// charsPerToken is the approximate character-to-token ratio used by every
// component estimate; it is deliberately coarse, matching the rest of the
// stack's deterministic-by-content-length heuristics.
const charsPerToken = 4

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// Config configures a Manager.
type Config struct {
	Model                string
	ContextLimit         int
	CompactionThreshold  float64 // default 0.70, shouldCompact fires at/above this
	PreserveRecentTurns  int     // recent window = PreserveRecentTurns * 2 messages
}

func DefaultConfig() Config {
	return Config{
		ContextLimit:        200_000,
		CompactionThreshold: 0.70,
		PreserveRecentTurns: 4,
	}
}

// Manager owns a session's messages, model, and token accounting. It is the
// Context Manager of §4.4; compaction itself is implemented alongside it in
// compaction.go since the two share the same locked state.
type Manager struct {
	mu sync.Mutex

	cfg Config

	messages      []models.Message
	systemPrompt  string
	toolsManifest []models.ToolManifestEntry
	rulesContent  string

	// apiContextTokens is the last turn's authoritative input token count,
	// or -1 when unset (forcing getCurrentTokens to estimate).
	apiContextTokens int

	compactionNeeded func(ctx context.Context)

	emitter *eventbus.Emitter
}

func NewManager(cfg Config, emitter *eventbus.Emitter) *Manager {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultConfig().ContextLimit
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultConfig().CompactionThreshold
	}
	if cfg.PreserveRecentTurns <= 0 {
		cfg.PreserveRecentTurns = DefaultConfig().PreserveRecentTurns
	}
	return &Manager{
		cfg:              cfg,
		apiContextTokens: -1,
		emitter:          emitter,
	}
}

// OnCompactionNeeded registers the callback fired when SwitchModel's new
// threshold lands at alert-or-above.
func (m *Manager) OnCompactionNeeded(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactionNeeded = fn
}

func (m *Manager) AddMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// SetMessages replaces the full history and unsets the API token count.
func (m *Manager) SetMessages(msgs []models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]models.Message(nil), msgs...)
	m.apiContextTokens = -1
}

// ClearMessages empties the history and unsets the API token count.
func (m *Manager) ClearMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.apiContextTokens = -1
}

// GetMessages returns a defensive copy of the current history.
func (m *Manager) GetMessages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// SetApiContextTokens records the last turn's authoritative input token
// count, making it authoritative over the component estimate until the
// next SetMessages/ClearMessages.
func (m *Manager) SetApiContextTokens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiContextTokens = n
}

func (m *Manager) SetSystemPrompt(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = p
}

func (m *Manager) SetToolsManifest(tools []models.ToolManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolsManifest = tools
}

func (m *Manager) SetRulesContent(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rulesContent = s
}

// breakdown computes the component estimate. Caller must hold m.mu.
func (m *Manager) breakdown() models.ContextBreakdown {
	toolsChars := 0
	for _, t := range m.toolsManifest {
		toolsChars += len(t.Name) + len(t.Description) + len(t.Parameters)
	}
	msgChars := 0
	for _, msg := range m.messages {
		msgChars += len(msg.Content)
		for _, b := range msg.Blocks {
			msgChars += len(b.Text) + len(b.ImageRef)
		}
	}
	return models.ContextBreakdown{
		SystemPrompt: estimateTokens(m.systemPrompt),
		Tools:        (toolsChars + charsPerToken - 1) / charsPerToken,
		Rules:        estimateTokens(m.rulesContent),
		Messages:     (msgChars + charsPerToken - 1) / charsPerToken,
	}
}

// GetCurrentTokens returns the API-reported count when set, else the sum of
// the component breakdown.
func (m *Manager) GetCurrentTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apiContextTokens >= 0 {
		return m.apiContextTokens
	}
	return m.breakdown().Sum()
}

func (m *Manager) GetContextLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.ContextLimit
}

func (m *Manager) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Model
}

// SwitchModel updates model and context limit atomically, then recomputes
// the threshold; if the new threshold is alert-or-above, the
// compaction-needed callback fires.
func (m *Manager) SwitchModel(ctx context.Context, model string, newLimit int) {
	m.mu.Lock()
	m.cfg.Model = model
	if newLimit > 0 {
		m.cfg.ContextLimit = newLimit
	}
	current := m.currentTokensLocked()
	limit := m.cfg.ContextLimit
	cb := m.compactionNeeded
	m.mu.Unlock()

	level := models.ThresholdLevelFor(usageFraction(current, limit))
	if cb != nil && thresholdAtOrAbove(level, models.ThresholdAlert) {
		cb(ctx)
	}
}

func (m *Manager) currentTokensLocked() int {
	if m.apiContextTokens >= 0 {
		return m.apiContextTokens
	}
	return m.breakdown().Sum()
}

func usageFraction(current, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(current) / float64(limit)
}

var thresholdOrder = map[models.ThresholdLevel]int{
	models.ThresholdNormal:   0,
	models.ThresholdWarning:  1,
	models.ThresholdAlert:    2,
	models.ThresholdCritical: 3,
	models.ThresholdExceeded: 4,
}

func thresholdAtOrAbove(level, floor models.ThresholdLevel) bool {
	return thresholdOrder[level] >= thresholdOrder[floor]
}

// GetSnapshot returns the current context usage snapshot.
func (m *Manager) GetSnapshot() models.ContextSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.currentTokensLocked()
	limit := m.cfg.ContextLimit
	frac := usageFraction(current, limit)
	return models.ContextSnapshot{
		CurrentTokens:  current,
		ContextLimit:   limit,
		UsagePercent:   frac,
		ThresholdLevel: models.ThresholdLevelFor(frac),
		Breakdown:      m.breakdown(),
	}
}

// GetDetailedSnapshot adds a per-message summary to the base snapshot.
func (m *Manager) GetDetailedSnapshot() models.DetailedContextSnapshot {
	base := m.GetSnapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]models.MessageSummary, len(m.messages))
	for i, msg := range m.messages {
		chars := len(msg.Content)
		for _, b := range msg.Blocks {
			chars += len(b.Text)
		}
		preview := msg.Content
		if len(preview) > 120 {
			preview = preview[:120]
		}
		summaries[i] = models.MessageSummary{
			Index:        i,
			Role:         msg.Role,
			Chars:        chars,
			EstimatedTok: estimateTokens(preview) + (chars / charsPerToken),
			Preview:      preview,
		}
	}
	return models.DetailedContextSnapshot{ContextSnapshot: base, Messages: summaries}
}

// TurnAcceptance is the result of CanAcceptTurn.
type TurnAcceptance struct {
	CanProceed        bool
	NeedsCompaction   bool
	WouldExceedLimit  bool
	CurrentTokens     int
	EstimatedAfterTurn int
	ContextLimit      int
	Error             string
}

// CanAcceptTurn applies the §4.4 decision rules given an estimate of the
// upcoming turn's response size. autoCompactionAvailable reflects whether a
// Summarizer is configured.
func (m *Manager) CanAcceptTurn(estimatedResponseTokens int, autoCompactionAvailable bool) TurnAcceptance {
	m.mu.Lock()
	current := m.currentTokensLocked()
	limit := m.cfg.ContextLimit
	m.mu.Unlock()

	after := current + estimatedResponseTokens
	out := TurnAcceptance{
		CurrentTokens:      current,
		EstimatedAfterTurn: after,
		ContextLimit:       limit,
	}

	if after > limit {
		out.WouldExceedLimit = true
		out.CanProceed = false
		out.NeedsCompaction = autoCompactionAvailable
		out.Error = "Context limit exceeded"
		return out
	}

	frac := usageFraction(current, limit)
	level := models.ThresholdLevelFor(frac)
	switch {
	case thresholdAtOrAbove(level, models.ThresholdCritical):
		out.CanProceed = false
		out.NeedsCompaction = true
	case thresholdAtOrAbove(level, models.ThresholdAlert):
		out.CanProceed = true
		out.NeedsCompaction = true
	default:
		out.CanProceed = true
		out.NeedsCompaction = false
	}
	return out
}

// ValidatePreTurn exposes CanAcceptTurn in the runner-facing shape,
// substituting needs_compaction=false and a definite error when no
// summarizer is configured.
func (m *Manager) ValidatePreTurn(estimatedResponseTokens int, summarizerConfigured bool) TurnAcceptance {
	acc := m.CanAcceptTurn(estimatedResponseTokens, summarizerConfigured)
	if acc.NeedsCompaction && !summarizerConfigured {
		acc.NeedsCompaction = false
		if acc.Error == "" {
			acc.Error = "context threshold requires compaction but no summarizer is configured"
		}
	}
	return acc
}

// ShouldCompact reports whether current usage is at/above the configured
// compaction threshold.
func (m *Manager) ShouldCompact() bool {
	m.mu.Lock()
	current := m.currentTokensLocked()
	limit := m.cfg.ContextLimit
	threshold := m.cfg.CompactionThreshold
	m.mu.Unlock()
	return usageFraction(current, limit) >= threshold
}

// GetMaxToolResultSize implements the resolved open question: a linear
// ramp between a 1,000-char floor and a 100,000-char nominal cap, scaled by
// the fraction of context budget remaining.
func (m *Manager) GetMaxToolResultSize() int {
	m.mu.Lock()
	current := m.currentTokensLocked()
	limit := m.cfg.ContextLimit
	m.mu.Unlock()

	remaining := 1.0 - usageFraction(current, limit)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 1 {
		remaining = 1
	}
	limited := int(100_000 * remaining)
	if limited < 1000 {
		limited = 1000
	}
	if limited > 100_000 {
		limited = 100_000
	}
	return limited
}

// ProcessToolResult implements toolexec.ResultSizer: it truncates content
// to GetMaxToolResultSize, appending a marker when truncation occurs.
func (m *Manager) ProcessToolResult(content string) (processed string, truncated bool, originalSize int) {
	max := m.GetMaxToolResultSize()
	originalSize = len(content)
	if originalSize <= max {
		return content, false, originalSize
	}
	cutoff := max
	if cutoff > len(content) {
		cutoff = len(content)
	}
	return content[:cutoff] + "\n[truncated]", true, originalSize
}

// ExportState captures the portable fields for persistence/round-trip.
func (m *Manager) ExportState() models.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.SessionSnapshot{
		Model:         m.cfg.Model,
		SystemPrompt:  m.systemPrompt,
		Messages:      append([]models.Message(nil), m.messages...),
		ToolsManifest: append([]models.ToolManifestEntry(nil), m.toolsManifest...),
	}
}

// RestoreState replaces the manager's state from a snapshot and unsets the
// API token count.
func (m *Manager) RestoreState(snap models.SessionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Model = snap.Model
	m.systemPrompt = snap.SystemPrompt
	m.messages = append([]models.Message(nil), snap.Messages...)
	m.toolsManifest = append([]models.ToolManifestEntry(nil), snap.ToolsManifest...)
	m.apiContextTokens = -1
}
