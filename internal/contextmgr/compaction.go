package contextmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/tronrun/tron/pkg/models"
)

// Summarizer is the §6 collaborator: it distills a partition of history
// into structured extracted data plus a narrative, typically by spawning a
// cheap text-only subagent.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message, model, workingDirectory string) (models.SummaryResult, error)
}

// CompactionOptions tunes a single compaction pass.
type CompactionOptions struct {
	Reason         models.CompactionReason
	EditedSummary  string // overrides the narrative verbatim, even past a summarizer failure
	WorkingDirectory string
}

const assistantAck = "Understood — I've reviewed the summary of our earlier conversation and will continue from here."

// ErrSummarizerFailure wraps the underlying Summarizer error so callers can
// match it with errors.Is while still seeing the original cause via Unwrap.
var ErrSummarizerFailure = errors.New("summarizer failed")

// PreviewCompaction computes the partition and tokens_before without
// mutating history or invoking the Summarizer: useful for a dry-run UI.
func (m *Manager) PreviewCompaction() (old, recent []models.Message, tokensBefore int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, recent = m.partitionLocked()
	tokensBefore = m.currentTokensLocked()
	return old, recent, tokensBefore
}

// partitionLocked splits history into an old partition to be summarized and
// a recent partition to be preserved verbatim: the last
// PreserveRecentTurns*2 messages, or the whole history if shorter. Caller
// must hold m.mu.
func (m *Manager) partitionLocked() (old, recent []models.Message) {
	recentWindow := m.cfg.PreserveRecentTurns * 2
	if len(m.messages) <= recentWindow {
		return nil, append([]models.Message(nil), m.messages...)
	}
	splitAt := len(m.messages) - recentWindow
	old = append([]models.Message(nil), m.messages[:splitAt]...)
	recent = append([]models.Message(nil), m.messages[splitAt:]...)
	return old, recent
}

// ExecuteCompaction runs the Compaction Handler's full algorithm: partition,
// summarize the old half, splice in the synthetic context/ack pair ahead of
// the preserved recent messages, and reset the API token counter.
//
// On summarizer failure the history and API token counter are left
// unchanged, unless opts.EditedSummary is supplied, in which case it
// overrides the narrative and compaction still succeeds.
func (m *Manager) ExecuteCompaction(ctx context.Context, summarizer Summarizer, opts CompactionOptions) (models.CompactionResult, error) {
	if m.emitter != nil {
		m.emitter.CompactionStart(string(opts.Reason))
	}

	m.mu.Lock()
	old, recent := m.partitionLocked()
	model := m.cfg.Model
	tokensBefore := m.currentTokensLocked()
	m.mu.Unlock()

	if len(old) == 0 {
		result := models.CompactionResult{
			Success:         true,
			TokensBefore:    tokensBefore,
			TokensAfter:     tokensBefore,
			CompressionRatio: 1,
			PreservedTurns:  len(recent),
		}
		if m.emitter != nil {
			m.emitter.CompactionComplete(true, tokensBefore, tokensBefore)
		}
		return result, nil
	}

	var summary models.SummaryResult
	var summarizeErr error
	if summarizer != nil {
		summary, summarizeErr = summarizer.Summarize(ctx, old, model, opts.WorkingDirectory)
	} else {
		summarizeErr = errors.New("no summarizer configured")
	}

	narrative := summary.Narrative
	edited := opts.EditedSummary != ""
	if edited {
		narrative = opts.EditedSummary
	}

	if summarizeErr != nil && !edited {
		if m.emitter != nil {
			m.emitter.CompactionComplete(false, tokensBefore, tokensBefore)
		}
		return models.CompactionResult{
			Success:      false,
			TokensBefore: tokensBefore,
			TokensAfter:  tokensBefore,
		}, fmt.Errorf("%w: %v", ErrSummarizerFailure, summarizeErr)
	}

	syntheticUser := models.Message{
		Role:    models.RoleUser,
		Content: "[Context from earlier in session] " + narrative,
	}
	syntheticAck := models.Message{
		Role:    models.RoleAssistant,
		Content: assistantAck,
	}

	newHistory := make([]models.Message, 0, len(recent)+2)
	newHistory = append(newHistory, syntheticUser, syntheticAck)
	newHistory = append(newHistory, recent...)

	m.mu.Lock()
	m.messages = newHistory
	m.apiContextTokens = -1
	tokensAfter := m.currentTokensLocked()
	m.mu.Unlock()

	ratio := 1.0
	if tokensBefore > 0 {
		ratio = float64(tokensAfter) / float64(tokensBefore)
	}

	result := models.CompactionResult{
		Success:          true,
		TokensBefore:     tokensBefore,
		TokensAfter:      tokensAfter,
		CompressionRatio: ratio,
		Summary:          narrative,
		ExtractedData:    summary.ExtractedData,
		PreservedTurns:   len(recent),
		SummarizedTurns:  len(old),
	}

	if m.emitter != nil {
		m.emitter.CompactionComplete(true, tokensBefore, tokensAfter)
	}
	return result, nil
}
