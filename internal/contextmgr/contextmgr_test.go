package contextmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/tronrun/tron/pkg/models"
)

func TestManager_GetCurrentTokens_FallsBackToEstimate(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.SetSystemPrompt("you are a helpful assistant")
	m.AddMessage(models.Message{Role: models.RoleUser, Content: "hello there"})

	tokens := m.GetCurrentTokens()
	if tokens <= 0 {
		t.Errorf("GetCurrentTokens() = %d, want > 0", tokens)
	}
}

func TestManager_SetApiContextTokensIsAuthoritative(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.AddMessage(models.Message{Role: models.RoleUser, Content: "hello"})
	m.SetApiContextTokens(12345)

	if got := m.GetCurrentTokens(); got != 12345 {
		t.Errorf("GetCurrentTokens() = %d, want 12345", got)
	}
}

func TestManager_SetMessagesUnsetsApiTokens(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.SetApiContextTokens(999)
	m.SetMessages([]models.Message{{Role: models.RoleUser, Content: "x"}})

	if got := m.GetCurrentTokens(); got == 999 {
		t.Error("expected SetMessages to unset the API-reported token count")
	}
}

func TestManager_ThresholdBands(t *testing.T) {
	cases := []struct {
		frac float64
		want models.ThresholdLevel
	}{
		{0.0, models.ThresholdNormal},
		{0.49, models.ThresholdNormal},
		{0.50, models.ThresholdWarning},
		{0.69, models.ThresholdWarning},
		{0.70, models.ThresholdAlert},
		{0.84, models.ThresholdAlert},
		{0.85, models.ThresholdCritical},
		{0.94, models.ThresholdCritical},
		{0.95, models.ThresholdExceeded},
		{1.2, models.ThresholdExceeded},
	}
	for _, c := range cases {
		if got := models.ThresholdLevelFor(c.frac); got != c.want {
			t.Errorf("ThresholdLevelFor(%v) = %s, want %s", c.frac, got, c.want)
		}
	}
}

func TestManager_GetSnapshotMatchesThresholdBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 100
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(72)

	snap := m.GetSnapshot()
	if snap.ThresholdLevel != models.ThresholdAlert {
		t.Errorf("ThresholdLevel = %s, want %s", snap.ThresholdLevel, models.ThresholdAlert)
	}
}

func TestManager_CanAcceptTurn_WouldExceedLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 100
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(90)

	acc := m.CanAcceptTurn(50, true)
	if !acc.WouldExceedLimit || acc.CanProceed {
		t.Errorf("acc = %+v, want WouldExceedLimit=true CanProceed=false", acc)
	}
	if !acc.NeedsCompaction {
		t.Error("expected NeedsCompaction=true when auto-compaction is available")
	}
}

func TestManager_CanAcceptTurn_Critical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 100
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(90)

	acc := m.CanAcceptTurn(1, true)
	if acc.CanProceed {
		t.Error("expected CanProceed=false at critical usage")
	}
	if !acc.NeedsCompaction {
		t.Error("expected NeedsCompaction=true at critical usage")
	}
}

func TestManager_CanAcceptTurn_Alert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 100
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(75)

	acc := m.CanAcceptTurn(1, true)
	if !acc.CanProceed || !acc.NeedsCompaction {
		t.Errorf("acc = %+v, want CanProceed=true NeedsCompaction=true", acc)
	}
}

func TestManager_CanAcceptTurn_Normal(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.SetApiContextTokens(10)

	acc := m.CanAcceptTurn(1, true)
	if !acc.CanProceed || acc.NeedsCompaction {
		t.Errorf("acc = %+v, want CanProceed=true NeedsCompaction=false", acc)
	}
}

func TestManager_ValidatePreTurn_NoSummarizerForcesDefiniteError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 100
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(75)

	acc := m.ValidatePreTurn(1, false)
	if acc.NeedsCompaction {
		t.Error("expected NeedsCompaction=false when no summarizer is configured")
	}
	if acc.Error == "" {
		t.Error("expected a definite error when no summarizer is configured")
	}
}

func TestManager_GetMaxToolResultSize_ScalesWithRemainingBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 1000
	m := NewManager(cfg, nil)

	m.SetApiContextTokens(0)
	full := m.GetMaxToolResultSize()
	if full != 100_000 {
		t.Errorf("full budget cap = %d, want 100000", full)
	}

	m.SetApiContextTokens(999)
	tight := m.GetMaxToolResultSize()
	if tight != 1000 {
		t.Errorf("near-exhausted budget cap = %d, want floor 1000", tight)
	}

	m.SetApiContextTokens(500)
	mid := m.GetMaxToolResultSize()
	if mid <= tight || mid >= full {
		t.Errorf("mid budget cap = %d, want strictly between %d and %d", mid, tight, full)
	}
}

func TestManager_ProcessToolResult_TruncatesAndMarks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 1000
	m := NewManager(cfg, nil)
	m.SetApiContextTokens(999) // remaining fraction ~0 -> max caps at the 1000-char floor

	longContent := make([]byte, 2000)
	for i := range longContent {
		longContent[i] = 'x'
	}
	processed, truncated, originalSize := m.ProcessToolResult(string(longContent))
	if !truncated {
		t.Fatal("expected truncation for content far exceeding the cap")
	}
	if originalSize != 2000 {
		t.Errorf("originalSize = %d, want 2000", originalSize)
	}
	if len(processed) >= 2000 {
		t.Error("expected processed content to be shorter than the original")
	}
}

func TestManager_ExportRestoreRoundTrips(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.SetSystemPrompt("be helpful")
	m.AddMessage(models.Message{Role: models.RoleUser, Content: "hi"})

	snap := m.ExportState()

	m2 := NewManager(DefaultConfig(), nil)
	m2.RestoreState(snap)

	if m2.GetModel() != snap.Model {
		t.Errorf("Model = %q, want %q", m2.GetModel(), snap.Model)
	}
	msgs := m2.GetMessages()
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("Messages = %+v, want one message with content %q", msgs, "hi")
	}
}

type fakeSummarizer struct {
	result models.SummaryResult
	err    error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []models.Message, model, workingDirectory string) (models.SummaryResult, error) {
	return f.result, f.err
}

func TestManager_ExecuteCompaction_PreservesRecentWindowVerbatim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 1 // recent window = 2 messages
	m := NewManager(cfg, nil)

	for i := 0; i < 6; i++ {
		m.AddMessage(models.Message{Role: models.RoleUser, Content: "msg"})
	}
	lastTwo := m.GetMessages()[4:]

	summarizer := &fakeSummarizer{result: models.SummaryResult{Narrative: "earlier discussion summary"}}
	res, err := m.ExecuteCompaction(context.Background(), summarizer, CompactionOptions{Reason: models.CompactionThresholdExceed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected compaction to succeed")
	}

	newMsgs := m.GetMessages()
	if len(newMsgs) != 4 { // synthetic user + ack + 2 preserved
		t.Fatalf("len(newMsgs) = %d, want 4", len(newMsgs))
	}
	if newMsgs[2].Content != lastTwo[0].Content || newMsgs[3].Content != lastTwo[1].Content {
		t.Error("expected the last two messages to survive compaction byte-for-byte")
	}
}

func TestManager_ExecuteCompaction_SummarizerFailureLeavesStateUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 1
	m := NewManager(cfg, nil)
	for i := 0; i < 6; i++ {
		m.AddMessage(models.Message{Role: models.RoleUser, Content: "msg"})
	}
	before := m.GetMessages()

	summarizer := &fakeSummarizer{err: errors.New("summarizer down")}
	_, err := m.ExecuteCompaction(context.Background(), summarizer, CompactionOptions{Reason: models.CompactionManual})
	if err == nil {
		t.Fatal("expected an error from the failed summarizer")
	}
	if !errors.Is(err, ErrSummarizerFailure) {
		t.Errorf("expected errors.Is to match ErrSummarizerFailure, got %v", err)
	}

	after := m.GetMessages()
	if len(after) != len(before) {
		t.Error("expected history to be unchanged after a summarizer failure")
	}
}

func TestManager_ExecuteCompaction_EditedSummaryOverridesEvenOnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 1
	m := NewManager(cfg, nil)
	for i := 0; i < 6; i++ {
		m.AddMessage(models.Message{Role: models.RoleUser, Content: "msg"})
	}

	summarizer := &fakeSummarizer{err: errors.New("summarizer down")}
	res, err := m.ExecuteCompaction(context.Background(), summarizer, CompactionOptions{
		Reason:        models.CompactionManual,
		EditedSummary: "hand-written summary",
	})
	if err != nil {
		t.Fatalf("expected edited_summary to override failure, got error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected compaction to succeed with an edited summary")
	}

	msgs := m.GetMessages()
	if len(msgs) == 0 || msgs[0].Content != "[Context from earlier in session] hand-written summary" {
		t.Errorf("first message = %+v", msgs)
	}
}

func TestManager_PreviewCompactionDoesNotMutate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 1
	m := NewManager(cfg, nil)
	for i := 0; i < 6; i++ {
		m.AddMessage(models.Message{Role: models.RoleUser, Content: "msg"})
	}
	before := m.GetMessages()

	old, recent, tokensBefore := m.PreviewCompaction()
	if len(old) != 4 || len(recent) != 2 {
		t.Errorf("old/recent = %d/%d, want 4/2", len(old), len(recent))
	}
	if tokensBefore <= 0 {
		t.Error("expected a positive tokens_before estimate")
	}

	after := m.GetMessages()
	if len(after) != len(before) {
		t.Error("expected PreviewCompaction not to mutate history")
	}
}

func TestManager_ExecuteCompaction_EmptyOldPartitionShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 10 // window larger than history, so everything is "recent"
	m := NewManager(cfg, nil)
	m.AddMessage(models.Message{Role: models.RoleUser, Content: "only message"})

	res, err := m.ExecuteCompaction(context.Background(), nil, CompactionOptions{Reason: models.CompactionManual})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.TokensAfter != res.TokensBefore {
		t.Errorf("res = %+v, want a no-op success", res)
	}
	if len(m.GetMessages()) != 1 {
		t.Error("expected history to be untouched when there is nothing to summarize")
	}
}

func TestManager_ExecuteCompaction_CompressionIsMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveRecentTurns = 1
	m := NewManager(cfg, nil)
	for i := 0; i < 10; i++ {
		m.AddMessage(models.Message{Role: models.RoleUser, Content: "a reasonably long repeated message body"})
	}

	summarizer := &fakeSummarizer{result: models.SummaryResult{Narrative: "short"}}
	res, err := m.ExecuteCompaction(context.Background(), summarizer, CompactionOptions{Reason: models.CompactionThresholdExceed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TokensAfter > res.TokensBefore {
		t.Errorf("TokensAfter (%d) > TokensBefore (%d), expected monotonic compaction", res.TokensAfter, res.TokensBefore)
	}
}
