package eventbus

import "testing"

func TestStatsCollector_AggregatesTurnsAndTokens(t *testing.T) {
	e := NewEmitter("s1", nil)
	sc := NewStatsCollector("s1")
	sc.Attach(e)

	e.TurnStart(1)
	e.ResponseComplete(false, 100, 40)
	e.TurnEnd(1, 1200)
	e.TurnStart(2)
	e.ResponseComplete(false, 50, 10)
	e.TurnEnd(2, 800)

	stats := sc.Stats()
	if stats.Turns != 2 {
		t.Errorf("Turns = %d, want 2", stats.Turns)
	}
	if stats.InputTokens != 150 || stats.OutputTokens != 50 {
		t.Errorf("tokens = %d/%d, want 150/50", stats.InputTokens, stats.OutputTokens)
	}
}

func TestStatsCollector_ToolWallTime(t *testing.T) {
	e := NewEmitter("s1", nil)
	sc := NewStatsCollector("s1")
	sc.Attach(e)

	e.ToolExecutionStart("call-1", "read_file", nil)
	e.ToolExecutionEnd("call-1", 250, false, "ok")

	stats := sc.Stats()
	if stats.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", stats.ToolCalls)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
}

func TestStatsCollector_CountsToolErrors(t *testing.T) {
	e := NewEmitter("s1", nil)
	sc := NewStatsCollector("s1")
	sc.Attach(e)

	e.ToolExecutionStart("call-1", "write_file", nil)
	e.ToolExecutionEnd("call-1", 10, true, "permission denied")

	if sc.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", sc.Stats().Errors)
	}
}

func TestStatsCollector_CancelledFlag(t *testing.T) {
	e := NewEmitter("s1", nil)
	sc := NewStatsCollector("s1")
	sc.Attach(e)

	e.AgentInterrupted("partial text")

	if !sc.Stats().Cancelled {
		t.Error("expected Cancelled = true after an agent_interrupted event")
	}
}

func TestStatsCollector_RecordDroppedEvents(t *testing.T) {
	sc := NewStatsCollector("s1")
	sc.RecordDroppedEvents(3)
	sc.RecordDroppedEvents(2)

	if sc.Stats().DroppedEvents != 5 {
		t.Errorf("DroppedEvents = %d, want 5", sc.Stats().DroppedEvents)
	}
}
