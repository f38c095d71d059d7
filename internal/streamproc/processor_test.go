package streamproc

import (
	"context"
	"errors"
	"testing"

	"github.com/tronrun/tron/pkg/models"
)

func feed(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestProcessor_AccumulatesTextDeltas(t *testing.T) {
	p := New(nil, Callbacks{})
	events := feed(
		StreamEvent{Kind: KindStart},
		StreamEvent{Kind: KindTextStart},
		StreamEvent{Kind: KindTextDelta, Delta: "hello "},
		StreamEvent{Kind: KindTextDelta, Delta: "world"},
		StreamEvent{Kind: KindTextEnd, Text: "hello world"},
		StreamEvent{Kind: KindDone, Message: &models.Message{Role: models.RoleAssistant, Content: "hello world"}, StopReason: models.StopEndTurn},
	)

	res, err := p.Run(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AccumulatedText != "hello world" {
		t.Errorf("AccumulatedText = %q, want %q", res.AccumulatedText, "hello world")
	}
	if res.StopReason != models.StopEndTurn {
		t.Errorf("StopReason = %q, want %q", res.StopReason, models.StopEndTurn)
	}
}

func TestProcessor_SynthesizesMessageWhenDoneOmitsContent(t *testing.T) {
	p := New(nil, Callbacks{})
	events := feed(
		StreamEvent{Kind: KindTextStart},
		StreamEvent{Kind: KindTextDelta, Delta: "partial answer"},
		StreamEvent{Kind: KindDone, Message: &models.Message{Role: models.RoleAssistant}, StopReason: models.StopEndTurn},
	)

	res, err := p.Run(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Message.Blocks) != 1 || res.Message.Blocks[0].Text != "partial answer" {
		t.Errorf("expected synthesized text block with %q, got %+v", "partial answer", res.Message.Blocks)
	}
}

func TestProcessor_DedupesToolCallsByID(t *testing.T) {
	p := New(nil, Callbacks{})
	call := &models.ToolCall{ID: "call-1", Name: "read_file"}
	events := feed(
		StreamEvent{Kind: KindToolCallEnd, ToolCall: call},
		StreamEvent{Kind: KindDone, Message: &models.Message{
			Role: models.RoleAssistant,
			Blocks: []models.ContentBlock{
				{Type: models.BlockToolUse, ToolCall: call},
			},
		}},
	)

	res, err := p.Run(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Errorf("ToolCalls = %d, want 1 (deduplicated)", len(res.ToolCalls))
	}
}

func TestProcessor_EmptyThinkingIsAbsentNotEmptyString(t *testing.T) {
	p := New(nil, Callbacks{})
	events := feed(
		StreamEvent{Kind: KindThinkingStart},
		StreamEvent{Kind: KindThinkingEnd, Text: ""},
		StreamEvent{Kind: KindDone, Message: &models.Message{Role: models.RoleAssistant, Content: "ok"}},
	)

	res, err := p.Run(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, b := range res.Message.Blocks {
		if b.Type == models.BlockThink {
			t.Errorf("expected no thinking block for empty thinking, got %+v", b)
		}
	}
}

func TestProcessor_ErrorEventFailsWithPartialBuffer(t *testing.T) {
	p := New(nil, Callbacks{})
	boom := errors.New("boom")
	events := feed(
		StreamEvent{Kind: KindTextDelta, Delta: "partial"},
		StreamEvent{Kind: KindError, Err: boom},
	)

	_, err := p.Run(context.Background(), events, nil)
	var sf *StreamFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *StreamFailure, got %T", err)
	}
	if sf.Kind != FailedError {
		t.Errorf("Kind = %s, want %s", sf.Kind, FailedError)
	}
	if sf.PartialText != "partial" {
		t.Errorf("PartialText = %q, want %q", sf.PartialText, "partial")
	}
}

func TestProcessor_ChannelClosedWithoutDoneIsNoResponseReceived(t *testing.T) {
	p := New(nil, Callbacks{})
	events := feed(StreamEvent{Kind: KindTextDelta, Delta: "x"})

	_, err := p.Run(context.Background(), events, nil)
	var sf *StreamFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *StreamFailure, got %T", err)
	}
	if sf.Kind != FailedNoResponseReceived {
		t.Errorf("Kind = %s, want %s", sf.Kind, FailedNoResponseReceived)
	}
}

func TestProcessor_AbortSignalStopsProcessing(t *testing.T) {
	p := New(nil, Callbacks{})
	events := make(chan StreamEvent)
	abort := make(chan struct{})
	close(abort)

	_, err := p.Run(context.Background(), events, abort)
	var sf *StreamFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *StreamFailure, got %T", err)
	}
	if sf.Kind != FailedAborted {
		t.Errorf("Kind = %s, want %s", sf.Kind, FailedAborted)
	}
}
