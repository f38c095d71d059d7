package turnrunner

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tronrun/tron/internal/agent"
	"github.com/tronrun/tron/internal/streamproc"
	"github.com/tronrun/tron/pkg/models"
)

func drain(ch <-chan streamproc.StreamEvent) []streamproc.StreamEvent {
	var events []streamproc.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestTranslateAnthropicStream_TextOnly(t *testing.T) {
	chunks := make(chan *agent.CompletionChunk, 8)
	chunks <- &agent.CompletionChunk{Text: "hello "}
	chunks <- &agent.CompletionChunk{Text: "world"}
	chunks <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(chunks)

	out := make(chan streamproc.StreamEvent)
	go translateAnthropicStream(chunks, out)
	events := drain(out)

	kinds := make([]streamproc.StreamEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	want := []streamproc.StreamEventKind{
		streamproc.KindTextStart,
		streamproc.KindTextDelta,
		streamproc.KindTextDelta,
		streamproc.KindTextEnd,
		streamproc.KindDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got kinds %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, kinds[i], want[i])
		}
	}

	done := events[len(events)-1]
	if done.StopReason != models.StopEndTurn {
		t.Fatalf("expected end_turn, got %v", done.StopReason)
	}
	if done.Message == nil || done.Message.Usage == nil || done.Message.Usage.InputTokens != 10 {
		t.Fatalf("expected usage to be carried on the done message, got %+v", done.Message)
	}
}

func TestTranslateAnthropicStream_ToolCallSetsStopToolUse(t *testing.T) {
	call := &models.ToolCall{ID: "call-1", Name: "search"}
	chunks := make(chan *agent.CompletionChunk, 4)
	chunks <- &agent.CompletionChunk{ToolCall: call}
	chunks <- &agent.CompletionChunk{Done: true}
	close(chunks)

	out := make(chan streamproc.StreamEvent)
	go translateAnthropicStream(chunks, out)
	events := drain(out)

	var sawToolCall bool
	for _, ev := range events {
		if ev.Kind == streamproc.KindToolCallEnd {
			sawToolCall = true
			if ev.ToolCall != call {
				t.Fatalf("expected the same tool call pointer to be forwarded")
			}
		}
	}
	if !sawToolCall {
		t.Fatal("expected a toolcall_end event")
	}

	done := events[len(events)-1]
	if done.Kind != streamproc.KindDone || done.StopReason != models.StopToolUse {
		t.Fatalf("expected a done event with tool_use stop reason, got %+v", done)
	}
}

func TestTranslateAnthropicStream_ErrorStopsTranslation(t *testing.T) {
	boom := errors.New("boom")
	chunks := make(chan *agent.CompletionChunk, 2)
	chunks <- &agent.CompletionChunk{Error: boom}
	chunks <- &agent.CompletionChunk{Done: true}
	close(chunks)

	out := make(chan streamproc.StreamEvent)
	go translateAnthropicStream(chunks, out)
	events := drain(out)

	if len(events) != 1 || events[0].Kind != streamproc.KindError || events[0].Err != boom {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestTranslateAnthropicStream_ThinkingTransitions(t *testing.T) {
	chunks := make(chan *agent.CompletionChunk, 8)
	chunks <- &agent.CompletionChunk{ThinkingStart: true}
	chunks <- &agent.CompletionChunk{Thinking: "reasoning..."}
	chunks <- &agent.CompletionChunk{ThinkingEnd: true}
	chunks <- &agent.CompletionChunk{Done: true}
	close(chunks)

	out := make(chan streamproc.StreamEvent)
	go translateAnthropicStream(chunks, out)
	events := drain(out)

	kinds := make([]streamproc.StreamEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	want := []streamproc.StreamEventKind{
		streamproc.KindThinkingStart,
		streamproc.KindThinkingDelta,
		streamproc.KindThinkingEnd,
		streamproc.KindDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got kinds %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestToAgentMessages_AssistantBlocksFlattenToContentAndToolCalls(t *testing.T) {
	call := models.ToolCall{ID: "call-1", Name: "search"}
	msgs := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.ContentBlock{
				{Type: models.BlockText, Text: "let me check"},
				{Type: models.BlockToolUse, ToolCall: &call},
			},
		},
	}

	out := toAgentMessages(msgs)
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].Content != "let me check" {
		t.Fatalf("expected content flattened from text block, got %q", out[0].Content)
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].ID != "call-1" {
		t.Fatalf("expected the tool_use block surfaced as a tool call, got %+v", out[0].ToolCalls)
	}
}

func TestToAgentMessages_DoesNotDuplicateToolCallsAlreadyPresent(t *testing.T) {
	call := models.ToolCall{ID: "call-1", Name: "search"}
	msgs := []models.Message{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{call},
			Blocks: []models.ContentBlock{
				{Type: models.BlockToolUse, ToolCall: &call},
			},
		},
	}

	out := toAgentMessages(msgs)
	if len(out[0].ToolCalls) != 1 {
		t.Fatalf("expected tool call to be deduplicated by id, got %+v", out[0].ToolCalls)
	}
}

func TestToAgentTools_WrapsManifestEntries(t *testing.T) {
	entries := []models.ToolManifestEntry{
		{Name: "search", Description: "search the web", Parameters: []byte(`{"type":"object"}`)},
		{Name: "empty_schema", Description: "no params"},
	}

	tools := toAgentTools(entries)
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name() != "search" || tools[0].Description() != "search the web" {
		t.Fatalf("unexpected tool fields: %+v", tools[0])
	}
	var schema map[string]any
	if err := json.Unmarshal(tools[0].Schema(), &schema); err != nil {
		t.Fatalf("expected valid JSON schema: %v", err)
	}
	if string(tools[1].Schema()) != "{}" {
		t.Fatalf("expected an empty-object fallback schema, got %q", tools[1].Schema())
	}

	if _, err := tools[0].Execute(nil, nil); err == nil {
		t.Fatal("expected manifest tools to refuse execution")
	}
}
