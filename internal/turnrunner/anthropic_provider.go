package turnrunner

import (
	"context"
	"encoding/json"

	"github.com/tronrun/tron/internal/agent"
	"github.com/tronrun/tron/internal/agent/providers"
	"github.com/tronrun/tron/internal/streamproc"
	"github.com/tronrun/tron/pkg/models"
)

// AnthropicStreamProvider adapts the teacher's agent.LLMProvider-shaped
// AnthropicProvider (a full Anthropic SDK wrapper with retry, beta
// computer-use, and SSE stream handling already built) into the Turn
// Runner's narrower Provider interface (§6). It never duplicates the
// Anthropic wiring itself - it only translates request/response shapes at
// the boundary between turnrunner.CompletionRequest/streamproc.StreamEvent
// and agent.CompletionRequest/agent.CompletionChunk.
type AnthropicStreamProvider struct {
	inner *providers.AnthropicProvider

	// EnableThinking/ThinkingBudgetTokens apply uniformly to every request
	// this adapter sends, since turnrunner.CompletionRequest (§6) has no
	// per-turn thinking fields of its own.
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// NewAnthropicStreamProvider wraps an already-constructed AnthropicProvider.
func NewAnthropicStreamProvider(inner *providers.AnthropicProvider) *AnthropicStreamProvider {
	return &AnthropicStreamProvider{inner: inner}
}

// Stream implements Provider by delegating to the wrapped AnthropicProvider's
// Complete and translating the resulting channel of *agent.CompletionChunk
// into a channel of streamproc.StreamEvent.
func (a *AnthropicStreamProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan streamproc.StreamEvent, error) {
	areq := &agent.CompletionRequest{
		Model:                req.Model,
		System:               req.SystemPrompt,
		Messages:             toAgentMessages(req.Messages),
		Tools:                toAgentTools(req.Tools),
		MaxTokens:            req.MaxTokens,
		EnableThinking:       a.EnableThinking,
		ThinkingBudgetTokens: a.ThinkingBudgetTokens,
	}

	chunks, err := a.inner.Complete(ctx, areq)
	if err != nil {
		return nil, err
	}

	out := make(chan streamproc.StreamEvent)
	go translateAnthropicStream(chunks, out)
	return out, nil
}

// translateAnthropicStream consumes chunks until the source channel closes,
// emitting the §4.2 stream alphabet on out and always closing out on return.
func translateAnthropicStream(chunks <-chan *agent.CompletionChunk, out chan<- streamproc.StreamEvent) {
	defer close(out)

	var inTextBlock, inThinkBlock bool
	var inputTokens, outputTokens int

	emitTextStart := func() {
		if !inTextBlock {
			inTextBlock = true
			out <- streamproc.StreamEvent{Kind: streamproc.KindTextStart}
		}
	}
	emitThinkingStart := func() {
		if !inThinkBlock {
			inThinkBlock = true
			out <- streamproc.StreamEvent{Kind: streamproc.KindThinkingStart}
		}
	}

	for chunk := range chunks {
		if chunk == nil {
			continue
		}

		if chunk.Error != nil {
			out <- streamproc.StreamEvent{Kind: streamproc.KindError, Err: chunk.Error}
			return
		}

		if chunk.ThinkingStart {
			emitThinkingStart()
		}
		if chunk.Thinking != "" {
			emitThinkingStart()
			out <- streamproc.StreamEvent{Kind: streamproc.KindThinkingDelta, Delta: chunk.Thinking}
		}
		if chunk.ThinkingEnd && inThinkBlock {
			inThinkBlock = false
			out <- streamproc.StreamEvent{Kind: streamproc.KindThinkingEnd}
		}

		if chunk.Text != "" {
			emitTextStart()
			out <- streamproc.StreamEvent{Kind: streamproc.KindTextDelta, Delta: chunk.Text}
		}

		if chunk.ToolCall != nil {
			out <- streamproc.StreamEvent{Kind: streamproc.KindToolCallEnd, ToolCall: chunk.ToolCall}
		}

		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}

		if chunk.Done {
			if inTextBlock {
				out <- streamproc.StreamEvent{Kind: streamproc.KindTextEnd}
			}
			if inThinkBlock {
				out <- streamproc.StreamEvent{Kind: streamproc.KindThinkingEnd}
			}

			stopReason := models.StopEndTurn
			// the anthropic provider signals tool use only via ToolCall chunks,
			// not a dedicated stop-reason field, so infer it from the last chunk.
			if chunk.ToolCall != nil {
				stopReason = models.StopToolUse
			}

			var usage *models.TokenUsage
			if inputTokens > 0 || outputTokens > 0 {
				usage = &models.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens}
			}
			out <- streamproc.StreamEvent{
				Kind:       streamproc.KindDone,
				StopReason: stopReason,
				Message:    usageOnlyMessage(usage, stopReason),
			}
			return
		}
	}
}

// usageOnlyMessage returns nil when there's no usage to report, letting the
// Stream Processor synthesize the final message from its accumulated text
// buffer (per streamproc.Processor.finish); otherwise it returns a bare
// assistant message carrying only Usage/StopReason, which finish() still
// treats as synthesizable since Content/Blocks are empty.
func usageOnlyMessage(usage *models.TokenUsage, stopReason models.StopReason) *models.Message {
	if usage == nil {
		return nil
	}
	return &models.Message{
		Role:       models.RoleAssistant,
		Usage:      usage,
		StopReason: stopReason,
	}
}

// toAgentMessages converts the Turn Runner's unified message history into
// the shape agent.LLMProvider implementations expect. Assistant messages
// carry their content as blocks (§ pkg/models doc comment on Message); user
// and tool messages carry it as plain Content/ToolResults.
func toAgentMessages(msgs []models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		}
		if cm.Content == "" && len(m.Blocks) > 0 {
			cm.Content = blocksToText(m.Blocks)
		}
		cm.ToolCalls = append(cm.ToolCalls, blocksToolCalls(m.Blocks, cm.ToolCalls)...)
		out = append(out, cm)
	}
	return out
}

func blocksToText(blocks []models.ContentBlock) string {
	var text string
	for _, b := range blocks {
		if b.Type == models.BlockText {
			text += b.Text
		}
	}
	return text
}

// blocksToolCalls returns the tool_use blocks not already present in have,
// so a message's ToolCalls field and its Blocks aren't double-counted.
func blocksToolCalls(blocks []models.ContentBlock, have []models.ToolCall) []models.ToolCall {
	seen := make(map[string]bool, len(have))
	for _, tc := range have {
		seen[tc.ID] = true
	}
	var extra []models.ToolCall
	for _, b := range blocks {
		if b.Type == models.BlockToolUse && b.ToolCall != nil && !seen[b.ToolCall.ID] {
			extra = append(extra, *b.ToolCall)
			seen[b.ToolCall.ID] = true
		}
	}
	return extra
}

// toAgentTools wraps the Turn Runner's tool manifest entries (built by the
// Context Manager's per-turn snapshot) so they satisfy agent.Tool without
// the adapter needing the Tool Executor's actual implementations - a
// provider only ever calls Name/Description/Schema to build the API
// request; Execute is never invoked through this path.
func toAgentTools(entries []models.ToolManifestEntry) []agent.Tool {
	out := make([]agent.Tool, 0, len(entries))
	for _, e := range entries {
		out = append(out, manifestTool{entry: e})
	}
	return out
}

type manifestTool struct {
	entry models.ToolManifestEntry
}

func (t manifestTool) Name() string        { return t.entry.Name }
func (t manifestTool) Description() string { return t.entry.Description }
func (t manifestTool) Schema() json.RawMessage {
	if len(t.entry.Parameters) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(t.entry.Parameters)
}
func (t manifestTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return nil, errManifestToolNotExecutable
}

var errManifestToolNotExecutable = &manifestToolError{}

type manifestToolError struct{}

func (*manifestToolError) Error() string {
	return "manifest tool adapter does not execute tools; dispatch through the Tool Executor instead"
}
