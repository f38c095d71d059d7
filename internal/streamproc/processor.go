// Package streamproc implements the Stream Processor (C2): an incremental
// decoder that consumes a provider's lazy stream-event sequence and produces
// a finalized assistant message plus extracted tool calls.
package streamproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/pkg/models"
)

// StreamEventKind is the stream alphabet from §4.2.
type StreamEventKind string

const (
	KindStart         StreamEventKind = "start"
	KindTextStart     StreamEventKind = "text_start"
	KindTextDelta     StreamEventKind = "text_delta"
	KindTextEnd       StreamEventKind = "text_end"
	KindThinkingStart StreamEventKind = "thinking_start"
	KindThinkingDelta StreamEventKind = "thinking_delta"
	KindThinkingEnd   StreamEventKind = "thinking_end"
	KindToolCallEnd   StreamEventKind = "toolcall_end"
	KindRetry         StreamEventKind = "retry"
	KindError         StreamEventKind = "error"
	KindDone          StreamEventKind = "done"
)

// StreamEvent is one item of the provider's stream. Only the fields
// relevant to Kind are populated.
type StreamEvent struct {
	Kind StreamEventKind

	Delta string // text_delta, thinking_delta
	Text  string // text_end, thinking_end

	ToolCall *models.ToolCall // toolcall_end

	Attempt int    // retry
	Max     int    // retry
	DelayMS int64  // retry
	Err     error  // retry, error

	Message    *models.Message  // done
	StopReason models.StopReason // done
}

// FailureKind categorizes why stream processing failed, for callers that
// need to branch (in particular, Aborted preserves the partial buffer).
type FailureKind string

const (
	FailedError             FailureKind = "error"
	FailedAborted           FailureKind = "aborted"
	FailedNoResponseReceived FailureKind = "no_response_received"
)

// StreamFailure is returned (wrapped in an error) when processing does not
// reach Done.
type StreamFailure struct {
	Kind FailureKind
	Err  error

	// PartialText/PartialThinking preserve the accumulated buffers so a
	// caller can surface partial_content even on failure — required for
	// FailedAborted in particular.
	PartialText     string
	PartialThinking string
}

func (f *StreamFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("stream failed (%s): %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("stream failed (%s)", f.Kind)
}

func (f *StreamFailure) Unwrap() error { return f.Err }

// Result is what a successful Run produces.
type Result struct {
	Message            *models.Message
	ToolCalls          []models.ToolCall
	AccumulatedText    string
	AccumulatedThink   string
	StopReason         models.StopReason
}

// state machine phases, tracked only for assertions/debugging.
type phase int

const (
	phaseIdle phase = iota
	phaseStreaming
	phaseDone
	phaseFailed
	phaseAborted
)

// Callbacks are optional hooks invoked as the processor consumes deltas, in
// addition to the events emitted on the bus.
type Callbacks struct {
	OnTextDelta    func(delta string)
	OnToolCallEnd  func(call models.ToolCall)
}

// Processor runs the stream state machine for a single turn.
type Processor struct {
	emitter *eventbus.Emitter
	cb      Callbacks
	phase   phase
}

// Phase returns the processor's current state-machine phase.
func (p *Processor) Phase() phase { return p.phase }

func New(emitter *eventbus.Emitter, cb Callbacks) *Processor {
	return &Processor{emitter: emitter, cb: cb}
}

// Run drains events from the given channel until Done, Error, or the
// channel closes without a Done event. abort is checked between every
// incoming event, per §4.2's "check must occur between every incoming
// stream event" rule.
func (p *Processor) Run(ctx context.Context, events <-chan StreamEvent, abort <-chan struct{}) (*Result, error) {
	p.phase = phaseIdle
	var textBuf, thinkBuf []byte
	var toolCalls []models.ToolCall
	seenToolIDs := make(map[string]bool)
	thinkingStarted := false
	textStarted := false

	p.phase = phaseStreaming

	checkAbort := func() error {
		select {
		case <-abort:
			p.phase = phaseAborted
			return &StreamFailure{
				Kind:            FailedAborted,
				PartialText:     string(textBuf),
				PartialThinking: string(thinkBuf),
			}
		case <-ctx.Done():
			p.phase = phaseAborted
			return &StreamFailure{
				Kind:            FailedAborted,
				Err:             ctx.Err(),
				PartialText:     string(textBuf),
				PartialThinking: string(thinkBuf),
			}
		default:
			return nil
		}
	}

	for {
		if err := checkAbort(); err != nil {
			return nil, err
		}

		ev, ok := <-events
		if !ok {
			p.phase = phaseFailed
			return nil, &StreamFailure{
				Kind:            FailedNoResponseReceived,
				Err:             errors.New("stream exhausted without a done event"),
				PartialText:     string(textBuf),
				PartialThinking: string(thinkBuf),
			}
		}

		if err := checkAbort(); err != nil {
			return nil, err
		}

		switch ev.Kind {
		case KindStart:
			// no-op; emitted by provider before first content event.

		case KindTextStart:
			textStarted = true
			if p.emitter != nil {
				p.emitter.TextStart()
			}

		case KindTextDelta:
			textBuf = append(textBuf, ev.Delta...)
			if p.emitter != nil {
				p.emitter.MessageUpdate(ev.Delta)
			}
			if p.cb.OnTextDelta != nil {
				p.cb.OnTextDelta(ev.Delta)
			}

		case KindTextEnd:
			if p.emitter != nil {
				p.emitter.TextEnd(ev.Text)
			}

		case KindThinkingStart:
			thinkingStarted = true
			if p.emitter != nil {
				p.emitter.ThinkingStart()
			}

		case KindThinkingDelta:
			thinkBuf = append(thinkBuf, ev.Delta...)
			if p.emitter != nil {
				p.emitter.ThinkingDelta(ev.Delta)
			}

		case KindThinkingEnd:
			if p.emitter != nil {
				p.emitter.ThinkingEnd(ev.Text)
			}

		case KindToolCallEnd:
			if ev.ToolCall != nil && !seenToolIDs[ev.ToolCall.ID] {
				toolCalls = append(toolCalls, *ev.ToolCall)
				seenToolIDs[ev.ToolCall.ID] = true
			}
			if p.cb.OnToolCallEnd != nil && ev.ToolCall != nil {
				p.cb.OnToolCallEnd(*ev.ToolCall)
			}

		case KindRetry:
			if p.emitter != nil {
				var errText string
				if ev.Err != nil {
					errText = ev.Err.Error()
				}
				p.emitter.APIRetry(ev.Attempt, ev.Max, msToDuration(ev.DelayMS), errText)
			}

		case KindError:
			p.phase = phaseFailed
			return nil, &StreamFailure{
				Kind:            FailedError,
				Err:             ev.Err,
				PartialText:     string(textBuf),
				PartialThinking: string(thinkBuf),
			}

		case KindDone:
			p.phase = phaseDone
			return p.finish(ev, textBuf, thinkBuf, toolCalls, seenToolIDs, textStarted, thinkingStarted)

		default:
			// unknown event kind: ignore for forward compatibility.
		}
	}
}

func (p *Processor) finish(
	ev StreamEvent,
	textBuf, thinkBuf []byte,
	toolCalls []models.ToolCall,
	seenToolIDs map[string]bool,
	textStarted, thinkingStarted bool,
) (*Result, error) {
	msg := ev.Message
	if msg == nil || (msg.Content == "" && len(msg.Blocks) == 0 && len(textBuf) > 0) {
		msg = synthesizeMessage(string(textBuf))
	}

	// Deduplicate tool calls that appear both via toolcall_end and inside
	// the final message, by id.
	for _, blk := range msg.Blocks {
		if blk.Type == models.BlockToolUse && blk.ToolCall != nil {
			if !seenToolIDs[blk.ToolCall.ID] {
				toolCalls = append(toolCalls, *blk.ToolCall)
				seenToolIDs[blk.ToolCall.ID] = true
			}
		}
	}

	stopReason := ev.StopReason
	if stopReason == "" {
		stopReason = msg.StopReason
	}
	msg.StopReason = stopReason

	thinking := string(thinkBuf)
	// Thinking that ended as the empty string is reported as absent, not
	// an empty string: only attach a thinking block if there is content.
	if thinkingStarted && thinking != "" {
		hasThinkBlock := false
		for _, b := range msg.Blocks {
			if b.Type == models.BlockThink {
				hasThinkBlock = true
				break
			}
		}
		if !hasThinkBlock {
			msg.Blocks = append([]models.ContentBlock{{Type: models.BlockThink, Text: thinking}}, msg.Blocks...)
		}
	}
	_ = textStarted

	return &Result{
		Message:          msg,
		ToolCalls:        toolCalls,
		AccumulatedText:  string(textBuf),
		AccumulatedThink: thinking,
		StopReason:       stopReason,
	}, nil
}

func synthesizeMessage(text string) *models.Message {
	return &models.Message{
		Role: models.RoleAssistant,
		Blocks: []models.ContentBlock{
			{Type: models.BlockText, Text: text},
		},
		Content: text,
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
