package turnrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tronrun/tron/internal/contextmgr"
	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/internal/observability"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/sessioncore"
	"github.com/tronrun/tron/internal/streamproc"
	"github.com/tronrun/tron/internal/toolexec"
	"github.com/tronrun/tron/pkg/models"
)

// Config tunes a Runner's multi-turn loop.
type Config struct {
	MaxTurns                int
	EstimatedResponseTokens int
	MaxTokens               int
	Temperature             float64
}

func DefaultConfig() Config {
	return Config{
		MaxTurns:                50,
		EstimatedResponseTokens: 4000,
		MaxTokens:               8192,
	}
}

// TurnResult is what a single RunTurn call produces.
type TurnResult struct {
	Turn          int
	Message       *models.Message
	ToolResults   []models.ToolResult
	StopReason    models.StopReason
	StopTurn      bool // a tool set ToolResult.StopTurn
	Aborted       bool
}

// Done reports whether the multi-turn loop should stop after this turn, per
// §4.5's four stop conditions (excluding max_turns, which the loop itself
// tracks) and excluding a non-recoverable error (surfaced separately).
func (r TurnResult) Done() bool {
	if r.Aborted || r.StopTurn {
		return true
	}
	if r.StopReason == models.StopEndTurn && len(r.ToolResults) == 0 {
		return true
	}
	return false
}

// Runner is the Turn Runner (§4.5) for a single session: it drives one
// model turn at a time through the Stream Processor and Tool Executor, and
// the RunToCompletion loop on top of it.
type Runner struct {
	sessionID  string
	provider   Provider
	executor   *toolexec.Executor
	ctxMgr     *contextmgr.Manager
	controller *sessioncore.Controller
	emitter    *eventbus.Emitter
	logger     *observability.Logger
	summarizer contextmgr.Summarizer
	config     Config
}

func New(
	sessionID string,
	provider Provider,
	executor *toolexec.Executor,
	ctxMgr *contextmgr.Manager,
	controller *sessioncore.Controller,
	emitter *eventbus.Emitter,
	logger *observability.Logger,
	summarizer contextmgr.Summarizer,
	config Config,
) *Runner {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultConfig().MaxTurns
	}
	if config.EstimatedResponseTokens <= 0 {
		config.EstimatedResponseTokens = DefaultConfig().EstimatedResponseTokens
	}
	return &Runner{
		sessionID:  sessionID,
		provider:   provider,
		executor:   executor,
		ctxMgr:     ctxMgr,
		controller: controller,
		emitter:    emitter,
		logger:     logger,
		summarizer: summarizer,
		config:     config,
	}
}

// RunTurn executes a single turn: pre-turn guardrail, stream, persist the
// assistant message, then run every requested tool call in order. abort is
// checked before streaming, between every tool call, and after every tool
// call completes.
func (r *Runner) RunTurn(ctx context.Context, turn int, userMessage *models.Message, abort <-chan struct{}) (*TurnResult, error) {
	session, ok := r.controller.ActiveSessionFor(r.sessionID)
	if !ok {
		return nil, runtimeerr.New(runtimeerr.CategoryLogAppend, fmt.Errorf("session %s is not active", r.sessionID))
	}
	if session.Context.IsProcessing() {
		return nil, runtimeerr.New(runtimeerr.CategoryAbort, runtimeerr.ErrSessionBusy)
	}

	runID := uuid.NewString()
	session.Context.SetProcessing(true, runID)
	defer session.Context.SetProcessing(false, "")
	defer session.Touch()

	if userMessage != nil {
		r.ctxMgr.AddMessage(*userMessage)
		if err := r.appendMessageEvent(ctx, *userMessage); err != nil {
			return nil, runtimeerr.New(runtimeerr.CategoryLogAppend, err)
		}
	}

	if err := r.guardPreTurn(ctx, session); err != nil {
		return nil, err
	}

	if err := checkAbort(abort); err != nil {
		return nil, runtimeerr.New(runtimeerr.CategoryAbort, err)
	}

	if r.emitter != nil {
		r.emitter.SetTurn(turn)
		r.emitter.TurnStart(turn)
	}
	start := time.Now()

	req := CompletionRequest{
		Model:        session.Model(),
		SystemPrompt: "",
		Messages:     r.ctxMgr.GetMessages(),
		MaxTokens:    r.config.MaxTokens,
		Temperature:  r.config.Temperature,
	}
	events, err := r.provider.Stream(ctx, req)
	if err != nil {
		return r.failTurn(ctx, turn, start, runtimeerr.New(runtimeerr.CategoryProviderTransport, err))
	}

	processor := streamproc.New(r.emitter, streamproc.Callbacks{})
	result, err := processor.Run(ctx, events, abort)
	if err != nil {
		if sf, ok := err.(*streamproc.StreamFailure); ok && sf.Kind == streamproc.FailedAborted {
			if r.emitter != nil {
				r.emitter.AgentInterrupted(sf.PartialText)
			}
			return &TurnResult{Turn: turn, Aborted: true, StopReason: models.StopAborted}, nil
		}
		return r.failTurn(ctx, turn, start, runtimeerr.New(runtimeerr.CategoryProviderTransport, err))
	}

	if r.emitter != nil {
		var inTok, outTok int
		if result.Message.Usage != nil {
			inTok, outTok = result.Message.Usage.InputTokens, result.Message.Usage.OutputTokens
		}
		r.emitter.ResponseComplete(len(result.ToolCalls) > 0, inTok, outTok)
	}

	result.Message.SessionID = r.sessionID
	if result.Message.ID == "" {
		result.Message.ID = uuid.NewString()
	}
	result.Message.CreatedAt = time.Now().UTC()
	if result.Message.Usage != nil {
		r.ctxMgr.SetApiContextTokens(result.Message.Usage.Total())
	}
	r.ctxMgr.AddMessage(*result.Message)
	if err := r.appendMessageEvent(ctx, *result.Message); err != nil {
		return r.failTurn(ctx, turn, start, runtimeerr.New(runtimeerr.CategoryLogAppend, err))
	}

	turnRes := &TurnResult{Turn: turn, Message: result.Message, StopReason: result.StopReason}

	if len(result.ToolCalls) > 0 {
		toolResults, stopTurn, aborted, terr := r.runToolCalls(ctx, turn, result.ToolCalls, abort)
		turnRes.ToolResults = toolResults
		turnRes.StopTurn = stopTurn
		turnRes.Aborted = aborted
		if terr != nil {
			return r.failTurn(ctx, turn, start, terr)
		}
	}

	if r.emitter != nil {
		r.emitter.TurnEnd(turn, time.Since(start).Milliseconds())
	}
	return turnRes, nil
}

func (r *Runner) runToolCalls(ctx context.Context, turn int, calls []models.ToolCall, abort <-chan struct{}) (results []models.ToolResult, stopTurn, aborted bool, err error) {
	callIDs := make([]string, len(calls))
	for i, c := range calls {
		callIDs[i] = c.ID
	}
	if r.emitter != nil {
		r.emitter.ToolUseBatch(callIDs)
	}

	for _, call := range calls {
		if abortErr := checkAbort(abort); abortErr != nil {
			return results, stopTurn, true, nil
		}

		resp := r.executor.Execute(ctx, toolexec.Request{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.Input,
			SessionID:  r.sessionID,
		}, abort)

		results = append(results, resp.Result)

		toolMsg := models.Message{
			ID:          uuid.NewString(),
			SessionID:   r.sessionID,
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{resp.Result},
			CreatedAt:   time.Now().UTC(),
		}
		r.ctxMgr.AddMessage(toolMsg)
		if appendErr := r.appendMessageEvent(ctx, toolMsg); appendErr != nil {
			return results, stopTurn, aborted, runtimeerr.New(runtimeerr.CategoryLogAppend, appendErr)
		}

		if resp.Result.StopTurn {
			stopTurn = true
		}

		if abortErr := checkAbort(abort); abortErr != nil {
			return results, stopTurn, true, nil
		}
		if stopTurn {
			break
		}
	}
	return results, stopTurn, aborted, nil
}

// guardPreTurn applies the Context Manager's pre-turn decision rules,
// compacting automatically when a summarizer is configured and the
// threshold demands it, and failing the turn outright otherwise.
func (r *Runner) guardPreTurn(ctx context.Context, session *sessioncore.ActiveSession) error {
	acceptance := r.ctxMgr.ValidatePreTurn(r.config.EstimatedResponseTokens, r.summarizer != nil)
	if acceptance.CanProceed && !acceptance.NeedsCompaction {
		return nil
	}
	if acceptance.NeedsCompaction && r.summarizer != nil {
		_, err := r.ctxMgr.ExecuteCompaction(ctx, r.summarizer, contextmgr.CompactionOptions{
			Reason:           models.CompactionPreTurnGuardrail,
			WorkingDirectory: session.WorkingDirectory(),
		})
		if err != nil {
			return runtimeerr.New(runtimeerr.CategorySummarizerFailure, err)
		}
		return nil
	}
	if !acceptance.CanProceed {
		return runtimeerr.New(runtimeerr.CategoryTokenLimit, fmt.Errorf("%s", acceptance.Error))
	}
	return nil
}

func (r *Runner) failTurn(ctx context.Context, turn int, start time.Time, rerr *runtimeerr.RuntimeError) (*TurnResult, error) {
	if r.emitter != nil {
		r.emitter.TurnFailed(string(rerr.Category), rerr.Code, rerr.Error(), rerr.Recoverable())
		r.emitter.TurnEnd(turn, time.Since(start).Milliseconds())
	}
	payload, _ := json.Marshal(models.TurnFailedPayload{
		Category:    string(rerr.Category),
		Code:        rerr.Code,
		Error:       rerr.Error(),
		Recoverable: rerr.Recoverable(),
	})
	_, _ = r.controller.Append(ctx, r.sessionID, models.Event{
		ID:      uuid.NewString(),
		Type:    models.EventTurnFailed,
		Payload: payload,
	})
	return &TurnResult{Turn: turn, StopReason: models.StopAborted}, rerr
}

func (r *Runner) appendMessageEvent(ctx context.Context, msg models.Message) error {
	payload, err := sessioncore.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = r.controller.Append(ctx, r.sessionID, models.Event{
		ID:      uuid.NewString(),
		Type:    sessioncore.MessageEventType(msg.Role),
		Payload: payload,
	})
	return err
}

func checkAbort(abort <-chan struct{}) error {
	if abort == nil {
		return nil
	}
	select {
	case <-abort:
		return runtimeerr.ErrAborted
	default:
		return nil
	}
}
