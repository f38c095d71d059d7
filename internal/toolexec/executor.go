package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/internal/observability"
	"github.com/tronrun/tron/pkg/models"
)

// ExecutorMetrics tracks executor performance counters across every
// call(), independent of any single tool's success or failure.
type ExecutorMetrics struct {
	TotalExecutions int64
	TotalBlocked    int64
	TotalErrors     int64
	TotalTimeouts   int64
}

func (m *ExecutorMetrics) snapshot() ExecutorMetrics {
	return ExecutorMetrics{
		TotalExecutions: atomic.LoadInt64(&m.TotalExecutions),
		TotalBlocked:    atomic.LoadInt64(&m.TotalBlocked),
		TotalErrors:     atomic.LoadInt64(&m.TotalErrors),
		TotalTimeouts:   atomic.LoadInt64(&m.TotalTimeouts),
	}
}

// Config tunes the Executor.
type Config struct {
	DefaultTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DefaultTimeout: 30 * time.Second}
}

// Executor is the Tool Executor (C3): it runs the guardrail -> pre-hook ->
// invoke -> safety-net -> post-hook -> emit sequence for a single tool
// call at a time. At most one tool is "active" within a given Executor.
type Executor struct {
	registry  *Registry
	hooks     *HookRegistry
	guardrail Guardrail
	sizer     ResultSizer
	emitter   *eventbus.Emitter
	logger    *observability.Logger
	config    Config

	metrics ExecutorMetrics

	mu         sync.Mutex
	activeTool string
}

func NewExecutor(registry *Registry, hooks *HookRegistry, guardrail Guardrail, sizer ResultSizer, emitter *eventbus.Emitter, logger *observability.Logger, config Config) *Executor {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if sizer == nil {
		sizer = NoopResultSizer{}
	}
	if hooks == nil {
		hooks = NewHookRegistry(logger)
	}
	return &Executor{
		registry:  registry,
		hooks:     hooks,
		guardrail: guardrail,
		sizer:     sizer,
		emitter:   emitter,
		logger:    logger,
		config:    config,
	}
}

// ActiveTool returns the name of the tool currently executing, or "" if
// the executor is idle.
func (e *Executor) ActiveTool() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeTool
}

// Metrics returns a point-in-time snapshot of the executor's counters.
func (e *Executor) Metrics() ExecutorMetrics {
	return e.metrics.snapshot()
}

// Request is the Tool Executor's input (§4.3).
type Request struct {
	ToolCallID string
	ToolName   string
	Arguments  json.RawMessage
	SessionID  string

	// SessionState is passed through to the Guardrail, not to the tool.
	SessionState map[string]any
}

// Response is the Tool Executor's output.
type Response struct {
	ToolCallID string
	Result     models.ToolResult
	Duration   time.Duration
}

// Execute runs the full sequence for a single tool call: Resolve,
// Guardrail, PreToolUse hooks, Invoke, Safety net, PostToolUse hooks,
// Emit. signal is the enclosing turn's cooperative abort channel.
func (e *Executor) Execute(ctx context.Context, req Request, signal <-chan struct{}) Response {
	atomic.AddInt64(&e.metrics.TotalExecutions, 1)
	start := time.Now()

	e.mu.Lock()
	e.activeTool = req.ToolName
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.activeTool = ""
		e.mu.Unlock()
	}()

	// 1. Resolve.
	tool, ok := e.registry.Get(req.ToolName)
	if !ok {
		return Response{
			ToolCallID: req.ToolCallID,
			Result: models.ToolResult{
				ToolCallID: req.ToolCallID,
				Content:    fmt.Sprintf("Tool not found: %s", req.ToolName),
				IsError:    true,
			},
			Duration: time.Since(start),
		}
	}

	args, err := decodeArgs(req.Arguments)
	if err != nil {
		return e.errorResponse(req, start, fmt.Sprintf("invalid tool arguments: %v", err))
	}

	// 2. Guardrail evaluation.
	if e.guardrail != nil {
		verdict, gerr := e.guardrail.Evaluate(ctx, GuardrailRequest{
			ToolName:     req.ToolName,
			Arguments:    args,
			SessionState: req.SessionState,
			SessionID:    req.SessionID,
			ToolCallID:   req.ToolCallID,
		})
		if gerr == nil && verdict.Blocked {
			atomic.AddInt64(&e.metrics.TotalBlocked, 1)
			return e.errorResponse(req, start, fmt.Sprintf("Tool execution blocked: %s", verdict.BlockReason))
		}
	}

	// 3. PreToolUse hooks.
	if e.emitter != nil {
		e.emitter.HookTriggered(string(HookPreToolUse), e.hooks.names(HookPreToolUse))
	}
	action, reason, mergedArgs := e.hooks.runPreToolUse(ctx, HookContext{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		SessionID:  req.SessionID,
		Arguments:  args,
	})
	if e.emitter != nil {
		e.emitter.HookCompleted(string(HookPreToolUse))
	}
	if action == ActionBlock {
		return e.errorResponse(req, start, fmt.Sprintf("Tool execution blocked: %s", reason))
	}
	argsJSON, err := json.Marshal(mergedArgs)
	if err != nil {
		return e.errorResponse(req, start, fmt.Sprintf("invalid tool arguments after hook modification: %v", err))
	}
	if err := e.registry.validateArgs(tool, argsJSON); err != nil {
		return e.errorResponse(req, start, fmt.Sprintf("tool arguments failed schema validation: %v", err))
	}

	// 4. Invoke.
	if e.emitter != nil {
		e.emitter.ToolExecutionStart(req.ToolCallID, req.ToolName, argsJSON)
	}
	result := e.invoke(ctx, tool, req, argsJSON, signal)

	// 5. Safety net.
	processed, truncated, originalSize := e.sizer.ProcessToolResult(result.Content)
	if truncated {
		result.Content = processed
		result.Truncated = true
		result.OriginalSize = originalSize
	}

	// 6. PostToolUse hooks (cannot modify the result).
	if e.emitter != nil {
		e.emitter.HookTriggered(string(HookPostToolUse), e.hooks.names(HookPostToolUse))
	}
	e.hooks.runPostToolUse(ctx, HookContext{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		SessionID:  req.SessionID,
		Arguments:  mergedArgs,
		Result:     &HookResultView{Content: result.Content, IsError: result.IsError},
	})
	if e.emitter != nil {
		e.emitter.HookCompleted(string(HookPostToolUse))
	}

	duration := time.Since(start)
	if result.IsError {
		atomic.AddInt64(&e.metrics.TotalErrors, 1)
	}

	// 7. Emit.
	if e.emitter != nil {
		e.emitter.ToolExecutionEnd(req.ToolCallID, duration.Milliseconds(), result.IsError, result.Content)
	}

	return Response{ToolCallID: req.ToolCallID, Result: result, Duration: duration}
}

func (e *Executor) invoke(ctx context.Context, tool *Tool, req Request, argsJSON json.RawMessage, signal <-chan struct{}) models.ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	type outcome struct {
		result models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		var res models.ToolResult
		var err error
		switch tool.ExecutionContract {
		case models.ContractOptions:
			var progress ProgressFunc
			if e.emitter != nil {
				progress = func(chunk string) { e.emitter.ToolExecutionUpdate(req.ToolCallID, chunk) }
			}
			res, err = tool.OptionsExec(toolCtx, argsJSON, Options{
				ToolCallID: req.ToolCallID,
				SessionID:  req.SessionID,
				Signal:     signal,
				OnProgress: progress,
			})
		default:
			res, err = tool.ContextualExec(toolCtx, req.ToolCallID, argsJSON, signal)
		}
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return models.ToolResult{
				ToolCallID: req.ToolCallID,
				Content:    fmt.Sprintf("Tool execution error: %v", o.err),
				IsError:    true,
			}
		}
		o.result.ToolCallID = req.ToolCallID
		return o.result
	case <-toolCtx.Done():
		atomic.AddInt64(&e.metrics.TotalTimeouts, 1)
		return models.ToolResult{
			ToolCallID: req.ToolCallID,
			Content:    fmt.Sprintf("Tool execution error: timed out after %v", e.config.DefaultTimeout),
			IsError:    true,
		}
	case <-signal:
		return models.ToolResult{
			ToolCallID: req.ToolCallID,
			Content:    "Tool execution error: aborted",
			IsError:    true,
		}
	}
}

func (e *Executor) errorResponse(req Request, start time.Time, msg string) Response {
	if e.emitter != nil {
		e.emitter.ToolExecutionEnd(req.ToolCallID, time.Since(start).Milliseconds(), true, msg)
	}
	return Response{
		ToolCallID: req.ToolCallID,
		Result: models.ToolResult{
			ToolCallID: req.ToolCallID,
			Content:    msg,
			IsError:    true,
		},
		Duration: time.Since(start),
	}
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
