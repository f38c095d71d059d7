package toolexec

import (
	"context"
	"time"

	"github.com/tronrun/tron/internal/observability"
)

// HookPoint identifies one of the six lifecycle points a hook can register
// against (§6's Hook interface).
type HookPoint string

const (
	HookSessionStart    HookPoint = "SessionStart"
	HookUserPromptSubmit HookPoint = "UserPromptSubmit"
	HookPreToolUse       HookPoint = "PreToolUse"
	HookPostToolUse      HookPoint = "PostToolUse"
	HookStop             HookPoint = "Stop"
	HookSessionEnd       HookPoint = "SessionEnd"
)

// HookAction is what a hook handler asks the caller to do.
type HookAction string

const (
	ActionContinue HookAction = "continue"
	ActionBlock    HookAction = "block"
	ActionModify   HookAction = "modify"
)

// HookContext is what a PreToolUse/PostToolUse handler receives.
type HookContext struct {
	ToolCallID string
	ToolName   string
	SessionID  string
	Arguments  map[string]any

	// Result is populated for PostToolUse only.
	Result *HookResultView
}

// HookResultView is a read-only projection of a tool result, for
// PostToolUse hooks (which cannot modify the result).
type HookResultView struct {
	Content string
	IsError bool
}

// HookResult is a handler's verdict.
type HookResult struct {
	Action        HookAction
	Reason        string
	Modifications map[string]any
}

// HookHandler runs at a named hook point. Handlers that panic, return an
// error, or exceed Timeout are treated as `continue` (fail-open).
type HookHandler struct {
	Name    string
	Timeout time.Duration
	Handler func(ctx context.Context, hc HookContext) (HookResult, error)
}

// HookRegistry holds handlers grouped by lifecycle point, invoked in
// registration order.
type HookRegistry struct {
	handlers map[HookPoint][]HookHandler
	logger   *observability.Logger
}

func NewHookRegistry(logger *observability.Logger) *HookRegistry {
	return &HookRegistry{handlers: make(map[HookPoint][]HookHandler), logger: logger}
}

func (r *HookRegistry) Register(point HookPoint, h HookHandler) {
	r.handlers[point] = append(r.handlers[point], h)
}

// names returns the registered handler names for a point, for the
// hook_triggered event's hook_names payload.
func (r *HookRegistry) names(point HookPoint) []string {
	hs := r.handlers[point]
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.Name
	}
	return names
}

// runPreToolUse runs every registered PreToolUse handler in order. A block
// short-circuits; a modify merges into the running argument view so later
// handlers see the merged result. Fail-open: handler error, panic, or
// timeout is logged and treated as continue.
func (r *HookRegistry) runPreToolUse(ctx context.Context, hc HookContext) (HookAction, string, map[string]any) {
	args := hc.Arguments
	for _, h := range r.handlers[HookPreToolUse] {
		hc.Arguments = args
		res, ok := r.invoke(ctx, h, hc)
		if !ok {
			continue
		}
		switch res.Action {
		case ActionBlock:
			return ActionBlock, res.Reason, args
		case ActionModify:
			args = mergeArgs(args, res.Modifications)
		}
	}
	return ActionContinue, "", args
}

// runPostToolUse runs every registered PostToolUse handler; results cannot
// be modified, so return values beyond a logged outcome are not consumed.
func (r *HookRegistry) runPostToolUse(ctx context.Context, hc HookContext) {
	for _, h := range r.handlers[HookPostToolUse] {
		r.invoke(ctx, h, hc)
	}
}

func (r *HookRegistry) invoke(ctx context.Context, h HookHandler, hc HookContext) (res HookResult, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			if r.logger != nil {
				r.logger.Warn(ctx, "hook handler panicked, treating as continue",
					"hook", h.Name, "panic", rec)
			}
		}
	}()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	var herr error
	go func() {
		defer close(done)
		res, herr = h.Handler(hctx, hc)
	}()

	select {
	case <-done:
		if herr != nil {
			if r.logger != nil {
				r.logger.Warn(ctx, "hook handler returned an error, treating as continue",
					"hook", h.Name, "error", herr)
			}
			return HookResult{}, false
		}
		return res, true
	case <-hctx.Done():
		if r.logger != nil {
			r.logger.Warn(ctx, "hook handler timed out, treating as continue", "hook", h.Name)
		}
		return HookResult{}, false
	}
}

func mergeArgs(base, mods map[string]any) map[string]any {
	if len(mods) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(mods))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range mods {
		merged[k] = v
	}
	return merged
}
