package toolexec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHookRegistry_RunPreToolUse_ContinuesByDefault(t *testing.T) {
	r := NewHookRegistry(nil)
	r.Register(HookPreToolUse, HookHandler{
		Name: "noop",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionContinue}, nil
		},
	})

	action, _, _ := r.runPreToolUse(context.Background(), HookContext{ToolName: "t"})
	if action != ActionContinue {
		t.Errorf("action = %s, want %s", action, ActionContinue)
	}
}

func TestHookRegistry_HandlerErrorIsFailOpen(t *testing.T) {
	r := NewHookRegistry(nil)
	r.Register(HookPreToolUse, HookHandler{
		Name: "erroring",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionBlock, Reason: "should be ignored"}, errors.New("boom")
		},
	})

	action, _, _ := r.runPreToolUse(context.Background(), HookContext{ToolName: "t"})
	if action != ActionContinue {
		t.Errorf("action = %s, want %s (fail-open on handler error)", action, ActionContinue)
	}
}

func TestHookRegistry_HandlerPanicIsFailOpen(t *testing.T) {
	r := NewHookRegistry(nil)
	r.Register(HookPreToolUse, HookHandler{
		Name: "panicking",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			panic("boom")
		},
	})

	action, _, _ := r.runPreToolUse(context.Background(), HookContext{ToolName: "t"})
	if action != ActionContinue {
		t.Errorf("action = %s, want %s (fail-open on panic)", action, ActionContinue)
	}
}

func TestHookRegistry_HandlerTimeoutIsFailOpen(t *testing.T) {
	r := NewHookRegistry(nil)
	r.Register(HookPreToolUse, HookHandler{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			<-ctx.Done()
			return HookResult{Action: ActionBlock}, nil
		},
	})

	action, _, _ := r.runPreToolUse(context.Background(), HookContext{ToolName: "t"})
	if action != ActionContinue {
		t.Errorf("action = %s, want %s (fail-open on timeout)", action, ActionContinue)
	}
}

func TestHookRegistry_BlockShortCircuitsLaterHandlers(t *testing.T) {
	r := NewHookRegistry(nil)
	var secondCalled bool
	r.Register(HookPreToolUse, HookHandler{
		Name: "blocker",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionBlock, Reason: "blocked"}, nil
		},
	})
	r.Register(HookPreToolUse, HookHandler{
		Name: "second",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			secondCalled = true
			return HookResult{Action: ActionContinue}, nil
		},
	})

	action, reason, _ := r.runPreToolUse(context.Background(), HookContext{ToolName: "t"})
	if action != ActionBlock || reason != "blocked" {
		t.Errorf("action/reason = %s/%q, want %s/%q", action, reason, ActionBlock, "blocked")
	}
	if secondCalled {
		t.Error("expected the second handler not to run after a block")
	}
}

func TestHookRegistry_ModifyMergesAcrossHandlers(t *testing.T) {
	r := NewHookRegistry(nil)
	r.Register(HookPreToolUse, HookHandler{
		Name: "first",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionModify, Modifications: map[string]any{"a": 1}}, nil
		},
	})
	r.Register(HookPreToolUse, HookHandler{
		Name: "second",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			if hc.Arguments["a"] != 1 {
				t.Errorf("second handler did not see first handler's merged argument: %+v", hc.Arguments)
			}
			return HookResult{Action: ActionModify, Modifications: map[string]any{"b": 2}}, nil
		},
	})

	_, _, args := r.runPreToolUse(context.Background(), HookContext{ToolName: "t", Arguments: map[string]any{}})
	if args["a"] != 1 || args["b"] != 2 {
		t.Errorf("merged args = %+v, want a=1 b=2", args)
	}
}
