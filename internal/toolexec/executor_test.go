package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tronrun/tron/pkg/models"
)

func echoTool() *Tool {
	return &Tool{
		Name:              "echo",
		ExecutionContract: models.ContractContextual,
		ContextualExec: func(ctx context.Context, toolCallID string, args json.RawMessage, signal <-chan struct{}) (models.ToolResult, error) {
			var m map[string]any
			_ = json.Unmarshal(args, &m)
			text, _ := m["text"].(string)
			return models.ToolResult{Content: text}, nil
		},
	}
}

func optionsTool(progressed *[]string) *Tool {
	return &Tool{
		Name:              "stream_echo",
		ExecutionContract: models.ContractOptions,
		OptionsExec: func(ctx context.Context, args json.RawMessage, opts Options) (models.ToolResult, error) {
			if opts.OnProgress != nil {
				opts.OnProgress("chunk-1")
				*progressed = append(*progressed, "chunk-1")
			}
			return models.ToolResult{Content: "done"}, nil
		},
	}
}

func newTestExecutor(reg *Registry, hooks *HookRegistry, guardrail Guardrail, sizer ResultSizer) *Executor {
	return NewExecutor(reg, hooks, guardrail, sizer, nil, nil, DefaultConfig())
}

func TestExecutor_ToolNotFound(t *testing.T) {
	reg := NewRegistry()
	exec := newTestExecutor(reg, nil, nil, nil)

	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "missing"}, nil)

	if !resp.Result.IsError {
		t.Fatal("expected an error result for a missing tool")
	}
	if resp.Result.Content != "Tool not found: missing" {
		t.Errorf("Content = %q", resp.Result.Content)
	}
}

func TestExecutor_ContextualContractInvoked(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	exec := newTestExecutor(reg, nil, nil, nil)

	args, _ := json.Marshal(map[string]any{"text": "hi"})
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo", Arguments: args}, nil)

	if resp.Result.IsError {
		t.Fatalf("unexpected error: %s", resp.Result.Content)
	}
	if resp.Result.Content != "hi" {
		t.Errorf("Content = %q, want %q", resp.Result.Content, "hi")
	}
}

func TestExecutor_OptionsContractStreamsProgress(t *testing.T) {
	reg := NewRegistry()
	var progressed []string
	reg.Register(optionsTool(&progressed))
	exec := newTestExecutor(reg, nil, nil, nil)

	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "stream_echo"}, nil)

	if resp.Result.Content != "done" {
		t.Errorf("Content = %q, want %q", resp.Result.Content, "done")
	}
	if len(progressed) != 1 {
		t.Errorf("expected one progress chunk, got %v", progressed)
	}
}

func TestExecutor_GuardrailBlocksExecution(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	guardrail := GuardrailFunc(func(ctx context.Context, req GuardrailRequest) (GuardrailVerdict, error) {
		return GuardrailVerdict{Blocked: true, BlockReason: "denied by policy"}, nil
	})
	exec := newTestExecutor(reg, nil, guardrail, nil)

	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo"}, nil)

	if !resp.Result.IsError {
		t.Fatal("expected the guardrail to block execution")
	}
}

func TestExecutor_PreHookBlockShortCircuits(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	hooks := NewHookRegistry(nil)
	hooks.Register(HookPreToolUse, HookHandler{
		Name: "blocker",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionBlock, Reason: "not allowed"}, nil
		},
	})
	exec := newTestExecutor(reg, hooks, nil, nil)

	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo"}, nil)

	if !resp.Result.IsError {
		t.Fatal("expected the pre-hook block to short-circuit execution")
	}
}

func TestExecutor_PreHookModifyMergesArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	hooks := NewHookRegistry(nil)
	hooks.Register(HookPreToolUse, HookHandler{
		Name: "modifier",
		Handler: func(ctx context.Context, hc HookContext) (HookResult, error) {
			return HookResult{Action: ActionModify, Modifications: map[string]any{"text": "modified"}}, nil
		},
	})
	exec := newTestExecutor(reg, hooks, nil, nil)

	args, _ := json.Marshal(map[string]any{"text": "original"})
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo", Arguments: args}, nil)

	if resp.Result.Content != "modified" {
		t.Errorf("Content = %q, want %q", resp.Result.Content, "modified")
	}
}

func TestExecutor_ActiveToolTracksInFlightCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	exec := newTestExecutor(reg, nil, nil, nil)

	if exec.ActiveTool() != "" {
		t.Error("expected no active tool before any call")
	}
	exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo"}, nil)
	if exec.ActiveTool() != "" {
		t.Error("expected no active tool after the call completes")
	}
}

type truncatingSizer struct{}

func (truncatingSizer) ProcessToolResult(content string) (string, bool, int) {
	return "trunc", true, len(content)
}

func TestExecutor_SafetyNetMarksTruncation(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	exec := newTestExecutor(reg, nil, nil, truncatingSizer{})

	args, _ := json.Marshal(map[string]any{"text": "a very long result"})
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo", Arguments: args}, nil)

	if !resp.Result.Truncated {
		t.Error("expected Truncated = true")
	}
	if resp.Result.OriginalSize != len("a very long result") {
		t.Errorf("OriginalSize = %d, want %d", resp.Result.OriginalSize, len("a very long result"))
	}
}

func TestExecutor_MetricsCountExecutionsAndErrors(t *testing.T) {
	reg := NewRegistry()
	exec := newTestExecutor(reg, nil, nil, nil)

	exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "missing"}, nil)

	m := exec.Metrics()
	if m.TotalExecutions != 1 {
		t.Errorf("TotalExecutions = %d, want 1", m.TotalExecutions)
	}
}
