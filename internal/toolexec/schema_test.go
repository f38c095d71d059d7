package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tronrun/tron/pkg/models"
)

func schemaTool() *Tool {
	return &Tool{
		Name:              "write_file",
		ExecutionContract: models.ContractContextual,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
		ContextualExec: func(ctx context.Context, toolCallID string, args json.RawMessage, signal <-chan struct{}) (models.ToolResult, error) {
			return models.ToolResult{Content: "ok"}, nil
		},
	}
}

func TestExecutor_SchemaValidation_RejectsMissingRequiredField(t *testing.T) {
	reg := NewRegistry()
	reg.Register(schemaTool())
	exec := newTestExecutor(reg, nil, nil, nil)

	args, _ := json.Marshal(map[string]any{"path": "/tmp/x"}) // missing "content"
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "write_file", Arguments: args}, nil)

	if !resp.Result.IsError {
		t.Fatal("expected schema validation to reject the call")
	}
}

func TestExecutor_SchemaValidation_AcceptsValidArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(schemaTool())
	exec := newTestExecutor(reg, nil, nil, nil)

	args, _ := json.Marshal(map[string]any{"path": "/tmp/x", "content": "hello"})
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "write_file", Arguments: args}, nil)

	if resp.Result.IsError {
		t.Fatalf("unexpected error: %s", resp.Result.Content)
	}
}

func TestExecutor_SchemaValidation_SkippedWhenNoParameters(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool())
	exec := newTestExecutor(reg, nil, nil, nil)

	args, _ := json.Marshal(map[string]any{"text": "hi"})
	resp := exec.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "echo", Arguments: args}, nil)

	if resp.Result.IsError {
		t.Fatalf("unexpected error for a tool with no declared schema: %s", resp.Result.Content)
	}
}
