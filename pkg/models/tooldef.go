package models

// ExecutionContract names the calling convention a Tool implementation
// expects from the executor, as declared by the tool itself rather than
// inferred by type-switching on an interface hierarchy.
type ExecutionContract string

const (
	// ContractOptions passes (args, options{tool_call_id, session_id,
	// signal, on_progress}) — the tool may stream incremental output.
	ContractOptions ExecutionContract = "options"

	// ContractContextual passes (tool_call_id, args, signal) with no
	// progress stream.
	ContractContextual ExecutionContract = "contextual"
)

// ToolCategory loosely groups tools for guardrail policy and UI purposes.
type ToolCategory string

const (
	CategoryFilesystem ToolCategory = "filesystem"
	CategoryShell      ToolCategory = "shell"
	CategoryNetwork    ToolCategory = "network"
	CategoryAgent      ToolCategory = "agent"
	CategoryOther      ToolCategory = "other"
)
