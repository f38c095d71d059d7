// Package toolexec implements the Tool Executor (C3): capability dispatch
// with guardrails, pre/post hooks, and the two tool calling contracts.
package toolexec

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tronrun/tron/pkg/models"
)

// ProgressFunc streams incremental tool output to the bus while a tool using
// the options contract is running.
type ProgressFunc func(chunk string)

// Options is the calling contract for tools that want a progress callback
// and direct access to their own tool-call/session identifiers.
type Options struct {
	ToolCallID string
	SessionID  string
	Signal     <-chan struct{}
	OnProgress ProgressFunc
}

// OptionsFunc is the *options* execution contract: `(args, options)`.
type OptionsFunc func(ctx context.Context, args json.RawMessage, opts Options) (models.ToolResult, error)

// ContextualFunc is the *contextual* execution contract: `(tool_call_id,
// args, signal)` with no progress stream.
type ContextualFunc func(ctx context.Context, toolCallID string, args json.RawMessage, signal <-chan struct{}) (models.ToolResult, error)

// Tool is the executor-facing collaborator interface (§6). Every tool
// declares which of the two execution contracts it implements; exactly one
// of OptionsExec/ContextualExec must be set, matching ExecutionContract.
type Tool struct {
	Name                string
	Description         string
	Parameters          json.RawMessage // JSON-schema-shaped
	Category            models.ToolCategory
	ExecutionContract   models.ExecutionContract
	RequiresConfirmation bool

	OptionsExec    OptionsFunc
	ContextualExec ContextualFunc
}

// Registry is a thread-safe lookup table of tools by name. It also owns the
// compiled-schema cache for argument validation, since a schema only needs
// compiling once per tool regardless of how many times it is called.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	schema map[string]*compiledSchema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		schema: make(map[string]*compiledSchema),
	}
}

func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	delete(r.schema, t.Name) // force recompile on next validate, in case Parameters changed
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
