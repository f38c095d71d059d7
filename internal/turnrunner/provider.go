// Package turnrunner implements the Turn Runner (§4.5): the per-session
// turn state machine, the multi-turn loop, subagent orchestration, and the
// atomic model-switch sequence. It drives the already-built Stream
// Processor (internal/streamproc), Tool Executor (internal/toolexec),
// Context Manager (internal/contextmgr) and Session/Event Controller
// (internal/sessioncore) collaborators for a single session at a time.
package turnrunner

import (
	"context"

	"github.com/tronrun/tron/internal/streamproc"
	"github.com/tronrun/tron/pkg/models"
)

// CompletionRequest is what the Turn Runner sends a Provider to start one
// model turn.
type CompletionRequest struct {
	Model         string
	SystemPrompt  string
	Messages      []models.Message
	Tools         []models.ToolManifestEntry
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

// Provider is the external collaborator (§6) that turns a CompletionRequest
// into a lazy stream of events. Each call must produce a fresh channel;
// Stream is responsible for closing it once the stream ends (Done, Error,
// or ctx cancellation).
type Provider interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan streamproc.StreamEvent, error)
}

// CredentialResolver refreshes provider credentials on a model switch, when
// the new model belongs to a different provider/account than the one
// currently loaded.
type CredentialResolver interface {
	Resolve(ctx context.Context, model string) error
}
