package turnrunner

import (
	"context"
	"testing"

	"github.com/tronrun/tron/internal/contextmgr"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/sessioncore"
	"github.com/tronrun/tron/internal/streamproc"
	"github.com/tronrun/tron/internal/toolexec"
	"github.com/tronrun/tron/pkg/models"
)

type stubProvider struct{}

func (stubProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan streamproc.StreamEvent, error) {
	ch := make(chan streamproc.StreamEvent)
	close(ch)
	return ch, nil
}

type stubResolver struct {
	resolved string
	err      error
}

func (s *stubResolver) Resolve(ctx context.Context, model string) error {
	s.resolved = model
	return s.err
}

func newTestRunner(t *testing.T, sessionID string) (*Runner, *sessioncore.Controller) {
	t.Helper()
	controller := sessioncore.NewController(sessioncore.NewMemoryLog(), sessioncore.NewMemoryStore(), nil)
	t.Cleanup(controller.Close)

	ctx := context.Background()
	sess := &models.Session{ID: sessionID, LatestModel: "claude-old"}
	if err := controller.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	controller.Activate(sess)

	ctxMgr := contextmgr.NewManager(contextmgr.DefaultConfig(), nil)
	executor := toolexec.NewExecutor(toolexec.NewRegistry(), toolexec.NewHookRegistry(nil), nil, ctxMgr, nil, nil, toolexec.DefaultConfig())

	runner := New(sessionID, stubProvider{}, executor, ctxMgr, controller, nil, nil, nil, DefaultConfig())
	return runner, controller
}

func TestRunner_SwitchModelUpdatesActiveSessionAndAppendsEvent(t *testing.T) {
	runner, controller := newTestRunner(t, "sess-1")
	ctx := context.Background()
	resolver := &stubResolver{}

	err := runner.SwitchModel(ctx, ModelSwitchRequest{
		SessionID: "sess-1",
		NewModel:  "claude-new",
		NewLimit:  100_000,
	}, resolver, stubProvider{})
	if err != nil {
		t.Fatalf("SwitchModel: %v", err)
	}

	as, ok := controller.ActiveSessionFor("sess-1")
	if !ok {
		t.Fatal("expected sess-1 to still be active")
	}
	if as.Model() != "claude-new" {
		t.Fatalf("expected active session model to update, got %q", as.Model())
	}
	if resolver.resolved != "claude-new" {
		t.Fatalf("expected credential resolver to be called with the new model, got %q", resolver.resolved)
	}

	events, err := controller.GetEvents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Type == models.EventModelSwitch {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a config.model_switch event to have been appended")
	}
}

func TestRunner_SwitchModelRejectedWhileProcessing(t *testing.T) {
	runner, controller := newTestRunner(t, "sess-1")
	ctx := context.Background()

	as, _ := controller.ActiveSessionFor("sess-1")
	as.Context.SetProcessing(true, "run-1")
	defer as.Context.SetProcessing(false, "")

	err := runner.SwitchModel(ctx, ModelSwitchRequest{SessionID: "sess-1", NewModel: "claude-new"}, nil, nil)
	if err == nil {
		t.Fatal("expected an error switching models mid-turn")
	}
	rerr, ok := runtimeerr.As(err)
	if !ok || rerr.Category != runtimeerr.CategoryAbort {
		t.Fatalf("expected CategoryAbort, got %+v", err)
	}
}

func TestRunner_SwitchModelSurfacesCredentialFailure(t *testing.T) {
	runner, _ := newTestRunner(t, "sess-1")
	ctx := context.Background()
	resolver := &stubResolver{err: context.DeadlineExceeded}

	err := runner.SwitchModel(ctx, ModelSwitchRequest{SessionID: "sess-1", NewModel: "claude-new"}, resolver, nil)
	if err == nil {
		t.Fatal("expected credential resolution failure to surface")
	}
	rerr, ok := runtimeerr.As(err)
	if !ok || rerr.Category != runtimeerr.CategoryProviderAuth {
		t.Fatalf("expected CategoryProviderAuth, got %+v", err)
	}
}
