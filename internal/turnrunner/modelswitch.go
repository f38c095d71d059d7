package turnrunner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/pkg/models"
)

// ModelSwitchRequest is the input to SwitchModel.
type ModelSwitchRequest struct {
	SessionID string
	NewModel  string
	NewLimit  int // the new model's context window, used to recompute the compaction threshold
}

// SwitchModel performs the atomic model-switch sequence (§4.5): reject a
// switch while the session is mid-turn, linearize a config.model_switch
// event through the session's chain, update the active record, reload
// provider credentials and swap the Runner's Provider, then let the
// Context Manager recompute its threshold against the new model's limit —
// which fires its own compaction-needed callback if the new limit is
// smaller than current usage demands.
func (r *Runner) SwitchModel(ctx context.Context, req ModelSwitchRequest, resolver CredentialResolver, newProvider Provider) error {
	session, ok := r.controller.ActiveSessionFor(req.SessionID)
	if !ok {
		return runtimeerr.New(runtimeerr.CategoryLogAppend, fmt.Errorf("session %s is not active", req.SessionID))
	}
	if session.Context.IsProcessing() {
		return runtimeerr.New(runtimeerr.CategoryAbort, runtimeerr.ErrModelSwitchWhileActive)
	}

	previousModel := session.Model()

	payload, err := json.Marshal(models.ModelSwitchPayload{
		PreviousModel: previousModel,
		NewModel:      req.NewModel,
	})
	if err != nil {
		return runtimeerr.New(runtimeerr.CategoryLogAppend, err)
	}
	// Append linearizes this write through the session's chain itself, since
	// req.SessionID is active — no separate RunInChain wrapper needed here.
	if _, err := r.controller.Append(ctx, req.SessionID, models.Event{
		ID:      uuid.NewString(),
		Type:    models.EventModelSwitch,
		Payload: payload,
	}); err != nil {
		return runtimeerr.New(runtimeerr.CategoryLogAppend, err)
	}

	session.SetModel(req.NewModel)

	if resolver != nil {
		if err := resolver.Resolve(ctx, req.NewModel); err != nil {
			return runtimeerr.New(runtimeerr.CategoryProviderAuth, err)
		}
	}
	if newProvider != nil {
		r.provider = newProvider
	}

	if req.NewLimit > 0 {
		r.ctxMgr.SwitchModel(ctx, req.NewModel, req.NewLimit)
	}

	session.Touch()
	return nil
}
