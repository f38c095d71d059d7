// Package sessioncore implements the Session/Event Controller (§4.5): the
// linearization chain over a session's durable event log, plus the
// in-memory registry of currently active sessions the Turn Runner drives.
package sessioncore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tronrun/tron/internal/observability"
	"github.com/tronrun/tron/pkg/models"
)

// Controller is the Session/Event Controller: GetState/GetMessages/GetEvents
// read-side, Append/DeleteMessage/Flush write-side, backed by an EventLog
// and a SessionStore, with every write against an active session linearized
// through a Chain.
type Controller struct {
	log    EventLog
	store  SessionStore
	chain  *Chain
	logger *observability.Logger

	mu     sync.RWMutex
	active map[string]*ActiveSession
}

func NewController(log EventLog, store SessionStore, logger *observability.Logger) *Controller {
	return &Controller{
		log:    log,
		store:  store,
		chain:  NewChain(DefaultChainTimeout),
		logger: logger,
		active: make(map[string]*ActiveSession),
	}
}

// Close stops the controller's background chain sweep.
func (c *Controller) Close() { c.chain.Stop() }

// Activate registers sess as active, creating the ActiveSession record and
// its SessionContext. Calling Activate twice for the same id returns the
// existing record.
func (c *Controller) Activate(sess *models.Session) *ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if as, ok := c.active[sess.ID]; ok {
		return as
	}
	as := newActiveSession(sess.ID, c.chain, c.log, sess.AgentID, sess.LatestModel, sess.WorkingDirectory)
	c.active[sess.ID] = as
	return as
}

// Deactivate flushes and removes a session's active record. Safe to call on
// a session that was never active.
func (c *Controller) Deactivate(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	as, ok := c.active[sessionID]
	delete(c.active, sessionID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return as.Context.FlushEvents(ctx)
}

// ActiveSessionFor returns the active record for sessionID, if any.
func (c *Controller) ActiveSessionFor(sessionID string) (*ActiveSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	as, ok := c.active[sessionID]
	return as, ok
}

// GetState returns the session's persisted metadata record.
func (c *Controller) GetState(ctx context.Context, sessionID string) (*models.Session, error) {
	return c.store.Get(ctx, sessionID)
}

// ListSessions returns every persisted session record.
func (c *Controller) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return c.store.List(ctx)
}

// CreateSession persists a new session record (a fresh session, a fork, or
// a subagent spawn — distinguished by the lineage fields the caller sets).
func (c *Controller) CreateSession(ctx context.Context, sess *models.Session) error {
	return c.store.Create(ctx, sess)
}

// Fork copies the event chain from root through forkEventID (inclusive) out
// of an existing session into a brand new session id, so the new session's
// own chain starts as an independent copy rooted at that point rather than
// continuing to share the parent's log.
func (c *Controller) Fork(ctx context.Context, parentSessionID, forkEventID, newSessionID string) error {
	ancestors, err := c.log.Ancestors(ctx, forkEventID)
	if err != nil {
		return err
	}
	var parentID string
	for _, ev := range ancestors {
		ev.ID = uuid.NewString()
		ev.SessionID = newSessionID
		ev.ParentID = parentID
		ev.Sequence = 0
		stored, err := c.log.Append(ctx, ev)
		if err != nil {
			return err
		}
		parentID = stored.ID
	}
	return nil
}

// GetEvents returns a session's full event history in append order.
func (c *Controller) GetEvents(ctx context.Context, sessionID string) ([]models.Event, error) {
	return c.log.Events(ctx, sessionID)
}

// GetAncestors returns the chain of events from root to eventID, inclusive.
func (c *Controller) GetAncestors(ctx context.Context, eventID string) ([]models.Event, error) {
	return c.log.Ancestors(ctx, eventID)
}

// Search returns a session's events whose payload contains query.
func (c *Controller) Search(ctx context.Context, sessionID, query string) ([]models.Event, error) {
	return c.log.Search(ctx, sessionID, query)
}

// GetMessages reconstructs a session's message history from its event log,
// honoring message.deleted tombstones.
func (c *Controller) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	events, err := c.log.Events(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != models.EventMessageDeleted {
			continue
		}
		var payload models.MessageDeletedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			deleted[payload.TargetEventID] = true
		}
	}

	var out []models.Message
	for _, ev := range events {
		if ev.Type != models.EventMessageUser && ev.Type != models.EventMessageAssistant {
			continue
		}
		if deleted[ev.ID] {
			continue
		}
		msg, err := DecodeMessage(ev.Payload)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Append records ev against sessionID. For an active session the append is
// linearized through the session's chain; for an inactive session it is
// applied directly against the log, since no concurrent writer can exist.
func (c *Controller) Append(ctx context.Context, sessionID string, ev models.Event) (models.Event, error) {
	ev.SessionID = sessionID
	if as, ok := c.ActiveSessionFor(sessionID); ok {
		var result models.Event
		err := as.Context.RunInChain(ctx, func(ctx context.Context) error {
			stored, err := c.log.Append(ctx, ev)
			if err != nil {
				return err
			}
			result = stored
			return nil
		})
		if err != nil {
			return models.Event{}, err
		}
		as.Touch()
		return result, nil
	}
	return c.log.Append(ctx, ev)
}

// DeleteMessage appends a message.deleted tombstone referencing
// targetEventID; it never removes the original event.
func (c *Controller) DeleteMessage(ctx context.Context, sessionID, targetEventID, reason string) (models.Event, error) {
	payload, err := json.Marshal(models.MessageDeletedPayload{TargetEventID: targetEventID, Reason: reason})
	if err != nil {
		return models.Event{}, err
	}
	return c.Append(ctx, sessionID, models.Event{
		ID:      uuid.NewString(),
		Type:    models.EventMessageDeleted,
		Payload: payload,
	})
}

// Flush drains an active session's buffered events to the log.
func (c *Controller) Flush(ctx context.Context, sessionID string) error {
	as, ok := c.ActiveSessionFor(sessionID)
	if !ok {
		return nil
	}
	return as.Context.FlushEvents(ctx)
}

// FlushAll drains every active session's buffer, used at shutdown.
func (c *Controller) FlushAll(ctx context.Context) error {
	c.mu.RLock()
	sessions := make([]*ActiveSession, 0, len(c.active))
	for _, as := range c.active {
		sessions = append(sessions, as)
	}
	c.mu.RUnlock()

	var firstErr error
	for _, as := range sessions {
		if err := as.Context.FlushEvents(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s: %w", as.ID, err)
		}
	}
	return firstErr
}

// EncodeMessage marshals msg as an event payload.
func EncodeMessage(msg models.Message) (json.RawMessage, error) {
	return json.Marshal(msg)
}

// DecodeMessage unmarshals an event payload produced by EncodeMessage.
func DecodeMessage(payload json.RawMessage) (models.Message, error) {
	var msg models.Message
	err := json.Unmarshal(payload, &msg)
	return msg, err
}

// MessageEventType returns the event type a message of this role should be
// recorded under.
func MessageEventType(role models.Role) models.EventType {
	if role == models.RoleUser {
		return models.EventMessageUser
	}
	return models.EventMessageAssistant
}
