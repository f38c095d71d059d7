package sessioncore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tronrun/tron/pkg/models"
)

// ErrEventNotFound is returned when an event id does not resolve within a log.
var ErrEventNotFound = errors.New("sessioncore: event not found")

// ErrChainTimeout is returned by Chain.Run/acquire when a caller could not
// enter a session's chain before its deadline.
var ErrChainTimeout = errors.New("sessioncore: chain acquisition timed out")

// EventLog is the durable, append-only log collaborator (§6): every Session
// is reconstructed from the events it stores. Append assigns ID, Sequence,
// ParentID and Timestamp when they are unset, so the log — not its callers —
// owns the linearization chain's bookkeeping.
type EventLog interface {
	Append(ctx context.Context, ev models.Event) (models.Event, error)
	Events(ctx context.Context, sessionID string) ([]models.Event, error)
	Ancestors(ctx context.Context, eventID string) ([]models.Event, error)
	Search(ctx context.Context, sessionID, query string) ([]models.Event, error)
	Head(ctx context.Context, sessionID string) (string, error)
}

// MemoryLog is an in-memory EventLog, the default used by the reference CLI
// for ephemeral runs and by every Controller test in this package.
type MemoryLog struct {
	mu       sync.Mutex
	byID     map[string]models.Event
	bySess   map[string][]string // sessionID -> event ids, append order
	sequence map[string]int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byID:     make(map[string]models.Event),
		bySess:   make(map[string][]string),
		sequence: make(map[string]int64),
	}
}

func (l *MemoryLog) Append(_ context.Context, ev models.Event) (models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ids := l.bySess[ev.SessionID]; len(ids) > 0 && ev.ParentID == "" {
		ev.ParentID = ids[len(ids)-1]
	}
	l.sequence[ev.SessionID]++
	ev.Sequence = l.sequence[ev.SessionID]

	l.byID[ev.ID] = ev
	l.bySess[ev.SessionID] = append(l.bySess[ev.SessionID], ev.ID)
	return ev, nil
}

func (l *MemoryLog) Events(_ context.Context, sessionID string) ([]models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.bySess[sessionID]
	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.byID[id])
	}
	return out, nil
}

func (l *MemoryLog) Ancestors(_ context.Context, eventID string) ([]models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var chain []models.Event
	cur, ok := l.byID[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	chain = append(chain, cur)
	for cur.ParentID != "" {
		parent, ok := l.byID[cur.ParentID]
		if !ok {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Sequence < chain[j].Sequence })
	return chain, nil
}

func (l *MemoryLog) Search(_ context.Context, sessionID, query string) ([]models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	query = strings.ToLower(query)
	var out []models.Event
	for _, id := range l.bySess[sessionID] {
		ev := l.byID[id]
		if strings.Contains(strings.ToLower(string(ev.Payload)), query) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *MemoryLog) Head(_ context.Context, sessionID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.bySess[sessionID]
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}
