package sessioncore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tronrun/tron/pkg/models"
)

// ErrSessionNotFound is returned by SessionStore lookups that miss.
var ErrSessionNotFound = errors.New("sessioncore: session not found")

// SessionKey builds the dedup key a channel adapter would look a session up
// by — workspace/agent/channel/channel-id — matching the teacher's scoping.
func SessionKey(workspaceID, agentID, channelID string) string {
	return workspaceID + ":" + agentID + ":" + channelID
}

// SessionStore persists Session records (metadata, lineage, counters) —
// distinct from EventLog, which persists the events those records are
// reconstructed from.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Session, error)
}

// MemoryStore is an in-memory SessionStore, used by the reference CLI for
// ephemeral runs and by every Controller test in this package.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byKey    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		byKey:    make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt
	cp := *sess
	s.sessions[sess.ID] = &cp
	if sess.Key != "" {
		s.byKey[sess.Key] = sess.ID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetByKey(_ context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	s.sessions[sess.ID] = &cp
	if sess.Key != "" {
		s.byKey[sess.Key] = sess.ID
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	if sess.Key != "" {
		delete(s.byKey, sess.Key)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}
