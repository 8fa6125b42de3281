package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agora-ai/agora/core"
)

// InMemory is a volatile core.Store implementation keeping all entities in
// process-local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Slices returned from listings are fresh
// copies to prevent external mutation of internal state.
type InMemory struct {
	mu          sync.RWMutex
	sessions    map[string]core.Session
	personas    map[string]core.AgentPersona
	agents      map[string]core.SessionAgent
	messages    map[string]core.Message
	resolutions map[string]core.Resolution
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		sessions:    make(map[string]core.Session),
		personas:    make(map[string]core.AgentPersona),
		agents:      make(map[string]core.SessionAgent),
		messages:    make(map[string]core.Message),
		resolutions: make(map[string]core.Resolution),
	}
}

// CreateSession stores a new session.
func (s *InMemory) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession returns a session by id.
func (s *InMemory) GetSession(_ context.Context, id string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.Session{}, fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	return sess, nil
}

// UpdateSession replaces a stored session.
func (s *InMemory) UpdateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, core.ErrNotFound)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// DeleteSession removes a session and cascades to its memberships, messages
// and resolutions. Personas are referenced, not owned, and survive.
func (s *InMemory) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	delete(s.sessions, id)
	for aid, a := range s.agents {
		if a.SessionID == id {
			delete(s.agents, aid)
		}
	}
	for mid, m := range s.messages {
		if m.SessionID == id {
			delete(s.messages, mid)
		}
	}
	for rid, r := range s.resolutions {
		if r.SessionID == id {
			delete(s.resolutions, rid)
		}
	}
	return nil
}

// CreatePersona stores a persona snapshot.
func (s *InMemory) CreatePersona(_ context.Context, p core.AgentPersona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = p
	return nil
}

// GetPersona returns a persona by id.
func (s *InMemory) GetPersona(_ context.Context, id string) (core.AgentPersona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return core.AgentPersona{}, fmt.Errorf("persona %s: %w", id, core.ErrNotFound)
	}
	return p, nil
}

// ListPersonas returns all personas ordered by creation time.
func (s *InMemory) ListPersonas(_ context.Context) ([]core.AgentPersona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]core.AgentPersona, 0, len(s.personas))
	for _, p := range s.personas {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// AddSessionAgent inserts a membership. The insert is atomic with respect to
// the single-manager invariant: a second manager for the same session is
// rejected with core.ErrDuplicateManager while the write lock is held.
func (s *InMemory) AddSessionAgent(_ context.Context, a core.SessionAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[a.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", a.SessionID, core.ErrNotFound)
	}
	if a.IsManager {
		for _, existing := range s.agents {
			if existing.SessionID == a.SessionID && existing.IsManager {
				return fmt.Errorf("session %s: %w", a.SessionID, core.ErrDuplicateManager)
			}
		}
	}
	s.agents[a.ID] = a
	return nil
}

// RemoveSessionAgent deletes a membership.
func (s *InMemory) RemoveSessionAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("session agent %s: %w", id, core.ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// GetSessionAgent returns a membership by id.
func (s *InMemory) GetSessionAgent(_ context.Context, id string) (core.SessionAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return core.SessionAgent{}, fmt.Errorf("session agent %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

// ListSessionAgents returns a session's memberships in creation order.
func (s *InMemory) ListSessionAgents(_ context.Context, sessionID string) ([]core.SessionAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []core.SessionAgent
	for _, a := range s.agents {
		if a.SessionID == sessionID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// FindManager returns the membership flagged as manager, or core.ErrNotFound.
func (s *InMemory) FindManager(_ context.Context, sessionID string) (core.SessionAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.SessionID == sessionID && a.IsManager {
			return a, nil
		}
	}
	return core.SessionAgent{}, fmt.Errorf("manager for session %s: %w", sessionID, core.ErrNotFound)
}

// AppendMessage stores a message.
func (s *InMemory) AppendMessage(_ context.Context, m core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", m.SessionID, core.ErrNotFound)
	}
	s.messages[m.ID] = m
	return nil
}

// GetMessage returns a message by id.
func (s *InMemory) GetMessage(_ context.Context, id string) (core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return core.Message{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return m, nil
}

// ListMessages returns a session's messages in sequence order.
func (s *InMemory) ListMessages(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []core.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

// ListReplies returns the children of a parent message in sequence order.
func (s *InMemory) ListReplies(_ context.Context, parentID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []core.Message
	for _, m := range s.messages {
		if m.ParentID != nil && *m.ParentID == parentID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

// CreateResolution stores a new resolution.
func (s *InMemory) CreateResolution(_ context.Context, r core.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.State = r.State.Clone()
	s.resolutions[r.ID] = r
	return nil
}

// GetResolution returns a resolution by id.
func (s *InMemory) GetResolution(_ context.Context, id string) (core.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resolutions[id]
	if !ok {
		return core.Resolution{}, fmt.Errorf("resolution %s: %w", id, core.ErrNotFound)
	}
	r.State = r.State.Clone()
	return r, nil
}

// UpdateResolution replaces a stored resolution.
func (s *InMemory) UpdateResolution(_ context.Context, r core.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolutions[r.ID]; !ok {
		return fmt.Errorf("resolution %s: %w", r.ID, core.ErrNotFound)
	}
	r.State = r.State.Clone()
	s.resolutions[r.ID] = r
	return nil
}

// ListResolutions returns a session's resolutions in creation order.
func (s *InMemory) ListResolutions(_ context.Context, sessionID string) ([]core.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []core.Resolution
	for _, r := range s.resolutions {
		if r.SessionID == sessionID {
			r.State = r.State.Clone()
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}
