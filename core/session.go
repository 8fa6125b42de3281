package core

import "time"

// Session is the collaborative context grouping a user, zero or more agent
// personas and a message thread. Sessions own their SessionAgents and
// Messages; deleting a session cascades to both.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an active session with a generated id.
func NewSession(name, ownerID string) Session {
	now := time.Now().UTC()
	return Session{ID: NewID(), Name: name, OwnerID: ownerID, Active: true, CreatedAt: now, UpdatedAt: now}
}

// SessionAgent is the membership of one persona in one session. At most one
// membership per session may carry IsManager; stores enforce this atomically
// on insert and the resolve package re-validates it at decision time.
type SessionAgent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PersonaID string    `json:"persona_id"`
	IsManager bool      `json:"is_manager"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionAgent creates a membership with a generated id.
func NewSessionAgent(sessionID, personaID string, isManager bool) SessionAgent {
	return SessionAgent{
		ID:        NewID(),
		SessionID: sessionID,
		PersonaID: personaID,
		IsManager: isManager,
		CreatedAt: time.Now().UTC(),
	}
}
