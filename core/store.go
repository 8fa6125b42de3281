package core

import "context"

// Store persists the five durable entities and provides the filtered
// listings the orchestrator needs. Implementations must supply their own
// transactional isolation: AddSessionAgent is an atomic insert-if-absent
// with respect to the single-manager invariant, returning
// ErrDuplicateManager when a second manager is inserted concurrently.
//
// All lookups return ErrNotFound (possibly wrapped) for missing ids.
type Store interface {
	// Sessions.
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	// DeleteSession cascades to the session's agents, messages and
	// resolutions. Referenced personas are untouched.
	DeleteSession(ctx context.Context, id string) error

	// Personas.
	CreatePersona(ctx context.Context, p AgentPersona) error
	GetPersona(ctx context.Context, id string) (AgentPersona, error)
	ListPersonas(ctx context.Context) ([]AgentPersona, error)

	// Session membership.
	AddSessionAgent(ctx context.Context, a SessionAgent) error
	RemoveSessionAgent(ctx context.Context, id string) error
	GetSessionAgent(ctx context.Context, id string) (SessionAgent, error)
	// ListSessionAgents returns memberships in creation order.
	ListSessionAgents(ctx context.Context, sessionID string) ([]SessionAgent, error)
	// FindManager returns the membership flagged as manager, or ErrNotFound.
	FindManager(ctx context.Context, sessionID string) (SessionAgent, error)

	// Messages.
	AppendMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListMessages returns a session's messages in sequence order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	// ListReplies returns the children of a parent message in sequence order.
	ListReplies(ctx context.Context, parentID string) ([]Message, error)

	// Resolutions.
	CreateResolution(ctx context.Context, r Resolution) error
	GetResolution(ctx context.Context, id string) (Resolution, error)
	UpdateResolution(ctx context.Context, r Resolution) error
	ListResolutions(ctx context.Context, sessionID string) ([]Resolution, error)
}

// LoadRoster joins a session's memberships with their personas, in
// membership creation order.
func LoadRoster(ctx context.Context, s Store, sessionID string) (Roster, error) {
	agents, err := s.ListSessionAgents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	roster := make(Roster, 0, len(agents))

	for _, agent := range agents {
		persona, err := s.GetPersona(ctx, agent.PersonaID)
		if err != nil {
			return nil, err
		}

		roster = append(roster, RosterEntry{Agent: agent, Persona: persona})
	}

	return roster, nil
}
