package core

import "time"

// ExamplePair is one input/output demonstration attached to a persona. Pairs
// are folded into the system prompt so the oracle can imitate the persona's
// voice.
type ExamplePair struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// AgentPersona is the immutable configuration parametrizing one agent's
// generated voice: who it is, how it speaks and what it has been instructed
// to do. Personas are referenced by SessionAgents, never owned by them, and
// must be treated as snapshots once created.
type AgentPersona struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Role               string        `json:"role"`
	Personality        string        `json:"personality"`
	SystemInstructions string        `json:"system_instructions"`
	Examples           []ExamplePair `json:"examples,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// NewAgentPersona creates a persona with a generated id and creation timestamp.
func NewAgentPersona(name, role, personality, systemInstructions string) AgentPersona {
	return AgentPersona{
		ID:                 NewID(),
		Name:               name,
		Role:               role,
		Personality:        personality,
		SystemInstructions: systemInstructions,
		CreatedAt:          time.Now().UTC(),
	}
}

// RosterEntry pairs a session membership with the persona snapshot it
// references.
type RosterEntry struct {
	Agent   SessionAgent
	Persona AgentPersona
}

// Roster is the ordered set of personas currently attached to a session,
// in membership creation order.
type Roster []RosterEntry

// Manager returns the entry flagged as manager, if any.
func (r Roster) Manager() (RosterEntry, bool) {
	for _, e := range r {
		if e.Agent.IsManager {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// FindAgent returns the entry whose SessionAgent id matches.
func (r Roster) FindAgent(agentID string) (RosterEntry, bool) {
	for _, e := range r {
		if e.Agent.ID == agentID {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// FindPersona returns the first entry whose persona id matches.
func (r Roster) FindPersona(personaID string) (RosterEntry, bool) {
	for _, e := range r {
		if e.Persona.ID == personaID {
			return e, true
		}
	}
	return RosterEntry{}, false
}
