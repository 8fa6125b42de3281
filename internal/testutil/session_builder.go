package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/core"
)

// SessionBuilder seeds a store with a session and its members using
// fluent chaining. Example:
//
//	fix := NewSessionBuilder("demo").
//	    Manager("Lead", "coordinator").
//	    Agent("Ada", "analyst").
//	    Build(t, store)
//
// Chain only the parts you need; Build fails the test on store errors.
type SessionBuilder struct {
	name     string
	ownerID  string
	personas []core.AgentPersona
	managers []bool
}

// NewSessionBuilder creates a builder for a session with the given name.
func NewSessionBuilder(name string) *SessionBuilder {
	return &SessionBuilder{name: name, ownerID: "owner-1"}
}

// Owner sets the owning user id (chainable).
func (b *SessionBuilder) Owner(ownerID string) *SessionBuilder {
	b.ownerID = ownerID
	return b
}

// Manager adds a manager-flagged member with a fresh persona (chainable).
func (b *SessionBuilder) Manager(name, role string) *SessionBuilder {
	b.personas = append(b.personas, core.NewAgentPersona(name, role, "", ""))
	b.managers = append(b.managers, true)
	return b
}

// Agent adds a regular member with a fresh persona (chainable).
func (b *SessionBuilder) Agent(name, role string) *SessionBuilder {
	b.personas = append(b.personas, core.NewAgentPersona(name, role, "", ""))
	b.managers = append(b.managers, false)
	return b
}

// Fixture is the persisted result of a SessionBuilder.
type Fixture struct {
	Session core.Session
	Agents  []core.SessionAgent
}

// Manager returns the manager membership, failing the test when the
// fixture has none.
func (f Fixture) Manager(t *testing.T) core.SessionAgent {
	t.Helper()
	for _, a := range f.Agents {
		if a.IsManager {
			return a
		}
	}
	t.Fatal("fixture has no manager")
	return core.SessionAgent{}
}

// Build persists the session and members into the store.
func (b *SessionBuilder) Build(t *testing.T, s core.Store) Fixture {
	t.Helper()
	ctx := context.Background()

	sess := core.NewSession(b.name, b.ownerID)
	require.NoError(t, s.CreateSession(ctx, sess))

	fix := Fixture{Session: sess}

	for i, persona := range b.personas {
		require.NoError(t, s.CreatePersona(ctx, persona))

		agent := core.NewSessionAgent(sess.ID, persona.ID, b.managers[i])
		require.NoError(t, s.AddSessionAgent(ctx, agent))

		fix.Agents = append(fix.Agents, agent)
	}

	return fix
}
