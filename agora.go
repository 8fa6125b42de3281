// Package agora provides a high-level façade over the orchestration
// engine and its services (store, registry, thread manager, conflict
// resolver). Most applications interact with this package by:
//  1. Creating an Agora via New() around a generation oracle,
//     optionally overriding the default in-memory services
//  2. Creating a session and adding agent personas to it
//  3. Connecting client connections and feeding inbound envelopes
//     through Handle
//
// The façade delegates orchestration to engine.Engine while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply the
// sqlite store and a structured logger.
package agora

import (
	"context"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/engine"
	"github.com/agora-ai/agora/logging"
	"github.com/agora-ai/agora/oracle"
	"github.com/agora-ai/agora/registry"
	"github.com/agora-ai/agora/store"
)

// Options configures the Agora instance.
type Options struct {
	// Store persists sessions, personas, memberships, messages and
	// resolutions. Defaults to the in-memory implementation.
	Store core.Store

	// DefaultResolutionMethod is used for implicit conflict
	// resolutions.
	DefaultResolutionMethod core.ResolutionMethod

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Agora is the high-level façade aggregating the engine and services.
type Agora struct {
	store  core.Store
	engine *engine.Engine
}

// New creates a new Agora instance around a generation oracle. Any
// unset service is initialized with an in-memory implementation.
func New(o oracle.Oracle, optFns ...func(o *Options)) *Agora {
	opts := Options{
		Store:                   store.NewInMemory(),
		DefaultResolutionMethod: core.MethodManagerDecision,
		Logger:                  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(o, func(eo *engine.Options) {
		eo.Store = opts.Store
		eo.DefaultResolutionMethod = opts.DefaultResolutionMethod
		eo.Logger = opts.Logger
	})

	return &Agora{store: opts.Store, engine: e}
}

// Engine exposes the underlying orchestration engine.
func (a *Agora) Engine() *engine.Engine { return a.engine }

// CreateSession persists a new session and returns it.
func (a *Agora) CreateSession(ctx context.Context, name, ownerID string) (core.Session, error) {
	sess := core.NewSession(name, ownerID)
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, err
	}

	return sess, nil
}

// Session returns a session by id.
func (a *Agora) Session(ctx context.Context, id string) (core.Session, error) {
	return a.store.GetSession(ctx, id)
}

// AddAgent persists a persona and joins it to a session. At most one
// member per session may carry the manager flag.
func (a *Agora) AddAgent(ctx context.Context, sessionID string, persona core.AgentPersona, isManager bool) (core.SessionAgent, error) {
	if err := a.store.CreatePersona(ctx, persona); err != nil {
		return core.SessionAgent{}, err
	}

	agent := core.NewSessionAgent(sessionID, persona.ID, isManager)
	if err := a.store.AddSessionAgent(ctx, agent); err != nil {
		return core.SessionAgent{}, err
	}

	return agent, nil
}

// Connect registers a live client connection for a session.
func (a *Agora) Connect(sessionID string, conn registry.Conn) {
	a.engine.Connect(sessionID, conn)
}

// Disconnect removes a client connection.
func (a *Agora) Disconnect(sessionID, connID string) {
	a.engine.Disconnect(sessionID, connID)
}

// Handle dispatches one inbound envelope through the engine.
func (a *Agora) Handle(ctx context.Context, env core.InboundEnvelope) error {
	return a.engine.HandleEnvelope(ctx, env)
}

// History returns a session's messages in thread order.
func (a *Agora) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	return a.store.ListMessages(ctx, sessionID)
}
