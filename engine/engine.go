package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/delegate"
	"github.com/agora-ai/agora/executor"
	"github.com/agora-ai/agora/logging"
	"github.com/agora-ai/agora/oracle"
	"github.com/agora-ai/agora/registry"
	"github.com/agora-ai/agora/resolve"
	"github.com/agora-ai/agora/store"
	"github.com/agora-ai/agora/thread"
)

// Options configures an Engine instance using the functional options
// pattern. All service dependencies have in-memory defaults suitable
// for development and testing; production deployments provide their
// own store and registry.
type Options struct {
	// Store persists sessions, personas, memberships, messages and
	// resolutions. Defaults to the in-memory implementation.
	Store core.Store

	// Registry tracks live connections. Defaults to a fresh registry.
	Registry *registry.Registry

	// DefaultResolutionMethod is used for implicit conflict
	// resolutions opened when parallel execution yields more than one
	// success. Defaults to manager decision, the only method that runs
	// to completion without further agent input.
	DefaultResolutionMethod core.ResolutionMethod

	// TaskTimeout bounds each delegated assignment's oracle call.
	TaskTimeout time.Duration

	// Hooks observe the engine's lifecycle points.
	Hooks []Hook

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine orchestrates multi-agent sessions. It is safe for concurrent
// use; all mutable state lives in the injected services.
type Engine struct {
	store     core.Store
	registry  *registry.Registry
	threads   *thread.Manager
	delegator *delegate.Engine
	executor  *executor.Coordinator
	resolver  *resolve.Resolver
	hooks     hookSet
	logger    logging.Logger

	defaultMethod core.ResolutionMethod
}

// New creates an engine around a generation oracle. Remaining services
// default to in-memory implementations.
func New(o oracle.Oracle, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:                   store.NewInMemory(),
		DefaultResolutionMethod: core.MethodManagerDecision,
		TaskTimeout:             executor.DefaultTaskTimeout,
		Logger:                  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.New(func(ro *registry.Options) {
			ro.Logger = opts.Logger
		})
	}

	threads := thread.NewManager(opts.Store, func(to *thread.Options) {
		to.Logger = opts.Logger
	})

	return &Engine{
		store:    opts.Store,
		registry: opts.Registry,
		threads:  threads,
		delegator: delegate.NewEngine(o, func(do *delegate.Options) {
			do.Logger = opts.Logger
		}),
		executor: executor.NewCoordinator(o, func(eo *executor.Options) {
			eo.TaskTimeout = opts.TaskTimeout
			eo.Logger = opts.Logger
		}),
		resolver: resolve.New(opts.Store, o, threads, func(ro *resolve.Options) {
			ro.Logger = opts.Logger
		}),
		hooks:         newHookSet(opts.Hooks),
		logger:        opts.Logger,
		defaultMethod: opts.DefaultResolutionMethod,
	}
}

// Store exposes the engine's persistence layer.
func (e *Engine) Store() core.Store { return e.store }

// Threads exposes the engine's thread manager.
func (e *Engine) Threads() *thread.Manager { return e.threads }

// Resolver exposes the conflict resolution state machine for explicit
// resolutions; votes and proposals should go through Vote and Propose
// so finalized results reach connected clients.
func (e *Engine) Resolver() *resolve.Resolver { return e.resolver }

// Connect registers a live connection for a session.
func (e *Engine) Connect(sessionID string, conn registry.Conn) {
	e.registry.Register(sessionID, conn)
}

// Disconnect removes a connection. In-flight executions for the
// session keep running; their results are persisted regardless.
func (e *Engine) Disconnect(sessionID, connID string) {
	e.registry.Unregister(sessionID, connID)
}

// HandleEnvelope dispatches one inbound envelope. Protocol-level
// problems (unknown type, bad references) are reported as an error
// envelope to the originating connection only; the returned error
// covers infrastructure failures.
func (e *Engine) HandleEnvelope(ctx context.Context, env core.InboundEnvelope) error {
	switch env.Type {
	case core.InboundUserMessage:
		return e.handleUserMessage(ctx, env)
	case core.InboundAgentAdded:
		return e.handleAgentAdded(ctx, env)
	case core.InboundDirectMessage:
		return e.handleDirectMessage(ctx, env)
	default:
		e.logger.Warn("unknown envelope type", "type", string(env.Type), "session_id", env.SessionID)
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope(fmt.Sprintf("unknown message type %q", env.Type)))
		return fmt.Errorf("envelope type %q: %w", env.Type, core.ErrUnknownMessageType)
	}
}

// handleUserMessage runs the full pipeline for one user turn.
func (e *Engine) handleUserMessage(ctx context.Context, env core.InboundEnvelope) error {
	root, err := e.threads.Append(ctx, env.SessionID, env.Content)
	if err != nil {
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope(err.Error()))
		return err
	}

	e.hooks.onUserMessage(root)

	roster, err := core.LoadRoster(ctx, e.store, env.SessionID)
	if err != nil {
		return err
	}

	if len(roster) == 0 {
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope("session has no agents"))
		return nil
	}

	var plan []delegate.Assignment
	if _, ok := roster.Manager(); ok {
		outcome := e.delegator.Delegate(ctx, env.Content, roster)
		if outcome.ParseFailure {
			e.logger.Warn("delegation degraded", "session_id", env.SessionID)
		}

		plan = outcome.Plan
	}

	results := e.executor.Execute(ctx, plan, roster, env.Content)

	var successes []core.Message

	for _, result := range results {
		if !result.Success() {
			e.hooks.onError(env.SessionID, result.Err)
			continue
		}

		msg, err := e.threads.Append(ctx, env.SessionID, result.Output, func(o *thread.AppendOptions) {
			agentID := result.AgentID
			o.AuthorID = &agentID
			o.ParentID = &root.ID
		})
		if err != nil {
			return err
		}

		successes = append(successes, msg)
		e.hooks.onAgentMessage(msg)
		e.registry.Broadcast(env.SessionID, core.NewAgentMessageEnvelope(msg, result.Persona.Name, result.Persona.Role))
	}

	if len(successes) > 1 {
		res, err := e.resolver.Create(ctx, env.SessionID, successes[0].ID, e.defaultMethod, nil)
		if err != nil {
			return err
		}

		e.hooks.onResolution(res)
		e.broadcastResolution(ctx, res)
	}

	return nil
}

// handleAgentAdded broadcasts a join notification for a membership
// that was already persisted.
func (e *Engine) handleAgentAdded(ctx context.Context, env core.InboundEnvelope) error {
	agent, err := e.store.GetSessionAgent(ctx, env.AgentID)
	if err != nil {
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope(err.Error()))
		return err
	}

	if agent.SessionID != env.SessionID {
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope("agent belongs to a different session"))
		return fmt.Errorf("agent %s: %w", agent.ID, core.ErrNotMember)
	}

	persona, err := e.store.GetPersona(ctx, agent.PersonaID)
	if err != nil {
		return err
	}

	e.registry.Broadcast(env.SessionID, core.NewNotificationEnvelope(fmt.Sprintf("%s (%s) joined the session", persona.Name, persona.Role)))

	return nil
}

// handleDirectMessage persists an agent-to-agent message. Private
// messages are delivered only to the originating connection; public
// ones are broadcast to the session.
func (e *Engine) handleDirectMessage(ctx context.Context, env core.InboundEnvelope) error {
	msg, err := e.threads.Append(ctx, env.SessionID, env.Content, func(o *thread.AppendOptions) {
		agentID := env.AgentID
		o.AuthorID = &agentID
		if env.RecipientID != "" {
			recipientID := env.RecipientID
			o.RecipientID = &recipientID
		}
		o.Private = env.Private
	})
	if err != nil {
		e.registry.Send(env.SessionID, env.ClientID, core.NewErrorEnvelope(err.Error()))
		return err
	}

	e.hooks.onAgentMessage(msg)

	persona, err := e.personaForAgent(ctx, env.AgentID)
	if err != nil {
		return err
	}

	envelope := core.NewAgentMessageEnvelope(msg, persona.Name, persona.Role)

	if msg.Private {
		e.registry.Send(env.SessionID, env.ClientID, envelope)
		return nil
	}

	e.registry.Broadcast(env.SessionID, envelope)

	return nil
}

// Vote submits a vote, tallies as soon as every counted voter has
// spoken, and broadcasts the result once the resolution finalizes.
func (e *Engine) Vote(ctx context.Context, resolutionID, agentID, option string) (core.Resolution, error) {
	res, err := e.resolver.Vote(ctx, resolutionID, agentID, option)
	if err != nil {
		return core.Resolution{}, err
	}

	if res.State.Voting.QuorumMet() {
		res, err = e.resolver.Tally(ctx, resolutionID)
		if err != nil {
			// A racing vote may have tallied first.
			if errors.Is(err, core.ErrAlreadyFinalized) {
				return e.resolver.Get(ctx, resolutionID)
			}
			return core.Resolution{}, err
		}
	}

	if res.Finalized() {
		e.hooks.onResolution(res)
		e.broadcastResolution(ctx, res)
	}

	return res, nil
}

// Propose submits a consensus proposal and broadcasts the result once
// the resolution finalizes.
func (e *Engine) Propose(ctx context.Context, resolutionID, agentID, text string) (core.Resolution, error) {
	res, err := e.resolver.Propose(ctx, resolutionID, agentID, text)
	if err != nil {
		return core.Resolution{}, err
	}

	if res.Finalized() {
		e.hooks.onResolution(res)
		e.broadcastResolution(ctx, res)
	}

	return res, nil
}

// broadcastResolution pushes a finalized resolution's outcome to the
// session, best-effort.
func (e *Engine) broadcastResolution(ctx context.Context, res core.Resolution) {
	switch res.Status {
	case core.StatusResolved:
		if res.ResultMessageID == nil || res.ResolvedByID == nil {
			return
		}

		msg, err := e.store.GetMessage(ctx, *res.ResultMessageID)
		if err != nil {
			e.logger.Error("load result message", "resolution_id", res.ID, "error", err)
			return
		}

		persona, err := e.personaForAgent(ctx, *res.ResolvedByID)
		if err != nil {
			e.logger.Error("load resolving persona", "resolution_id", res.ID, "error", err)
			return
		}

		e.registry.Broadcast(res.SessionID, core.NewAgentMessageEnvelope(msg, persona.Name, persona.Role))

	case core.StatusFailed:
		e.registry.Broadcast(res.SessionID, core.NewNotificationEnvelope(fmt.Sprintf("conflict resolution failed: %s", res.FailureReason)))
	}
}

func (e *Engine) personaForAgent(ctx context.Context, agentID string) (core.AgentPersona, error) {
	agent, err := e.store.GetSessionAgent(ctx, agentID)
	if err != nil {
		return core.AgentPersona{}, err
	}

	return e.store.GetPersona(ctx, agent.PersonaID)
}
