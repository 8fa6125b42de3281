package thread

import (
	"context"
	"fmt"
	"sync"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/logging"
)

// MaxContextDepth bounds how far ContextChain walks up a thread,
// guarding against pathological parent chains.
const MaxContextDepth = 50

// AppendOptions carries the optional attributes of a new message.
type AppendOptions struct {
	// AuthorID is the authoring session agent. Nil means the message
	// was written by a human.
	AuthorID *string

	// ParentID threads the message under an existing message of the
	// same session.
	ParentID *string

	// RecipientID addresses the message to a single session agent.
	RecipientID *string

	// Private excludes the message from regular session fan-out.
	Private bool
}

// Options configures the thread manager.
type Options struct {
	Logger logging.Logger
}

type sessionCounter struct {
	mu     sync.Mutex
	seeded bool
	next   uint64
}

// Manager appends messages with a strictly increasing per-session
// sequence number and builds ordered context chains. Appends within a
// session are serialized; appends across sessions are independent.
type Manager struct {
	store  core.Store
	logger logging.Logger

	mu       sync.Mutex
	counters map[string]*sessionCounter
}

// NewManager creates a thread manager on top of a store.
func NewManager(store core.Store, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		store:    store,
		logger:   opts.Logger,
		counters: make(map[string]*sessionCounter),
	}
}

// Append persists a new message in a session. The parent, when set,
// must belong to the same session, and a recipient must be a member of
// it. The sequence counter is seeded from the store on first use, so a
// restarted process continues the existing order.
func (m *Manager) Append(ctx context.Context, sessionID, content string, optFns ...func(o *AppendOptions)) (core.Message, error) {
	opts := AppendOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return core.Message{}, err
	}

	if opts.ParentID != nil {
		parent, err := m.store.GetMessage(ctx, *opts.ParentID)
		if err != nil {
			return core.Message{}, err
		}

		if parent.SessionID != sessionID {
			return core.Message{}, fmt.Errorf("parent %s belongs to session %s: %w", parent.ID, parent.SessionID, core.ErrCrossSessionParent)
		}
	}

	if opts.AuthorID != nil {
		author, err := m.store.GetSessionAgent(ctx, *opts.AuthorID)
		if err != nil {
			return core.Message{}, err
		}

		if author.SessionID != sessionID {
			return core.Message{}, fmt.Errorf("author %s belongs to session %s: %w", author.ID, author.SessionID, core.ErrNotMember)
		}
	}

	if opts.RecipientID != nil {
		recipient, err := m.store.GetSessionAgent(ctx, *opts.RecipientID)
		if err != nil {
			return core.Message{}, err
		}

		if recipient.SessionID != sessionID {
			return core.Message{}, fmt.Errorf("recipient %s belongs to session %s: %w", recipient.ID, recipient.SessionID, core.ErrCrossSessionRecipient)
		}
	}

	counter := m.counterFor(sessionID)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	if !counter.seeded {
		next, err := m.seedCounter(ctx, sessionID)
		if err != nil {
			return core.Message{}, err
		}

		counter.next = next
		counter.seeded = true
	}

	msg := core.NewMessage(sessionID, content)
	msg.AuthorID = opts.AuthorID
	msg.ParentID = opts.ParentID
	msg.RecipientID = opts.RecipientID
	msg.Private = opts.Private
	msg.Seq = counter.next

	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return core.Message{}, err
	}

	counter.next++

	m.logger.Debug("message appended", "session_id", sessionID, "message_id", msg.ID, "seq", msg.Seq)

	return msg, nil
}

// ContextChain returns the root-to-message sequence of a thread,
// walking at most MaxContextDepth parents. The chain is truncated at
// the depth bound rather than failing.
func (m *Manager) ContextChain(ctx context.Context, messageID string) ([]core.Message, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	chain := []core.Message{msg}

	for len(chain) < MaxContextDepth && chain[len(chain)-1].ParentID != nil {
		parent, err := m.store.GetMessage(ctx, *chain[len(chain)-1].ParentID)
		if err != nil {
			return nil, err
		}

		chain = append(chain, parent)
	}

	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

func (m *Manager) counterFor(sessionID string) *sessionCounter {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.counters[sessionID]
	if !ok {
		counter = &sessionCounter{}
		m.counters[sessionID] = counter
	}

	return counter
}

func (m *Manager) seedCounter(ctx context.Context, sessionID string) (uint64, error) {
	msgs, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	var max uint64
	for _, msg := range msgs {
		if msg.Seq > max {
			max = msg.Seq
		}
	}

	return max + 1, nil
}
