package registry

import (
	"hash/fnv"
	"sync"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/logging"
)

// Conn is a live client connection able to receive outbound envelopes.
// Implementations must keep Send safe for concurrent use; the registry
// preserves per-connection send order but gives no cross-connection
// ordering guarantee.
type Conn interface {
	// ID returns a stable identifier for the connection.
	ID() string

	// Send delivers a single envelope to the client.
	Send(env core.OutboundEnvelope) error
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Conn
}

// Options configures the registry.
type Options struct {
	Logger logging.Logger
}

// Registry is an in-memory map of session id to live connections,
// sharded to bound lock contention. It holds no durable state.
type Registry struct {
	shards [shardCount]shard
	logger logging.Logger
}

// New creates a new connection registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{logger: opts.Logger}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]map[string]Conn)
	}

	return r
}

func (r *Registry) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &r.shards[h.Sum32()%shardCount]
}

// Register adds a connection to a session. Registering the same
// connection id twice is idempotent; the latest Conn wins.
func (r *Registry) Register(sessionID string, conn Conn) {
	sh := r.shardFor(sessionID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	conns, ok := sh.sessions[sessionID]
	if !ok {
		conns = make(map[string]Conn)
		sh.sessions[sessionID] = conns
	}

	conns[conn.ID()] = conn

	r.logger.Debug("connection registered", "session_id", sessionID, "conn_id", conn.ID())
}

// Unregister removes a connection from a session. When the last
// connection leaves, the session's registry entry is reaped; the
// durable session is unaffected. Unknown connections are ignored.
func (r *Registry) Unregister(sessionID, connID string) {
	sh := r.shardFor(sessionID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	conns, ok := sh.sessions[sessionID]
	if !ok {
		return
	}

	delete(conns, connID)

	if len(conns) == 0 {
		delete(sh.sessions, sessionID)
	}

	r.logger.Debug("connection unregistered", "session_id", sessionID, "conn_id", connID)
}

// Send delivers an envelope to a single connection. A missing session
// or connection is a silent no-op, since the target may have raced a
// disconnect.
func (r *Registry) Send(sessionID, connID string, env core.OutboundEnvelope) {
	sh := r.shardFor(sessionID)

	sh.mu.RLock()
	conn, ok := sh.sessions[sessionID][connID]
	sh.mu.RUnlock()

	if !ok {
		return
	}

	if err := conn.Send(env); err != nil {
		r.logger.Warn("send failed", "session_id", sessionID, "conn_id", connID, "error", err)
	}
}

// Broadcast fans an envelope out to every connection currently
// registered for a session. Each delivery is independent; a failed
// send is logged and does not affect the others. Broadcasting to a
// session with no connections is a no-op. Returns the number of
// successful deliveries.
func (r *Registry) Broadcast(sessionID string, env core.OutboundEnvelope) int {
	sh := r.shardFor(sessionID)

	sh.mu.RLock()
	conns := make([]Conn, 0, len(sh.sessions[sessionID]))
	for _, conn := range sh.sessions[sessionID] {
		conns = append(conns, conn)
	}
	sh.mu.RUnlock()

	delivered := 0

	for _, conn := range conns {
		if err := conn.Send(env); err != nil {
			r.logger.Warn("broadcast send failed", "session_id", sessionID, "conn_id", conn.ID(), "error", err)
			continue
		}

		delivered++
	}

	return delivered
}

// Connections returns the number of live connections for a session.
func (r *Registry) Connections(sessionID string) int {
	sh := r.shardFor(sessionID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	return len(sh.sessions[sessionID])
}

// Close drops every registered connection. Intended for shutdown;
// clients are not notified.
func (r *Registry) Close() {
	for i := range r.shards {
		sh := &r.shards[i]

		sh.mu.Lock()
		sh.sessions = make(map[string]map[string]Conn)
		sh.mu.Unlock()
	}
}
