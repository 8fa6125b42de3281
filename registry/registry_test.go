package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agora-ai/agora/core"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []core.OutboundEnvelope
	err  error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env core.OutboundEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) received() []core.OutboundEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.OutboundEnvelope(nil), c.sent...)
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := New()
	conn := &fakeConn{id: "c-1"}

	r.Register("s-1", conn)
	r.Register("s-1", conn)

	assert.Equal(t, 1, r.Connections("s-1"))
}

func TestRegistry_UnregisterReaps(t *testing.T) {
	r := New()
	r.Register("s-1", &fakeConn{id: "c-1"})
	r.Register("s-1", &fakeConn{id: "c-2"})

	r.Unregister("s-1", "c-1")
	assert.Equal(t, 1, r.Connections("s-1"))

	r.Unregister("s-1", "c-2")
	assert.Equal(t, 0, r.Connections("s-1"))

	// Unknown session or connection is ignored.
	r.Unregister("s-1", "c-2")
	r.Unregister("missing", "c-9")
}

func TestRegistry_TargetedSend(t *testing.T) {
	r := New()
	a := &fakeConn{id: "c-1"}
	b := &fakeConn{id: "c-2"}
	r.Register("s-1", a)
	r.Register("s-1", b)

	env := core.NewNotificationEnvelope("hello")
	r.Send("s-1", "c-1", env)

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())

	// Missing target is a silent no-op.
	r.Send("s-1", "c-9", env)
	r.Send("missing", "c-1", env)
}

func TestRegistry_BroadcastFanOut(t *testing.T) {
	r := New()
	a := &fakeConn{id: "c-1"}
	b := &fakeConn{id: "c-2"}
	broken := &fakeConn{id: "c-3", err: errors.New("closed")}
	r.Register("s-1", a)
	r.Register("s-1", b)
	r.Register("s-1", broken)

	n := r.Broadcast("s-1", core.NewNotificationEnvelope("hi"))

	assert.Equal(t, 2, n)
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestRegistry_BroadcastNoConnections(t *testing.T) {
	r := New()

	n := r.Broadcast("s-1", core.NewNotificationEnvelope("hi"))

	assert.Equal(t, 0, n)
}

func TestRegistry_PerConnectionOrder(t *testing.T) {
	r := New()
	conn := &fakeConn{id: "c-1"}
	r.Register("s-1", conn)

	r.Broadcast("s-1", core.NewNotificationEnvelope("first"))
	r.Broadcast("s-1", core.NewNotificationEnvelope("second"))

	got := conn.received()
	assert.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Data["content"])
	assert.Equal(t, "second", got[1].Data["content"])
}

func TestRegistry_SessionsIsolated(t *testing.T) {
	r := New()
	a := &fakeConn{id: "c-1"}
	b := &fakeConn{id: "c-1"}
	r.Register("s-1", a)
	r.Register("s-2", b)

	r.Broadcast("s-1", core.NewNotificationEnvelope("hi"))

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
}

func TestRegistry_ShardingIsStable(t *testing.T) {
	r := New()
	for i := 0; i < 64; i++ {
		id := fmt.Sprintf("session-%d", i)
		r.Register(id, &fakeConn{id: "c-1"})
		r.Register(id, &fakeConn{id: "c-2"})
	}

	// Lookups land on the same shard every time and never bleed between
	// sessions regardless of how ids distribute over the shards.
	for i := 0; i < 64; i++ {
		id := fmt.Sprintf("session-%d", i)
		assert.Same(t, r.shardFor(id), r.shardFor(id))
		assert.Equal(t, 2, r.Connections(id))
		assert.Equal(t, 2, r.Broadcast(id, core.NewNotificationEnvelope("hi")))
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	r.Register("s-1", &fakeConn{id: "c-1"})
	r.Register("s-2", &fakeConn{id: "c-2"})

	r.Close()

	assert.Equal(t, 0, r.Connections("s-1"))
	assert.Equal(t, 0, r.Connections("s-2"))
}
