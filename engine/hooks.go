package engine

import (
	"github.com/agora-ai/agora/core"
)

// HookType names the lifecycle points where hooks run.
type HookType string

const (
	// HookUserMessage fires after a user message is persisted as a
	// thread root.
	HookUserMessage HookType = "user_message"

	// HookAgentMessage fires after an agent-authored message is
	// persisted, before it is broadcast.
	HookAgentMessage HookType = "agent_message"

	// HookResolution fires when a resolution finalizes, resolved or
	// failed.
	HookResolution HookType = "resolution"

	// HookError fires for each failed assignment in a parallel
	// execution.
	HookError HookType = "error"
)

// HookContext carries the payload of one lifecycle event. Only the
// fields relevant to the hook's type are set.
type HookContext struct {
	Type       HookType
	Message    core.Message
	Resolution core.Resolution
	SessionID  string
	Err        error
}

// Hook observes engine lifecycle points: metrics collection, auditing,
// test instrumentation. Hooks run synchronously on the handling
// goroutine and must not block; they cannot alter the flow.
type Hook interface {
	// Type returns the lifecycle point this hook subscribes to.
	Type() HookType

	// Observe receives the event payload.
	Observe(hc HookContext)
}

// HookFunc adapts a function to the Hook interface for one type.
type HookFunc struct {
	HookType HookType
	Fn       func(hc HookContext)
}

// Type returns the subscribed lifecycle point.
func (h HookFunc) Type() HookType { return h.HookType }

// Observe invokes the wrapped function.
func (h HookFunc) Observe(hc HookContext) { h.Fn(hc) }

type hookSet map[HookType][]Hook

func newHookSet(hooks []Hook) hookSet {
	set := make(hookSet)
	for _, h := range hooks {
		set[h.Type()] = append(set[h.Type()], h)
	}
	return set
}

func (s hookSet) fire(hc HookContext) {
	for _, h := range s[hc.Type] {
		h.Observe(hc)
	}
}

func (s hookSet) onUserMessage(msg core.Message) {
	s.fire(HookContext{Type: HookUserMessage, Message: msg, SessionID: msg.SessionID})
}

func (s hookSet) onAgentMessage(msg core.Message) {
	s.fire(HookContext{Type: HookAgentMessage, Message: msg, SessionID: msg.SessionID})
}

func (s hookSet) onResolution(res core.Resolution) {
	s.fire(HookContext{Type: HookResolution, Resolution: res, SessionID: res.SessionID})
}

func (s hookSet) onError(sessionID string, err error) {
	s.fire(HookContext{Type: HookError, SessionID: sessionID, Err: err})
}
