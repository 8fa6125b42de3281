// Package oracle abstracts the external text-generation capability Agora
// depends on. The Oracle interface takes a persona and a prompt and returns
// plain text; provider subpackages adapt vendor SDKs, and MockOracle serves
// tests and examples. Failures carry a typed Error so callers can branch on
// the failure kind without vendor-specific inspection.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agora-ai/agora/core"
)

// ErrorKind classifies oracle failures across providers.
type ErrorKind string

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited means the provider rejected the call for quota reasons.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidResponse means the provider answered with unusable content.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindProviderUnavailable means the provider could not be reached or
	// returned a server-side failure.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
)

// Error is a classified oracle failure. Unwrap exposes the provider error.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s", e.Provider, e.Kind)
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified oracle error.
func NewError(kind ErrorKind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// IsKind reports whether err is an oracle Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}

// GenerateOptions carries optional per-call overrides.
type GenerateOptions struct {
	// SystemInstructions, when non-empty, is appended to the persona-derived
	// system prompt for this call only.
	SystemInstructions string
}

// Oracle is the minimal interface the orchestrator needs from a generation
// backend. Implementations must respect ctx cancellation and deadlines and
// translate provider failures into *Error values.
type Oracle interface {
	Generate(ctx context.Context, persona core.AgentPersona, prompt string, optFns ...func(o *GenerateOptions)) (string, error)
}

// SystemPrompt renders a persona into the system prompt shared by all
// providers: identity, personality, standing instructions and example pairs.
func SystemPrompt(persona core.AgentPersona, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.", persona.Name, persona.Role)
	if persona.Personality != "" {
		fmt.Fprintf(&b, "\nPersonality: %s", persona.Personality)
	}
	if persona.SystemInstructions != "" {
		fmt.Fprintf(&b, "\n\n%s", persona.SystemInstructions)
	}
	for _, ex := range persona.Examples {
		fmt.Fprintf(&b, "\n\nExample input: %s\nExample output: %s", ex.Input, ex.Output)
	}
	if extra != "" {
		fmt.Fprintf(&b, "\n\n%s", extra)
	}
	return b.String()
}

// MockOracle is a lightweight in-memory Oracle useful for tests & examples.
// It supports canned responses keyed by prompt, scripted failures, per-persona
// latency (for timeout tests) and call counting.
type MockOracle struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	latency   map[string]time.Duration
	nextErr   error
	calls     int
}

// NewMockOracle constructs an empty MockOracle.
func NewMockOracle() *MockOracle {
	return &MockOracle{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		latency:   make(map[string]time.Duration),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockOracle) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailFor makes every call for the given persona id return err.
func (m *MockOracle) FailFor(personaID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[personaID] = err
}

// FailNext makes only the next call return err.
func (m *MockOracle) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextErr = err
}

// DelayFor makes calls for the given persona id block for d (or until the
// context expires, whichever comes first).
func (m *MockOracle) DelayFor(personaID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[personaID] = d
}

// Calls returns the number of Generate invocations observed.
func (m *MockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Oracle.
func (m *MockOracle) Generate(ctx context.Context, persona core.AgentPersona, prompt string, _ ...func(o *GenerateOptions)) (string, error) {
	m.mu.Lock()
	m.calls++
	delay := m.latency[persona.ID]
	failure := m.failures[persona.ID]
	scripted := m.nextErr
	m.nextErr = nil
	canned, hasCanned := m.responses[prompt]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", NewError(KindTimeout, "mock", ctx.Err())
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return "", NewError(KindTimeout, "mock", err)
	}
	if scripted != nil {
		return "", scripted
	}
	if failure != nil {
		return "", failure
	}
	if hasCanned {
		return canned, nil
	}
	return fmt.Sprintf("%s: %s", persona.Name, prompt), nil
}
