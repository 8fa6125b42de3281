package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agora-ai/agora/core"
)

func testPersona() core.AgentPersona {
	p := core.NewAgentPersona("Ada", "analyst", "precise and curious", "Answer concisely.")
	p.Examples = []core.ExamplePair{{Input: "2+2?", Output: "4"}}
	return p
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(testPersona(), "Stay on topic.")

	assert.Contains(t, prompt, "You are Ada, a analyst.")
	assert.Contains(t, prompt, "Personality: precise and curious")
	assert.Contains(t, prompt, "Answer concisely.")
	assert.Contains(t, prompt, "Example input: 2+2?")
	assert.True(t, strings.HasSuffix(prompt, "Stay on topic."))
}

func TestMockOracle_CannedAndDefault(t *testing.T) {
	m := NewMockOracle()
	m.AddResponse("ping", "pong")

	out, err := m.Generate(context.Background(), testPersona(), "ping")
	assert.NoError(t, err)
	assert.Equal(t, "pong", out)

	out, err = m.Generate(context.Background(), testPersona(), "hello")
	assert.NoError(t, err)
	assert.Equal(t, "Ada: hello", out)
	assert.Equal(t, 2, m.Calls())
}

func TestMockOracle_Failures(t *testing.T) {
	m := NewMockOracle()
	p := testPersona()

	sentinel := NewError(KindRateLimited, "mock", errors.New("quota"))
	m.FailNext(sentinel)
	_, err := m.Generate(context.Background(), p, "x")
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, IsKind(err, KindRateLimited))

	// Scripted failure is consumed.
	_, err = m.Generate(context.Background(), p, "x")
	assert.NoError(t, err)

	m.FailFor(p.ID, NewError(KindProviderUnavailable, "mock", errors.New("down")))
	_, err = m.Generate(context.Background(), p, "x")
	assert.True(t, IsKind(err, KindProviderUnavailable))
}

func TestMockOracle_DelayRespectsContext(t *testing.T) {
	m := NewMockOracle()
	p := testPersona()
	m.DelayFor(p.ID, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Generate(ctx, p, "slow")
	assert.True(t, IsKind(err, KindTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestIsKind_NonOracleError(t *testing.T) {
	assert.False(t, IsKind(errors.New("plain"), KindTimeout))
}
