package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/oracle"
	"github.com/agora-ai/agora/store"
	"github.com/agora-ai/agora/thread"
)

type fixture struct {
	store    *store.InMemory
	oracle   *oracle.MockOracle
	threads  *thread.Manager
	resolver *Resolver

	session  core.Session
	manager  core.SessionAgent
	agents   []core.SessionAgent
	root     core.Message
	conflict core.Message
}

// newFixture builds a session with the given number of worker agents,
// an optional manager, and a conflict message threaded under a root.
func newFixture(t *testing.T, workers int, withManager bool) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  store.NewInMemory(),
		oracle: oracle.NewMockOracle(),
	}
	f.threads = thread.NewManager(f.store)
	f.resolver = New(f.store, f.oracle, f.threads)

	f.session = core.NewSession("demo", "user-1")
	require.NoError(t, f.store.CreateSession(ctx, f.session))

	if withManager {
		p := core.NewAgentPersona("Lead", "coordinator", "", "")
		require.NoError(t, f.store.CreatePersona(ctx, p))
		f.manager = core.NewSessionAgent(f.session.ID, p.ID, true)
		require.NoError(t, f.store.AddSessionAgent(ctx, f.manager))
		f.agents = append(f.agents, f.manager)
	}

	for i := 0; i < workers; i++ {
		p := core.NewAgentPersona("Worker", "analyst", "", "")
		require.NoError(t, f.store.CreatePersona(ctx, p))
		a := core.NewSessionAgent(f.session.ID, p.ID, false)
		require.NoError(t, f.store.AddSessionAgent(ctx, a))
		f.agents = append(f.agents, a)
	}

	var err error
	f.root, err = f.threads.Append(ctx, f.session.ID, "what should we do?")
	require.NoError(t, err)
	f.conflict, err = f.threads.Append(ctx, f.session.ID, "we disagree", func(o *thread.AppendOptions) {
		o.ParentID = &f.root.ID
	})
	require.NoError(t, err)

	return f
}

func TestResolver_VotingResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, true) // manager + 1 worker, denominator 2

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1", "opt2"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, res.Status)
	assert.Equal(t, 2, res.State.Voting.Denominator)

	res, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, res.Status)

	res, err = f.resolver.Vote(ctx, res.ID, f.agents[1].ID, "opt1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, res.Status)
	require.True(t, res.State.Voting.QuorumMet())

	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, res.Status)
	assert.Equal(t, "opt1", res.State.Voting.Winner)
	assert.Equal(t, map[string]int{"opt1": 2}, res.State.Voting.Counts)

	// The result is authored by the manager and threaded under the
	// conflict's parent.
	require.NotNil(t, res.ResolvedByID)
	assert.Equal(t, f.manager.ID, *res.ResolvedByID)
	require.NotNil(t, res.ResultMessageID)
	msg, err := f.store.GetMessage(ctx, *res.ResultMessageID)
	require.NoError(t, err)
	require.NotNil(t, msg.ParentID)
	assert.Equal(t, f.root.ID, *msg.ParentID)
	assert.Contains(t, msg.Content, "opt1")

	// No oracle involvement in voting.
	assert.Equal(t, 0, f.oracle.Calls())
}

func TestResolver_VotingRevoteTieBreak(t *testing.T) {
	ctx := context.Background()

	// A1 revotes to opt2 before A2 votes opt1: A2's vote is the most
	// recent, so opt1 takes the tie.
	f := newFixture(t, 2, false)
	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1", "opt2"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt2")
	require.NoError(t, err)
	_, err = f.resolver.Vote(ctx, res.ID, f.agents[1].ID, "opt1")
	require.NoError(t, err)

	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, res.Status)
	assert.Equal(t, map[string]int{"opt1": 1, "opt2": 1}, res.State.Voting.Counts)
	assert.Equal(t, "opt1", res.State.Voting.Winner)

	// Reversed ordering: A1's revote to opt2 lands after A2's vote, so
	// the revote is the most recent submission and opt2 takes the tie.
	f = newFixture(t, 2, false)
	res, err = f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1", "opt2"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	_, err = f.resolver.Vote(ctx, res.ID, f.agents[1].ID, "opt1")
	require.NoError(t, err)
	res, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt2")
	require.NoError(t, err)
	assert.Len(t, res.State.Voting.Votes, 2)
	assert.Equal(t, "opt2", res.State.Voting.Votes[f.agents[0].ID].Option)

	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, res.Status)
	assert.Equal(t, map[string]int{"opt1": 1, "opt2": 1}, res.State.Voting.Counts)
	assert.Equal(t, "opt2", res.State.Voting.Winner)
}

func TestResolver_VotingRevoteDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1", "opt2"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	res, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt2")
	require.NoError(t, err)

	// One unique voter of two; still open.
	assert.Equal(t, core.StatusInProgress, res.Status)
	assert.Len(t, res.State.Voting.Votes, 1)
}

func TestResolver_VotingGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "nope")
	assert.ErrorIs(t, err, core.ErrUnknownOption)

	// Voter from another session.
	other := core.NewSession("other", "user-1")
	require.NoError(t, f.store.CreateSession(ctx, other))
	p := core.NewAgentPersona("Out", "outsider", "", "")
	require.NoError(t, f.store.CreatePersona(ctx, p))
	outsider := core.NewSessionAgent(other.ID, p.ID, false)
	require.NoError(t, f.store.AddSessionAgent(ctx, outsider))

	_, err = f.resolver.Vote(ctx, res.ID, outsider.ID, "opt1")
	assert.ErrorIs(t, err, core.ErrNotMember)

	// Tallying short of quorum leaves the resolution open.
	_, err = f.resolver.Tally(ctx, res.ID)
	assert.ErrorIs(t, err, core.ErrQuorumNotReached)

	// Finalize, then vote and tally again.
	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusResolved, res.Status)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	assert.ErrorIs(t, err, core.ErrAlreadyFinalized)
	_, err = f.resolver.Tally(ctx, res.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyFinalized)
}

func TestResolver_VoteOnConsensusResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodConsensus, nil)
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	assert.ErrorIs(t, err, core.ErrMethodMismatch)

	_, err = f.resolver.Tally(ctx, res.ID)
	assert.ErrorIs(t, err, core.ErrMethodMismatch)
}

func TestResolver_ManagerDecisionResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, true)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodManagerDecision, []string{"opt1", "opt2"})
	require.NoError(t, err)

	assert.Equal(t, core.StatusResolved, res.Status)
	assert.Equal(t, 1, f.oracle.Calls())
	assert.NotEmpty(t, res.State.ManagerDecision.Decision)
	require.NotNil(t, res.ResolvedByID)
	assert.Equal(t, f.manager.ID, *res.ResolvedByID)
	require.NotNil(t, res.ResultMessageID)

	msg, err := f.store.GetMessage(ctx, *res.ResultMessageID)
	require.NoError(t, err)
	require.NotNil(t, msg.ParentID)
	assert.Equal(t, f.root.ID, *msg.ParentID)
}

func TestResolver_ManagerDecisionWithoutManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodManagerDecision, []string{"opt1"})
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, FailureNoManager, res.FailureReason)
	assert.Equal(t, 0, f.oracle.Calls())

	// The failed resolution is persisted.
	got, err := f.store.GetResolution(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
}

func TestResolver_ManagerDecisionOracleFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, true)
	f.oracle.FailFor(f.manager.PersonaID, oracle.NewError(oracle.KindProviderUnavailable, "mock", assert.AnError))

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodManagerDecision, []string{"opt1"})
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.FailureReason, "manager decision")
	assert.Nil(t, res.ResultMessageID)
}

func TestResolver_ConsensusResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, true) // manager + worker

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodConsensus, nil)
	require.NoError(t, err)

	res, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "use the cache")
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, res.Status)
	assert.Equal(t, 0, f.oracle.Calls())

	res, err = f.resolver.Propose(ctx, res.ID, f.agents[1].ID, "use the queue")
	require.NoError(t, err)

	assert.Equal(t, core.StatusResolved, res.Status)
	assert.Equal(t, 1, f.oracle.Calls())
	assert.NotEmpty(t, res.State.Consensus.Outcome)
	assert.Equal(t, 2, res.State.Consensus.Rounds)

	// The manager synthesizes when present.
	require.NotNil(t, res.ResolvedByID)
	assert.Equal(t, f.manager.ID, *res.ResolvedByID)
}

func TestResolver_ConsensusLastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodConsensus, nil)
	require.NoError(t, err)

	_, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "first draft")
	require.NoError(t, err)
	res, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "better draft")
	require.NoError(t, err)

	assert.Equal(t, core.StatusInProgress, res.Status)
	assert.Len(t, res.State.Consensus.Proposals, 1)
	assert.Equal(t, "better draft", res.State.Consensus.Proposals[f.agents[0].ID].Text)
	assert.Equal(t, 2, res.State.Consensus.Rounds)
}

func TestResolver_ConsensusSynthesisFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, false) // single worker, no manager

	f.oracle.FailFor(f.agents[0].PersonaID, oracle.NewError(oracle.KindTimeout, "mock", assert.AnError))

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodConsensus, nil)
	require.NoError(t, err)

	res, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "my take")
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.FailureReason, "consensus synthesis")

	_, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "again")
	assert.ErrorIs(t, err, core.ErrAlreadyFinalized)
}

func TestResolver_CreateGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, false)

	_, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, "coin_flip", nil)
	assert.ErrorIs(t, err, core.ErrMethodMismatch)

	_, err = f.resolver.Create(ctx, f.session.ID, "missing", core.MethodVoting, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	other := core.NewSession("other", "user-1")
	require.NoError(t, f.store.CreateSession(ctx, other))
	foreign, err := f.threads.Append(ctx, other.ID, "elsewhere")
	require.NoError(t, err)

	_, err = f.resolver.Create(ctx, f.session.ID, foreign.ID, core.MethodVoting, nil)
	assert.Error(t, err)
}

func TestResolver_VotingDenominatorFrozenAtCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1"})
	require.NoError(t, err)
	require.Equal(t, 2, res.State.Voting.Denominator)

	// An agent joining later does not raise the bar.
	p := core.NewAgentPersona("Late", "analyst", "", "")
	require.NoError(t, f.store.CreatePersona(ctx, p))
	late := core.NewSessionAgent(f.session.ID, p.ID, false)
	require.NoError(t, f.store.AddSessionAgent(ctx, late))

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	res, err = f.resolver.Vote(ctx, res.ID, f.agents[1].ID, "opt1")
	require.NoError(t, err)
	require.True(t, res.State.Voting.QuorumMet())

	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, res.Status)
}

func TestResolver_ResultAuthoredByLastVoterWithoutManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, false)

	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	_, err = f.resolver.Vote(ctx, res.ID, f.agents[1].ID, "opt1")
	require.NoError(t, err)

	res, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, res.ResolvedByID)
	assert.Equal(t, f.agents[1].ID, *res.ResolvedByID)
}

func TestResolver_LockEvictedOnTerminalTransition(t *testing.T) {
	ctx := context.Background()

	heldLock := func(r *Resolver, id string) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, ok := r.locks[id]
		return ok
	}

	// Resolved path.
	f := newFixture(t, 1, false)
	res, err := f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodVoting, []string{"opt1"})
	require.NoError(t, err)

	_, err = f.resolver.Vote(ctx, res.ID, f.agents[0].ID, "opt1")
	require.NoError(t, err)
	assert.True(t, heldLock(f.resolver, res.ID))

	_, err = f.resolver.Tally(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, heldLock(f.resolver, res.ID))

	// Failed path.
	f.oracle.FailFor(f.agents[0].PersonaID, oracle.NewError(oracle.KindTimeout, "mock", assert.AnError))
	res, err = f.resolver.Create(ctx, f.session.ID, f.conflict.ID, core.MethodConsensus, nil)
	require.NoError(t, err)

	res, err = f.resolver.Propose(ctx, res.ID, f.agents[0].ID, "my take")
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, res.Status)
	assert.False(t, heldLock(f.resolver, res.ID))
}
