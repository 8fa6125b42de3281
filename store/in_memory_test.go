package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/core"
)

func seedSession(t *testing.T, s *InMemory) core.Session {
	t.Helper()
	sess := core.NewSession("demo", "user-1")
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestInMemory_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, sess.Name, got.Name)
	assert.True(t, got.Active)

	got.Active = false
	assert.NoError(t, s.UpdateSession(ctx, got))
	got, err = s.GetSession(ctx, sess.ID)
	assert.NoError(t, err)
	assert.False(t, got.Active)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemory_DeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)

	p := core.NewAgentPersona("Ada", "analyst", "", "")
	require.NoError(t, s.CreatePersona(ctx, p))
	member := core.NewSessionAgent(sess.ID, p.ID, false)
	require.NoError(t, s.AddSessionAgent(ctx, member))
	require.NoError(t, s.AppendMessage(ctx, core.Message{ID: "m-1", SessionID: sess.ID, Content: "hi", Seq: 1}))
	require.NoError(t, s.CreateResolution(ctx, core.Resolution{ID: "r-1", SessionID: sess.ID, Method: core.MethodVoting, Status: core.StatusInProgress}))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err := s.GetSessionAgent(ctx, member.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetMessage(ctx, "m-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetResolution(ctx, "r-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Personas are referenced, not owned.
	_, err = s.GetPersona(ctx, p.ID)
	assert.NoError(t, err)
}

func TestInMemory_SingleManagerInvariant(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)
	p := core.NewAgentPersona("Bix", "manager", "", "")
	require.NoError(t, s.CreatePersona(ctx, p))

	require.NoError(t, s.AddSessionAgent(ctx, core.NewSessionAgent(sess.ID, p.ID, true)))
	err := s.AddSessionAgent(ctx, core.NewSessionAgent(sess.ID, p.ID, true))
	assert.ErrorIs(t, err, core.ErrDuplicateManager)

	// Non-manager memberships are unaffected.
	assert.NoError(t, s.AddSessionAgent(ctx, core.NewSessionAgent(sess.ID, p.ID, false)))

	// A different session may have its own manager.
	other := seedSession(t, s)
	assert.NoError(t, s.AddSessionAgent(ctx, core.NewSessionAgent(other.ID, p.ID, true)))
}

func TestInMemory_SingleManagerInvariant_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)
	p := core.NewAgentPersona("Bix", "manager", "", "")
	require.NoError(t, s.CreatePersona(ctx, p))

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.AddSessionAgent(ctx, core.NewSessionAgent(sess.ID, p.ID, true))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, core.ErrDuplicateManager)
		}
	}
	assert.Equal(t, 1, ok)

	mgr, err := s.FindManager(ctx, sess.ID)
	assert.NoError(t, err)
	assert.True(t, mgr.IsManager)
}

func TestInMemory_MessageListing(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)

	root := core.Message{ID: "m-1", SessionID: sess.ID, Content: "root", Seq: 1}
	require.NoError(t, s.AppendMessage(ctx, root))
	parent := root.ID
	require.NoError(t, s.AppendMessage(ctx, core.Message{ID: "m-3", SessionID: sess.ID, Content: "b", ParentID: &parent, Seq: 3}))
	require.NoError(t, s.AppendMessage(ctx, core.Message{ID: "m-2", SessionID: sess.ID, Content: "a", ParentID: &parent, Seq: 2}))

	msgs, err := s.ListMessages(ctx, sess.ID)
	assert.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	replies, err := s.ListReplies(ctx, root.ID)
	assert.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "m-2", replies[0].ID)

	err = s.AppendMessage(ctx, core.Message{ID: "m-4", SessionID: "missing", Seq: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemory_ResolutionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	sess := seedSession(t, s)

	r := core.Resolution{
		ID:                core.NewID(),
		SessionID:         sess.ID,
		ConflictMessageID: "m-1",
		Method:            core.MethodVoting,
		Status:            core.StatusInProgress,
		State: core.ResolutionState{Voting: &core.VotingState{
			Options:     []string{"a", "b"},
			Votes:       map[string]core.Vote{},
			Denominator: 2,
		}},
	}
	require.NoError(t, s.CreateResolution(ctx, r))

	got, err := s.GetResolution(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.State.Voting)
	assert.Equal(t, 2, got.State.Voting.Denominator)

	got.Status = core.StatusResolved
	require.NoError(t, s.UpdateResolution(ctx, got))
	got, err = s.GetResolution(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, got.Status)

	list, err := s.ListResolutions(ctx, sess.ID)
	assert.NoError(t, err)
	assert.Len(t, list, 1)
}
