package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/internal/util"
	"github.com/agora-ai/agora/logging"
	"github.com/agora-ai/agora/oracle"
	"github.com/agora-ai/agora/thread"
)

// FailureNoManager marks a manager-decision resolution that was created
// in a session without a manager agent.
const FailureNoManager = "no_manager_agent"

// Options configures the resolver.
type Options struct {
	Logger logging.Logger
}

// Resolver is the conflict resolution state machine. It owns the
// lifecycle of resolutions: creation, vote and proposal intake, and
// the terminal transition that synthesizes a result message.
type Resolver struct {
	store   core.Store
	oracle  oracle.Oracle
	threads *thread.Manager
	logger  logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a resolver.
func New(store core.Store, o oracle.Oracle, threads *thread.Manager, optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Resolver{
		store:   store,
		oracle:  o,
		threads: threads,
		logger:  opts.Logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Create opens a resolution for a conflicting message. The method and
// its state shape are fixed here and never change.
//
// Voting freezes its denominator to the session agent count at this
// moment. Manager decision runs to completion immediately: with no
// manager in the session the resolution is created directly failed,
// without any oracle call; otherwise one oracle call against the
// manager persona decides, and its failure finalizes the resolution as
// failed rather than returning an error.
func (r *Resolver) Create(ctx context.Context, sessionID, conflictMessageID string, method core.ResolutionMethod, options []string) (core.Resolution, error) {
	if !method.Valid() {
		return core.Resolution{}, fmt.Errorf("method %q: %w", method, core.ErrMethodMismatch)
	}

	conflict, err := r.store.GetMessage(ctx, conflictMessageID)
	if err != nil {
		return core.Resolution{}, err
	}

	if conflict.SessionID != sessionID {
		return core.Resolution{}, fmt.Errorf("conflict message %s belongs to session %s: %w", conflict.ID, conflict.SessionID, core.ErrCrossSessionParent)
	}

	now := time.Now()
	res := core.Resolution{
		ID:                core.NewID(),
		SessionID:         sessionID,
		ConflictMessageID: conflictMessageID,
		Method:            method,
		Status:            core.StatusInProgress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	switch method {
	case core.MethodVoting:
		agents, err := r.store.ListSessionAgents(ctx, sessionID)
		if err != nil {
			return core.Resolution{}, err
		}

		res.State.Voting = &core.VotingState{
			Options:     slices.Clone(options),
			Votes:       make(map[string]core.Vote),
			Denominator: len(agents),
			NextSeq:     1,
		}

	case core.MethodConsensus:
		res.State.Consensus = &core.ConsensusState{
			Proposals: make(map[string]core.Proposal),
		}

	case core.MethodManagerDecision:
		manager, err := r.store.FindManager(ctx, sessionID)
		if errors.Is(err, core.ErrNotFound) {
			res.Status = core.StatusFailed
			res.FailureReason = FailureNoManager
			res.State.ManagerDecision = &core.ManagerDecisionState{Options: slices.Clone(options)}

			r.logger.Warn("manager decision without manager", "session_id", sessionID)

			if err := r.store.CreateResolution(ctx, res); err != nil {
				return core.Resolution{}, err
			}

			return res, nil
		} else if err != nil {
			return core.Resolution{}, err
		}

		res.State.ManagerDecision = &core.ManagerDecisionState{
			Options:        slices.Clone(options),
			ManagerAgentID: manager.ID,
		}

		if err := r.store.CreateResolution(ctx, res); err != nil {
			return core.Resolution{}, err
		}

		return r.decide(ctx, res, conflict, manager)
	}

	if err := r.store.CreateResolution(ctx, res); err != nil {
		return core.Resolution{}, err
	}

	r.logger.Info("resolution created", "resolution_id", res.ID, "method", string(method), "session_id", sessionID)

	return res, nil
}

// Vote records an agent's current choice on a voting resolution.
// Re-voting overwrites the previous choice without double-counting the
// voter, and refreshes the voter's position in the tie-break order.
// Recording never finalizes: the resolution stays in_progress until
// Tally runs, so a re-vote arriving after the last unique voter still
// lands. Callers that want an immediate close tally as soon as
// QuorumMet reports true, the way the engine does.
func (r *Resolver) Vote(ctx context.Context, resolutionID, agentID, option string) (core.Resolution, error) {
	lock := r.lockFor(resolutionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.store.GetResolution(ctx, resolutionID)
	if err != nil {
		return core.Resolution{}, err
	}

	if res.Finalized() {
		return core.Resolution{}, fmt.Errorf("resolution %s is %s: %w", res.ID, res.Status, core.ErrAlreadyFinalized)
	}

	if res.Method != core.MethodVoting || res.State.Voting == nil {
		return core.Resolution{}, fmt.Errorf("vote on %s resolution: %w", res.Method, core.ErrMethodMismatch)
	}

	voter, err := r.member(ctx, res.SessionID, agentID)
	if err != nil {
		return core.Resolution{}, err
	}

	state := res.State.Voting

	if len(state.Options) > 0 && !slices.Contains(state.Options, option) {
		return core.Resolution{}, fmt.Errorf("option %q: %w", option, core.ErrUnknownOption)
	}

	state.Votes[voter.ID] = core.Vote{
		Option: option,
		Seq:    state.NextSeq,
		CastAt: time.Now(),
	}
	state.NextSeq++
	res.UpdatedAt = time.Now()

	if err := r.store.UpdateResolution(ctx, res); err != nil {
		return core.Resolution{}, err
	}

	return res, nil
}

// Tally closes a voting resolution once every counted voter has a
// standing vote: the option with the most votes wins, and among tied
// options the one whose supporting vote was submitted most recently.
// Tallying before quorum returns ErrQuorumNotReached and leaves the
// resolution open.
func (r *Resolver) Tally(ctx context.Context, resolutionID string) (core.Resolution, error) {
	lock := r.lockFor(resolutionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.store.GetResolution(ctx, resolutionID)
	if err != nil {
		return core.Resolution{}, err
	}

	if res.Finalized() {
		return core.Resolution{}, fmt.Errorf("resolution %s is %s: %w", res.ID, res.Status, core.ErrAlreadyFinalized)
	}

	if res.Method != core.MethodVoting || res.State.Voting == nil {
		return core.Resolution{}, fmt.Errorf("tally on %s resolution: %w", res.Method, core.ErrMethodMismatch)
	}

	if !res.State.Voting.QuorumMet() {
		return core.Resolution{}, fmt.Errorf("%d of %d voters: %w", len(res.State.Voting.Votes), res.State.Voting.Denominator, core.ErrQuorumNotReached)
	}

	return r.finalizeVote(ctx, res)
}

// Propose records an agent's consensus proposal, last-write-wins per
// agent. Once every current session agent has a standing proposal, one
// oracle call synthesizes the merged outcome; the synthesizing persona
// is the session's manager, or the first agent when none exists.
func (r *Resolver) Propose(ctx context.Context, resolutionID, agentID, text string) (core.Resolution, error) {
	lock := r.lockFor(resolutionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := r.store.GetResolution(ctx, resolutionID)
	if err != nil {
		return core.Resolution{}, err
	}

	if res.Finalized() {
		return core.Resolution{}, fmt.Errorf("resolution %s is %s: %w", res.ID, res.Status, core.ErrAlreadyFinalized)
	}

	if res.Method != core.MethodConsensus || res.State.Consensus == nil {
		return core.Resolution{}, fmt.Errorf("propose on %s resolution: %w", res.Method, core.ErrMethodMismatch)
	}

	proposer, err := r.member(ctx, res.SessionID, agentID)
	if err != nil {
		return core.Resolution{}, err
	}

	state := res.State.Consensus
	state.Rounds++
	state.Proposals[proposer.ID] = core.Proposal{
		Text:        text,
		Round:       state.Rounds,
		SubmittedAt: time.Now(),
	}
	res.UpdatedAt = time.Now()

	// The proposer set is compared against the current membership, not
	// a frozen count: agents added mid-consensus must weigh in too.
	agents, err := r.store.ListSessionAgents(ctx, res.SessionID)
	if err != nil {
		return core.Resolution{}, err
	}

	complete := len(agents) > 0
	for _, agent := range agents {
		if _, ok := state.Proposals[agent.ID]; !ok {
			complete = false
			break
		}
	}

	if complete {
		return r.synthesize(ctx, res, agents)
	}

	if err := r.store.UpdateResolution(ctx, res); err != nil {
		return core.Resolution{}, err
	}

	return res, nil
}

// Get returns a resolution by id.
func (r *Resolver) Get(ctx context.Context, resolutionID string) (core.Resolution, error) {
	return r.store.GetResolution(ctx, resolutionID)
}

func (r *Resolver) lockFor(resolutionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[resolutionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[resolutionID] = lock
	}

	return lock
}

// releaseLock evicts a finalized resolution's mutex so the map does not
// grow with every resolution ever touched. A waiter still blocked on the
// evicted mutex re-reads the terminal status and fails the finalized
// guard, so handing later callers a fresh mutex is harmless.
func (r *Resolver) releaseLock(resolutionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.locks, resolutionID)
}

func (r *Resolver) member(ctx context.Context, sessionID, agentID string) (core.SessionAgent, error) {
	agent, err := r.store.GetSessionAgent(ctx, agentID)
	if err != nil {
		return core.SessionAgent{}, err
	}

	if agent.SessionID != sessionID {
		return core.SessionAgent{}, fmt.Errorf("agent %s belongs to session %s: %w", agent.ID, agent.SessionID, core.ErrNotMember)
	}

	return agent, nil
}

// finalizeVote counts the standing votes and transitions to resolved.
// Caller holds the resolution lock.
func (r *Resolver) finalizeVote(ctx context.Context, res core.Resolution) (core.Resolution, error) {
	state := res.State.Voting

	counts := make(map[string]int)
	latest := make(map[string]uint64)
	var lastVoter string
	var lastSeq uint64

	for voterID, vote := range state.Votes {
		counts[vote.Option]++

		if vote.Seq > latest[vote.Option] {
			latest[vote.Option] = vote.Seq
		}

		if vote.Seq > lastSeq {
			lastSeq = vote.Seq
			lastVoter = voterID
		}
	}

	var winner string
	var winnerVotes int
	var winnerSeq uint64

	for option, n := range counts {
		switch {
		case n > winnerVotes:
			winner, winnerVotes, winnerSeq = option, n, latest[option]
		case n == winnerVotes && latest[option] > winnerSeq:
			winner, winnerSeq = option, latest[option]
		}
	}

	state.Counts = counts
	state.Winner = winner

	// The result is authored by the manager when the session has one,
	// otherwise by the last agent to vote.
	author := lastVoter
	if manager, err := r.store.FindManager(ctx, res.SessionID); err == nil {
		author = manager.ID
	}

	content := fmt.Sprintf("The group voted to proceed with: %s", winner)

	return r.finalize(ctx, res, author, content)
}

// decide runs the manager-decision protocol to completion. Caller has
// already persisted the in_progress resolution.
func (r *Resolver) decide(ctx context.Context, res core.Resolution, conflict core.Message, manager core.SessionAgent) (core.Resolution, error) {
	persona, err := r.store.GetPersona(ctx, manager.PersonaID)
	if err != nil {
		return core.Resolution{}, err
	}

	siblings, err := r.siblings(ctx, conflict)
	if err != nil {
		return core.Resolution{}, err
	}

	instruction, err := util.RenderTemplate(decisionTemplate, map[string]any{
		"Messages": renderMessages(siblings),
		"Options":  strings.Join(res.State.ManagerDecision.Options, "\n- "),
	})
	if err != nil {
		return core.Resolution{}, err
	}

	decision, err := r.oracle.Generate(ctx, persona, instruction)
	if err != nil {
		r.logger.Warn("manager decision failed", "resolution_id", res.ID, "error", err)
		return r.fail(ctx, res, fmt.Sprintf("manager decision: %v", err))
	}

	res.State.ManagerDecision.Decision = decision

	return r.finalize(ctx, res, manager.ID, decision)
}

// synthesize runs the consensus merge. Caller holds the resolution lock.
func (r *Resolver) synthesize(ctx context.Context, res core.Resolution, agents []core.SessionAgent) (core.Resolution, error) {
	synthesizer := agents[0]
	for _, agent := range agents {
		if agent.IsManager {
			synthesizer = agent
			break
		}
	}

	persona, err := r.store.GetPersona(ctx, synthesizer.PersonaID)
	if err != nil {
		return core.Resolution{}, err
	}

	state := res.State.Consensus

	var proposals strings.Builder
	for _, agent := range agents {
		p := state.Proposals[agent.ID]
		fmt.Fprintf(&proposals, "- %s\n", p.Text)
	}

	instruction, err := util.RenderTemplate(consensusTemplate, map[string]any{
		"Proposals": strings.TrimRight(proposals.String(), "\n"),
	})
	if err != nil {
		return core.Resolution{}, err
	}

	outcome, err := r.oracle.Generate(ctx, persona, instruction)
	if err != nil {
		r.logger.Warn("consensus synthesis failed", "resolution_id", res.ID, "error", err)
		return r.fail(ctx, res, fmt.Sprintf("consensus synthesis: %v", err))
	}

	state.Outcome = outcome

	return r.finalize(ctx, res, synthesizer.ID, outcome)
}

// finalize transitions to resolved and threads the result message
// under the conflicting message's parent.
func (r *Resolver) finalize(ctx context.Context, res core.Resolution, authorID, content string) (core.Resolution, error) {
	conflict, err := r.store.GetMessage(ctx, res.ConflictMessageID)
	if err != nil {
		return core.Resolution{}, err
	}

	msg, err := r.threads.Append(ctx, res.SessionID, content, func(o *thread.AppendOptions) {
		o.AuthorID = &authorID
		o.ParentID = conflict.ParentID
	})
	if err != nil {
		return core.Resolution{}, err
	}

	now := time.Now()
	res.Status = core.StatusResolved
	res.ResolvedByID = &authorID
	res.ResultMessageID = &msg.ID
	res.UpdatedAt = now
	res.ResolvedAt = &now

	if err := r.store.UpdateResolution(ctx, res); err != nil {
		return core.Resolution{}, err
	}

	r.releaseLock(res.ID)
	r.logger.Info("resolution resolved", "resolution_id", res.ID, "method", string(res.Method), "result_message_id", msg.ID)

	return res, nil
}

// fail transitions to failed. Oracle failures end here; they are a
// terminal state of the protocol, not an error of the call.
func (r *Resolver) fail(ctx context.Context, res core.Resolution, reason string) (core.Resolution, error) {
	res.Status = core.StatusFailed
	res.FailureReason = reason
	res.UpdatedAt = time.Now()

	if err := r.store.UpdateResolution(ctx, res); err != nil {
		return core.Resolution{}, err
	}

	r.releaseLock(res.ID)

	return res, nil
}

// siblings returns the messages sharing the conflict's parent, the
// divergent replies a manager weighs against each other. A root
// conflict has no siblings and is considered alone.
func (r *Resolver) siblings(ctx context.Context, conflict core.Message) ([]core.Message, error) {
	if conflict.ParentID == nil {
		return []core.Message{conflict}, nil
	}

	return r.store.ListReplies(ctx, *conflict.ParentID)
}

func renderMessages(msgs []core.Message) string {
	var b strings.Builder

	for _, msg := range msgs {
		fmt.Fprintf(&b, "- %s\n", msg.Content)
	}

	return strings.TrimRight(b.String(), "\n")
}

const decisionTemplate = `The agents in your session produced conflicting answers. As the manager, pick the best resolution.

Conflicting messages:
{{.Messages}}

Candidate options:
- {{.Options}}

State your decision and a one-sentence rationale.`

const consensusTemplate = `Every agent in the session has submitted a proposal. Merge them into one consensus answer that preserves the strongest points of each.

Proposals:
{{.Proposals}}

Respond with the merged consensus only.`
