package core

import (
	"maps"
	"slices"
	"time"
)

// ResolutionMethod selects the protocol used to reduce divergent agent
// outputs to one answer. The method is fixed when the resolution is created
// and never changes afterwards.
type ResolutionMethod string

const (
	// MethodVoting resolves by counting one vote per session agent.
	MethodVoting ResolutionMethod = "voting"
	// MethodManagerDecision resolves by a single oracle call against the
	// session's manager persona.
	MethodManagerDecision ResolutionMethod = "manager_decision"
	// MethodConsensus resolves by collecting one proposal per agent and
	// synthesizing a merged outcome.
	MethodConsensus ResolutionMethod = "consensus"
)

// Valid reports whether m names a known method.
func (m ResolutionMethod) Valid() bool {
	switch m {
	case MethodVoting, MethodManagerDecision, MethodConsensus:
		return true
	}
	return false
}

// ResolutionStatus is the forward-only lifecycle of a resolution.
type ResolutionStatus string

const (
	// StatusInProgress accepts votes / proposals.
	StatusInProgress ResolutionStatus = "in_progress"
	// StatusResolved carries a result message. Terminal.
	StatusResolved ResolutionStatus = "resolved"
	// StatusFailed carries a failure reason. Terminal.
	StatusFailed ResolutionStatus = "failed"
)

// Vote is one agent's current choice. Seq orders submissions across the
// whole resolution; re-voting replaces the previous Vote entirely, so the
// tie-break order refreshes with each accepted submission.
type Vote struct {
	Option string    `json:"option"`
	Seq    uint64    `json:"seq"`
	CastAt time.Time `json:"cast_at"`
}

// VotingState tracks a voting resolution: the candidate options, one Vote
// per unique voter and the denominator frozen at creation time (the session
// agent count when the resolution was opened).
type VotingState struct {
	Options     []string        `json:"options"`
	Votes       map[string]Vote `json:"votes"`
	Denominator int             `json:"denominator"`
	NextSeq     uint64          `json:"next_seq"`
	Counts      map[string]int  `json:"counts,omitempty"`
	Winner      string          `json:"winner,omitempty"`
}

// QuorumMet reports whether every counted voter has a standing vote.
func (v *VotingState) QuorumMet() bool {
	return len(v.Votes) >= v.Denominator
}

// ManagerDecisionState tracks a manager-decision resolution.
type ManagerDecisionState struct {
	Options        []string `json:"options,omitempty"`
	ManagerAgentID string   `json:"manager_agent_id,omitempty"`
	Decision       string   `json:"decision,omitempty"`
}

// Proposal is one agent's latest consensus proposal (last-write-wins).
type Proposal struct {
	Text        string    `json:"text"`
	Round       int       `json:"round"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ConsensusState tracks a consensus resolution: the latest proposal per
// unique proposer and a round counter incremented per accepted proposal.
type ConsensusState struct {
	Proposals map[string]Proposal `json:"proposals"`
	Rounds    int                 `json:"rounds"`
	Outcome   string              `json:"outcome,omitempty"`
}

// ResolutionState is the tagged union of the three method-specific shapes.
// Exactly one field is non-nil, chosen at creation to match the resolution's
// Method, and it is never reinterpreted as another variant.
type ResolutionState struct {
	Voting          *VotingState          `json:"voting,omitempty"`
	ManagerDecision *ManagerDecisionState `json:"manager_decision,omitempty"`
	Consensus       *ConsensusState       `json:"consensus,omitempty"`
}

// Clone returns a deep copy, so store snapshots do not alias the live
// maps a resolver is mutating.
func (s ResolutionState) Clone() ResolutionState {
	var out ResolutionState

	if s.Voting != nil {
		v := *s.Voting
		v.Options = slices.Clone(v.Options)
		v.Votes = maps.Clone(v.Votes)
		v.Counts = maps.Clone(v.Counts)
		out.Voting = &v
	}

	if s.ManagerDecision != nil {
		m := *s.ManagerDecision
		m.Options = slices.Clone(m.Options)
		out.ManagerDecision = &m
	}

	if s.Consensus != nil {
		c := *s.Consensus
		c.Proposals = maps.Clone(c.Proposals)
		out.Consensus = &c
	}

	return out
}

// Resolution records how a set of conflicting agent outputs was reduced to
// one answer. ConflictMessageID names the message whose replies diverged.
type Resolution struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	ConflictMessageID string           `json:"conflict_message_id"`
	Method            ResolutionMethod `json:"method"`
	Status            ResolutionStatus `json:"status"`
	State             ResolutionState  `json:"state"`
	ResolvedByID      *string          `json:"resolved_by_id,omitempty"`
	ResultMessageID   *string          `json:"result_message_id,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// Finalized reports whether the resolution has left in_progress.
func (r *Resolution) Finalized() bool {
	return r.Status == StatusResolved || r.Status == StatusFailed
}
