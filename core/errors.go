package core

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// underlying store.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinalized is returned when an operation targets a resolution
	// whose status has already left in_progress. Status transitions are
	// forward-only; a finalized resolution never accepts further input.
	ErrAlreadyFinalized = errors.New("resolution already finalized")

	// ErrCrossSessionParent is returned when a message names a parent that
	// belongs to a different session.
	ErrCrossSessionParent = errors.New("parent message belongs to a different session")

	// ErrCrossSessionRecipient is returned when a direct message names a
	// recipient agent outside the sender's session.
	ErrCrossSessionRecipient = errors.New("recipient agent belongs to a different session")

	// ErrNoManagerAgent is returned when an operation requires a manager
	// agent and the session has none.
	ErrNoManagerAgent = errors.New("no manager agent in session")

	// ErrDuplicateManager is returned by stores when adding a second manager
	// to a session. At most one SessionAgent per session carries the flag.
	ErrDuplicateManager = errors.New("session already has a manager agent")

	// ErrNotMember is returned when a vote or proposal arrives from an agent
	// that is not a member of the resolution's session.
	ErrNotMember = errors.New("agent is not a member of this session")

	// ErrMethodMismatch is returned when a vote is submitted to a
	// non-voting resolution or a proposal to a non-consensus one.
	ErrMethodMismatch = errors.New("operation does not match resolution method")

	// ErrUnknownOption is returned when a vote names an option that is not
	// part of the resolution's candidate set.
	ErrUnknownOption = errors.New("option is not a candidate of this resolution")

	// ErrQuorumNotReached is returned when a voting resolution is tallied
	// before every counted voter has a standing vote.
	ErrQuorumNotReached = errors.New("voting quorum not reached")

	// ErrUnknownMessageType is returned for inbound envelopes whose type is
	// not recognized. It is delivered only to the originating connection.
	ErrUnknownMessageType = errors.New("unknown message type")
)
