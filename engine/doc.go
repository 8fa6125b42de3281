// Package engine implements the orchestration layer of Agora.
//
// The Engine binds the flow together: inbound envelopes become threaded
// messages, delegated work fans out to the generation oracle, divergent
// results open a conflict resolution, and everything observable is
// broadcast best-effort to the session's live connections.
//
// # Flow
//
//  1. An inbound user_message is appended as a root message.
//  2. With a manager present, the delegation engine splits the text
//     into per-agent assignments; otherwise execution degrades to a
//     single agent.
//  3. The coordinator runs all assignments concurrently and joins.
//  4. Successful outputs are persisted under the root and broadcast.
//  5. More than one success opens an implicit conflict resolution.
//
// Client disconnects never cancel in-flight executions; their results
// are still persisted, and broadcasts to vanished connections are
// silently dropped.
package engine
