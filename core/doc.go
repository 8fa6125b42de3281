// Package core contains the domain model shared by every Agora component:
// sessions, agent personas, session membership, threaded messages, conflict
// resolutions and the wire envelopes exchanged with clients. It also defines
// the Store interface that durable backends implement and the sentinel errors
// used across the module.
//
// The types here are plain data. Behavior lives in the packages that operate
// on them (thread, resolve, executor, engine); core stays dependency-free so
// every other package can import it without cycles.
package core
