// Package registry tracks live client connections per session and
// provides the delivery primitive used to push outbound envelopes to
// them. State is volatile; a reconnecting client replays history from
// the store.
package registry
