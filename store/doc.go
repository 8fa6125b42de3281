// Package store provides core.Store implementations: a volatile in-memory
// store for tests and ephemeral servers, and (in the sqlite subpackage) a
// durable SQLite-backed store.
package store
