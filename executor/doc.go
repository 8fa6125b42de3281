// Package executor runs delegated assignments concurrently, one
// goroutine per assignment with a per-task timeout, and joins all
// results before returning. An empty plan degrades to a single agent.
package executor
