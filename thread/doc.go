// Package thread assigns parent links and per-session ordering to
// messages and reconstructs root-to-message context chains for prompt
// building.
package thread
