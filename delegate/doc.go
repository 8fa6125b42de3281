// Package delegate turns user text and a persona roster into an
// assignment plan with a single structured-output oracle call. Parse
// failures degrade to an empty plan instead of failing, so callers can
// fall back to single-agent mode.
package delegate
