// Package testutil contains helper builders used across tests to reduce
// boilerplate when seeding stores with sessions, personas and
// memberships. They are not intended for production usage.
package testutil
