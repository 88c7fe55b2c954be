// Package orchestrator owns the set of server process managers: it loads them from
// configuration, enforces the concurrency ceiling, starts auto-start servers in
// priority order, and keeps request metrics.
//
// Lifecycle of the orchestrator itself:
//
//	uninitialized -> initializing -> ready -> shutting-down -> shutdown -> uninitialized
//
// A failed Initialize returns to uninitialized. Everything except Status requires ready.
package orchestrator
