// Package procmgr supervises one capability-provider subprocess and correlates
// requests and responses over its stdin/stdout.
//
// A Manager owns exactly one process handle at a time:
//   - Start spawns the configured argv in the server directory and waits a bounded
//     window for the process to come up
//   - Stop closes stdin, sends SIGTERM and escalates to SIGKILL after a grace period;
//     in-flight requests are rejected with ErrStopped, never dropped
//   - SendRequest writes one JSON line per request and matches replies strictly by id,
//     so replies may arrive in any order, interleaved with diagnostic text
//
// Unexpected exits are retried with exponential backoff (2s, 4s, 8s, ...) up to the
// server's max_retries; after that the manager stays in StatusError until an explicit
// Start. Lifecycle changes are reported to an Observer outside the manager's lock.
package procmgr
