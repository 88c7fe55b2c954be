// Package admission sits in front of the orchestrator: it validates mutating
// request bodies, applies a per-client sliding-window rate limit, and wraps every
// outcome in a uniform Envelope.
package admission
