package models

import "errors"

// Error taxonomy shared by the fetcher, answer client, queue and orchestrator.
// Callers match with errors.Is; wrapped variants carry the underlying cause.
var (
	// ErrAuth means the platform rejected our credentials. Fatal: the
	// orchestrator stops and waits for operator intervention.
	ErrAuth = errors.New("platform authentication failed")

	// ErrTransientFetch covers network and 5xx failures while searching
	// mentions. Retried on the next cycle.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrUpstreamUnavailable means the answer service timed out or errored.
	ErrUpstreamUnavailable = errors.New("answer service unavailable")

	// ErrDuplicateMention guards the queue's uniqueness invariant. Should
	// never surface during normal operation.
	ErrDuplicateMention = errors.New("mention already queued or processed")

	// ErrPostRejected means the platform refused the reply (4xx). Not
	// retryable; the failure is recorded on the interaction.
	ErrPostRejected = errors.New("platform rejected reply")

	// ErrRateLimited means a quota window is exhausted. Always retried once
	// capacity returns, never surfaced to users.
	ErrRateLimited = errors.New("rate limit exceeded")
)
