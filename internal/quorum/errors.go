package quorum

import "errors"

// Engine errors. Callers match with errors.Is; the HTTP layer maps them to
// status codes. Conflict errors (ErrDuplicateVote, ErrAlreadyFinalized) are
// expected under concurrency and must stay distinguishable from server faults.
var (
	// validation (creation-time, nothing persisted)
	ErrInvalidPolicy  = errors.New("invalid approval policy")
	ErrInvalidPayload = errors.New("invalid approval payload")

	// authorization
	ErrNotEligible = errors.New("voter not in eligible roster snapshot")
	ErrForbidden   = errors.New("forbidden")

	// conflict
	ErrNotFound         = errors.New("approval not found")
	ErrAlreadyFinalized = errors.New("approval already finalized")
	ErrDuplicateVote    = errors.New("voter already voted on this approval")

	// invariant violations fail loudly, never default a decision
	ErrInvariant = errors.New("approval invariant violation")
)
