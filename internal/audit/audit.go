// Package audit defines the best-effort event trail for the approval engine.
// Sinks must never block voting correctness: the engine logs and counts sink
// failures but does not propagate them.
package audit

import "time"

// Event is one audit record: a vote cast, a terminal transition, or a
// dispatch outcome.
type Event struct {
	Time       time.Time         `json:"time"`
	Kind       string            `json:"kind"`
	Actor      string            `json:"actor"`
	ApprovalID string            `json:"approval_id"`
	GroupID    string            `json:"group_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Event kinds emitted by the engine.
const (
	KindApprovalCreated  = "approval_created"
	KindVoteCast         = "vote_cast"
	KindApprovalApproved = "approval_approved"
	KindApprovalRejected = "approval_rejected"
	KindApprovalCanceled = "approval_canceled"
	KindDispatchOK       = "dispatch_ok"
	KindDispatchFailed   = "dispatch_failed"
	KindDispatchSkipped  = "dispatch_skipped"
)

// Sink receives audit events. Implementations should be fast or internally
// buffered; callers treat Record as fire-and-forget.
type Sink interface {
	Record(ev Event) error
}

// Noop discards all events.
type Noop struct{}

func (Noop) Record(Event) error { return nil }

// Multi fans out to several sinks and returns the first error (callers only
// log it).
type Multi []Sink

func (m Multi) Record(ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
