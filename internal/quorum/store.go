package quorum

import (
	"context"
	"time"
)

// Mutation is the write set produced by one atomic update of an approval:
// an optional vote insert and an optional status transition. A nil Mutation
// means the callback decided nothing needs to change.
type Mutation struct {
	InsertVote  *Vote
	NewStatus   Status // "" = no transition
	CompletedAt *time.Time
}

// Store is the durable ledger behind the engine. Implementations must make
// Mutate an atomic unit: load the approval under a write-intent lock, run fn
// against the current row and its votes, and persist the returned mutation in
// the same transaction. Concurrent Mutate calls on the same approval serialize;
// calls on different approvals must not block each other.
type Store interface {
	// Create persists a new approval together with any creation-time votes
	// (the single-admin auto-approve) in one transaction.
	Create(ctx context.Context, a *Approval, votes ...*Vote) error
	Get(ctx context.Context, id string) (*Approval, error)
	Votes(ctx context.Context, approvalID string) ([]*Vote, error)
	Mutate(ctx context.Context, id string, fn func(a *Approval, votes []*Vote) (*Mutation, error)) error
	List(ctx context.Context, f Filter, p Page) (items []*Approval, total int, err error)
}

// RosterProvider supplies the live admin roster of a group. The engine reads
// it once at approval creation to freeze the snapshot, and again only to label
// off-roster voters in the read model.
type RosterProvider interface {
	EligibleAdmins(ctx context.Context, groupID string) ([]string, error)
}

// PayloadValidator checks the shape of a type-specific payload at creation.
// Schema-level only; business-level checks belong to the action handlers.
type PayloadValidator interface {
	Validate(t ApprovalType, payload []byte) error
}
