// Package quorum implements the multi-party approval engine that gates
// sensitive group-administration actions behind agreement from the group's
// admins. An approval freezes the admin roster at creation, collects at most
// one vote per eligible voter, and flips exactly once to a terminal status;
// the approved action fires at most once, from the transition that won.
package quorum

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/groupguard/quorum/internal/audit"
)

// Config wires the engine's collaborators. Store and Roster are required.
type Config struct {
	Store      Store
	Roster     RosterProvider
	Payloads   PayloadValidator // optional; skip schema validation when nil
	Dispatcher *Dispatcher      // optional; a fresh one is created when nil
	Audit      audit.Sink       // optional; defaults to audit.Noop
}

// Engine owns the approval lifecycle. Safe for concurrent use; correctness
// under concurrent votes comes from the Store's transaction discipline, not
// from in-process locks, so multiple server instances may share one database.
type Engine struct {
	store       Store
	roster      RosterProvider
	payloads    PayloadValidator
	dispatcher  *Dispatcher
	audit       audit.Sink
	tracer      trace.Tracer
	auditErrors atomic.Int64
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("quorum: nil store")
	}
	if cfg.Roster == nil {
		return nil, fmt.Errorf("quorum: nil roster provider")
	}
	e := &Engine{
		store:      cfg.Store,
		roster:     cfg.Roster,
		payloads:   cfg.Payloads,
		dispatcher: cfg.Dispatcher,
		audit:      cfg.Audit,
		tracer:     otel.Tracer("quorum"),
	}
	if e.dispatcher == nil {
		e.dispatcher = NewDispatcher()
	}
	if e.audit == nil {
		e.audit = audit.Noop{}
	}
	return e, nil
}

// Dispatcher exposes the handler registry for host-application registration.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// CreateRequest carries the caller's parameters for a new approval.
type CreateRequest struct {
	GroupID           string          `json:"group_id"`
	Type              ApprovalType    `json:"type"`
	RequestedBy       string          `json:"requested_by"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	RelatedEntityID   string          `json:"related_entity_id,omitempty"`
	RelatedEntityType string          `json:"related_entity_type,omitempty"`
	Policy            Policy          `json:"policy"`
}

// CreateApproval validates the request, freezes the current admin roster into
// the approval, and persists it as pending. If the snapshot holds exactly one
// admin, a synthetic approve vote is cast on their behalf and the approval
// finalizes synchronously, including dispatch.
func (e *Engine) CreateApproval(ctx context.Context, req CreateRequest) (*Approval, error) {
	ctx, span := e.tracer.Start(ctx, "quorum.CreateApproval")
	defer span.End()

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown approval type %q", ErrInvalidPayload, req.Type)
	}
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}
	if e.payloads != nil {
		if err := e.payloads.Validate(req.Type, req.Payload); err != nil {
			return nil, err
		}
	}
	roster, err := e.roster.EligibleAdmins(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("roster snapshot for group %s: %w", req.GroupID, err)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: group %s has no admins", ErrInvariant, req.GroupID)
	}

	now := time.Now().UTC()
	a := &Approval{
		ID:                newID(),
		GroupID:           req.GroupID,
		Type:              req.Type,
		RequestedBy:       req.RequestedBy,
		Payload:           req.Payload,
		RelatedEntityID:   req.RelatedEntityID,
		RelatedEntityType: req.RelatedEntityType,
		EligibleVoterIDs:  append([]string(nil), roster...),
		Policy:            req.Policy,
		Status:            StatusPending,
		CreatedAt:         now,
	}

	// Sole admin: the requester's group has one decider, so the approval is
	// effectively synchronous.
	if len(roster) == 1 {
		auto := &Vote{
			ApprovalID:     a.ID,
			VoterID:        roster[0],
			Decision:       DecisionApprove,
			CastAt:         now,
			IsAutoApproved: true,
		}
		st, err := Evaluate(1, 0, 1, a.Policy)
		if err != nil {
			return nil, err
		}
		if st.Terminal() {
			a.Status = st
			a.CompletedAt = &now
		}
		if err := e.store.Create(ctx, a, auto); err != nil {
			return nil, err
		}
		e.emit(audit.Event{Time: now, Kind: audit.KindApprovalCreated, Actor: req.RequestedBy, ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"type": string(a.Type)}})
		e.emit(audit.Event{Time: now, Kind: audit.KindVoteCast, Actor: roster[0], ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"decision": string(DecisionApprove), "auto": "true"}})
		if a.Status == StatusApproved {
			e.finalized(ctx, a, roster[0], Tally{Approve: 1, TotalEligible: 1})
		}
		return a, nil
	}

	if err := e.store.Create(ctx, a); err != nil {
		return nil, err
	}
	e.emit(audit.Event{Time: now, Kind: audit.KindApprovalCreated, Actor: req.RequestedBy, ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"type": string(a.Type)}})
	return a, nil
}

// VoteResult is returned to the voter: the status after their vote and the
// tally that produced it.
type VoteResult struct {
	Status Status `json:"status"`
	Tally  Tally  `json:"tally"`
}

// CastVote appends one vote and re-evaluates the approval, all in one atomic
// unit. Preconditions fail in order: ErrNotFound, ErrAlreadyFinalized,
// ErrNotEligible, ErrDuplicateVote. The deciding vote's transaction is the
// only one that observes the transition, so dispatch fires exactly once.
func (e *Engine) CastVote(ctx context.Context, approvalID, voterID string, decision Decision) (*VoteResult, error) {
	ctx, span := e.tracer.Start(ctx, "quorum.CastVote")
	defer span.End()

	if !decision.Valid() {
		return nil, fmt.Errorf("%w: decision %q", ErrInvalidPayload, decision)
	}

	var (
		res     VoteResult
		final   *Approval // non-nil when this vote flipped the status
		groupID string
	)
	err := e.store.Mutate(ctx, approvalID, func(a *Approval, votes []*Vote) (*Mutation, error) {
		groupID = a.GroupID
		if a.Status != StatusPending {
			return nil, ErrAlreadyFinalized
		}
		if !a.Eligible(voterID) {
			return nil, ErrNotEligible
		}
		for _, v := range votes {
			if v.VoterID == voterID {
				return nil, ErrDuplicateVote
			}
		}
		now := time.Now().UTC()
		vote := &Vote{ApprovalID: a.ID, VoterID: voterID, Decision: decision, CastAt: now}
		t := TallyVotes(a, append(votes, vote))
		st, err := Evaluate(t.Approve, t.Reject, t.TotalEligible, a.Policy)
		if err != nil {
			return nil, err
		}
		mut := &Mutation{InsertVote: vote}
		res = VoteResult{Status: st, Tally: t}
		if st.Terminal() {
			mut.NewStatus = st
			mut.CompletedAt = &now
			cp := *a
			cp.Status = st
			cp.CompletedAt = &now
			final = &cp
		}
		return mut, nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(audit.Event{Time: time.Now().UTC(), Kind: audit.KindVoteCast, Actor: voterID, ApprovalID: approvalID, GroupID: groupID, Details: map[string]string{"decision": string(decision)}})
	if final != nil {
		e.finalized(ctx, final, voterID, res.Tally)
	}
	return &res, nil
}

// CancelApproval withdraws a pending approval. Only the original requester may
// cancel, and only while the approval is still pending.
func (e *Engine) CancelApproval(ctx context.Context, approvalID, requesterID string) error {
	ctx, span := e.tracer.Start(ctx, "quorum.CancelApproval")
	defer span.End()

	var (
		canceled *Approval
		tally    Tally
	)
	err := e.store.Mutate(ctx, approvalID, func(a *Approval, votes []*Vote) (*Mutation, error) {
		if a.RequestedBy != requesterID {
			return nil, ErrForbidden
		}
		if a.Status != StatusPending {
			return nil, ErrAlreadyFinalized
		}
		now := time.Now().UTC()
		tally = TallyVotes(a, votes)
		cp := *a
		cp.Status = StatusCanceled
		cp.CompletedAt = &now
		canceled = &cp
		return &Mutation{NewStatus: StatusCanceled, CompletedAt: &now}, nil
	})
	if err != nil {
		return err
	}
	e.emit(audit.Event{
		Time: time.Now().UTC(), Kind: audit.KindApprovalCanceled, Actor: requesterID,
		ApprovalID: canceled.ID, GroupID: canceled.GroupID,
		Details: tallyDetails(StatusPending, StatusCanceled, tally),
	})
	return nil
}

// GetApproval assembles the read model: the approval, its tally, and one row
// per snapshot voter. Voters dropped from the live roster after snapshot time
// still appear (their weight was frozen) but are labeled off-roster.
func (e *Engine) GetApproval(ctx context.Context, approvalID string) (*View, error) {
	ctx, span := e.tracer.Start(ctx, "quorum.GetApproval")
	defer span.End()

	a, err := e.store.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	votes, err := e.store.Votes(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	live := map[string]bool{}
	if admins, err := e.roster.EligibleAdmins(ctx, a.GroupID); err == nil {
		for _, id := range admins {
			live[id] = true
		}
	} else {
		slog.Warn("live roster unavailable; labeling snapshot voters as on-roster", "group", a.GroupID, "error", err)
		for _, id := range a.EligibleVoterIDs {
			live[id] = true
		}
	}

	byVoter := map[string]Decision{}
	for _, v := range votes {
		byVoter[v.VoterID] = v.Decision
	}
	voters := make([]VoterState, 0, len(a.EligibleVoterIDs))
	for _, id := range a.EligibleVoterIDs {
		vs := VoterState{VoterID: id, Decision: "pending", OnRoster: live[id]}
		if d, ok := byVoter[id]; ok {
			vs.Decision = string(d)
		}
		voters = append(voters, vs)
	}
	return &View{Approval: a, Tally: TallyVotes(a, votes), Voters: voters}, nil
}

// ListApprovals pages through approvals matching the filter.
func (e *Engine) ListApprovals(ctx context.Context, f Filter, p Page) ([]*Approval, int, error) {
	ctx, span := e.tracer.Start(ctx, "quorum.ListApprovals")
	defer span.End()
	return e.store.List(ctx, f, p)
}

// AuditErrors returns the count of audit emissions that failed (and were
// discarded).
func (e *Engine) AuditErrors() int64 { return e.auditErrors.Load() }

// finalized emits the terminal-transition audit event and, for approvals,
// fires the action handler. Dispatch happens here, from the single transaction
// that won the transition; downstream failure never touches the status.
func (e *Engine) finalized(ctx context.Context, a *Approval, actor string, t Tally) {
	kind := audit.KindApprovalRejected
	if a.Status == StatusApproved {
		kind = audit.KindApprovalApproved
	}
	e.emit(audit.Event{
		Time: time.Now().UTC(), Kind: kind, Actor: actor,
		ApprovalID: a.ID, GroupID: a.GroupID,
		Details: tallyDetails(StatusPending, a.Status, t),
	})
	if a.Status != StatusApproved {
		return
	}
	out := e.dispatcher.Dispatch(ctx, a)
	switch {
	case out.Err != nil:
		e.emit(audit.Event{Time: time.Now().UTC(), Kind: audit.KindDispatchFailed, Actor: actor, ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"type": string(a.Type), "error": out.Err.Error()}})
	case out.Executed:
		e.emit(audit.Event{Time: time.Now().UTC(), Kind: audit.KindDispatchOK, Actor: actor, ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"type": string(a.Type)}})
	default:
		e.emit(audit.Event{Time: time.Now().UTC(), Kind: audit.KindDispatchSkipped, Actor: actor, ApprovalID: a.ID, GroupID: a.GroupID, Details: map[string]string{"type": string(a.Type), "reason": out.Skipped}})
	}
}

func (e *Engine) emit(ev audit.Event) {
	if err := e.audit.Record(ev); err != nil {
		e.auditErrors.Add(1)
		slog.Warn("audit emission failed", "kind", ev.Kind, "approval", ev.ApprovalID, "error", err)
	}
}

func tallyDetails(from, to Status, t Tally) map[string]string {
	return map[string]string{
		"from":           string(from),
		"to":             string(to),
		"approve_count":  fmt.Sprintf("%d", t.Approve),
		"reject_count":   fmt.Sprintf("%d", t.Reject),
		"total_eligible": fmt.Sprintf("%d", t.TotalEligible),
	}
}

// newID returns a 16-byte random hex id.
func newID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
