package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/groupguard/quorum/internal/quorum"
)

func testRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return NewRepo(db)
}

func sample(id string) *quorum.Approval {
	p := 50
	return &quorum.Approval{
		ID:               id,
		GroupID:          "g1",
		Type:             quorum.TypeRemoveMember,
		RequestedBy:      "admin-a",
		Payload:          json.RawMessage(`{"member_id":"m1"}`),
		EligibleVoterIDs: []string{"admin-a", "admin-b", "admin-c"},
		Policy:           quorum.Policy{Percentage: &p},
		Status:           quorum.StatusPending,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestRepo_CreateGetRoundTrip(t *testing.T) {
	r := testRepo(t)
	in := sample("ap1")
	if err := r.Create(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	out, err := r.Get(context.Background(), "ap1")
	if err != nil {
		t.Fatal(err)
	}
	if out.GroupID != in.GroupID || out.Type != in.Type || out.Status != quorum.StatusPending {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.EligibleVoterIDs) != 3 || out.EligibleVoterIDs[1] != "admin-b" {
		t.Fatalf("voter snapshot mangled: %v", out.EligibleVoterIDs)
	}
	if out.Policy.Unanimous || out.Policy.Percentage == nil || *out.Policy.Percentage != 50 {
		t.Fatalf("policy mangled: %+v", out.Policy)
	}
	if string(out.Payload) != `{"member_id":"m1"}` {
		t.Fatalf("payload mangled: %s", out.Payload)
	}

	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, quorum.ErrNotFound) {
		t.Fatalf("missing id: got %v", err)
	}
}

func TestRepo_CreateWithAutoVote(t *testing.T) {
	r := testRepo(t)
	a := sample("ap1")
	a.EligibleVoterIDs = []string{"only"}
	a.Status = quorum.StatusApproved
	now := time.Now().UTC()
	a.CompletedAt = &now
	auto := &quorum.Vote{ApprovalID: "ap1", VoterID: "only", Decision: quorum.DecisionApprove, CastAt: now, IsAutoApproved: true}

	if err := r.Create(context.Background(), a, auto); err != nil {
		t.Fatal(err)
	}
	votes, err := r.Votes(context.Background(), "ap1")
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 1 || !votes[0].IsAutoApproved || votes[0].Decision != quorum.DecisionApprove {
		t.Fatalf("auto vote round trip: %+v", votes)
	}
}

func TestRepo_MutateInsertsVoteAndFlipsStatus(t *testing.T) {
	r := testRepo(t)
	if err := r.Create(context.Background(), sample("ap1")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	err := r.Mutate(context.Background(), "ap1", func(a *quorum.Approval, votes []*quorum.Vote) (*quorum.Mutation, error) {
		if a.Status != quorum.StatusPending || len(votes) != 0 {
			t.Fatalf("unexpected starting state: %s %d", a.Status, len(votes))
		}
		return &quorum.Mutation{
			InsertVote:  &quorum.Vote{ApprovalID: a.ID, VoterID: "admin-a", Decision: quorum.DecisionApprove, CastAt: now},
			NewStatus:   quorum.StatusApproved,
			CompletedAt: &now,
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := r.Get(context.Background(), "ap1")
	if a.Status != quorum.StatusApproved || a.CompletedAt == nil {
		t.Fatalf("status flip lost: %+v", a)
	}
}

// The unique index is the storage-level backstop for one-vote-per-voter.
func TestRepo_MutateDuplicateVoter(t *testing.T) {
	r := testRepo(t)
	if err := r.Create(context.Background(), sample("ap1")); err != nil {
		t.Fatal(err)
	}
	cast := func() error {
		return r.Mutate(context.Background(), "ap1", func(a *quorum.Approval, _ []*quorum.Vote) (*quorum.Mutation, error) {
			return &quorum.Mutation{InsertVote: &quorum.Vote{ApprovalID: a.ID, VoterID: "admin-a", Decision: quorum.DecisionApprove, CastAt: time.Now().UTC()}}, nil
		})
	}
	if err := cast(); err != nil {
		t.Fatal(err)
	}
	if err := cast(); !errors.Is(err, quorum.ErrDuplicateVote) {
		t.Fatalf("second insert should map to ErrDuplicateVote, got %v", err)
	}
}

// The guarded UPDATE only fires from pending; a second transition attempt
// surfaces as ErrAlreadyFinalized and rolls the transaction back.
func TestRepo_MutateStatusGuard(t *testing.T) {
	r := testRepo(t)
	if err := r.Create(context.Background(), sample("ap1")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	flip := func(voter string, to quorum.Status) error {
		return r.Mutate(context.Background(), "ap1", func(a *quorum.Approval, _ []*quorum.Vote) (*quorum.Mutation, error) {
			return &quorum.Mutation{
				InsertVote:  &quorum.Vote{ApprovalID: a.ID, VoterID: voter, Decision: quorum.DecisionApprove, CastAt: now},
				NewStatus:   to,
				CompletedAt: &now,
			}, nil
		})
	}
	if err := flip("admin-a", quorum.StatusApproved); err != nil {
		t.Fatal(err)
	}
	// bypass the engine's pending precondition to exercise the SQL guard
	if err := flip("admin-b", quorum.StatusRejected); !errors.Is(err, quorum.ErrAlreadyFinalized) {
		t.Fatalf("guard should refuse second transition, got %v", err)
	}
	a, _ := r.Get(context.Background(), "ap1")
	if a.Status != quorum.StatusApproved {
		t.Fatalf("terminal status must be immutable, got %s", a.Status)
	}
	// rollback must also discard admin-b's vote
	votes, _ := r.Votes(context.Background(), "ap1")
	if len(votes) != 1 || votes[0].VoterID != "admin-a" {
		t.Fatalf("failed transition leaked its vote: %+v", votes)
	}
}

func TestRepo_MutateCallbackError(t *testing.T) {
	r := testRepo(t)
	if err := r.Create(context.Background(), sample("ap1")); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("precondition")
	err := r.Mutate(context.Background(), "ap1", func(*quorum.Approval, []*quorum.Vote) (*quorum.Mutation, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("callback error should surface, got %v", err)
	}
	if err := r.Mutate(context.Background(), "missing", func(*quorum.Approval, []*quorum.Vote) (*quorum.Mutation, error) {
		return nil, nil
	}); !errors.Is(err, quorum.ErrNotFound) {
		t.Fatalf("missing approval: got %v", err)
	}
}

func TestRepo_List(t *testing.T) {
	r := testRepo(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		a := sample(id)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			a.Status = quorum.StatusApproved
			a.GroupID = "g2"
		}
		if err := r.Create(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := r.List(context.Background(), quorum.Filter{GroupID: "g1"}, quorum.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("group filter: %d / %d", total, len(items))
	}
	if items[0].ID != "b" {
		t.Fatalf("default order should be newest first, got %s", items[0].ID)
	}

	items, total, err = r.List(context.Background(), quorum.Filter{Status: quorum.StatusApproved}, quorum.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != "c" {
		t.Fatalf("status filter: %d %+v", total, items)
	}

	items, total, err = r.List(context.Background(), quorum.Filter{}, quorum.Page{Page: 2, Size: 2, Sort: "created_at_asc"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 1 || items[0].ID != "c" {
		t.Fatalf("pagination: total=%d items=%+v", total, items)
	}
}
