package quorum

import (
	"encoding/json"
	"time"
)

// ApprovalType identifies the gated group-administration action an approval
// guards. The set is closed; handlers for each type are registered by the host
// application at engine construction.
type ApprovalType string

const (
	TypeAddMember       ApprovalType = "add_member"
	TypePromoteToAdmin  ApprovalType = "promote_to_admin"
	TypeDemoteFromAdmin ApprovalType = "demote_from_admin"
	TypeRemoveMember    ApprovalType = "remove_member"
	TypeDeleteGroup     ApprovalType = "delete_group"
	TypeDeleteFile      ApprovalType = "delete_file"
	TypeDeleteLogExport ApprovalType = "delete_log_export"
)

// Types lists all known approval types.
func Types() []ApprovalType {
	return []ApprovalType{
		TypeAddMember, TypePromoteToAdmin, TypeDemoteFromAdmin,
		TypeRemoveMember, TypeDeleteGroup, TypeDeleteFile, TypeDeleteLogExport,
	}
}

func (t ApprovalType) Valid() bool {
	switch t {
	case TypeAddMember, TypePromoteToAdmin, TypeDemoteFromAdmin,
		TypeRemoveMember, TypeDeleteGroup, TypeDeleteFile, TypeDeleteLogExport:
		return true
	}
	return false
}

// Decision is a single voter's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool { return d == DecisionApprove || d == DecisionReject }

// Status is the approval lifecycle state. Everything but pending is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
)

func (s Status) Terminal() bool { return s != StatusPending && s != "" }

// Policy is the threshold rule for one approval: unanimity, or a percentage of
// the eligible roster. Exactly one of the two is active.
type Policy struct {
	Unanimous  bool `json:"unanimous"`
	Percentage *int `json:"percentage,omitempty"`
}

// UnanimousPolicy requires every eligible voter to approve.
func UnanimousPolicy() Policy { return Policy{Unanimous: true} }

// PercentPolicy requires at least pct percent of the eligible roster to approve.
func PercentPolicy(pct int) Policy { return Policy{Percentage: &pct} }

// Validate enforces the unanimous-XOR-percentage rule.
func (p Policy) Validate() error {
	if p.Unanimous {
		if p.Percentage != nil {
			return ErrInvalidPolicy
		}
		return nil
	}
	if p.Percentage == nil || *p.Percentage < 0 || *p.Percentage > 100 {
		return ErrInvalidPolicy
	}
	return nil
}

// Approval is one persisted request for a gated action, carrying its own
// policy and the voter roster frozen at creation time. Once the status leaves
// pending the record is read-only history; approvals are never deleted.
type Approval struct {
	ID                string          `json:"id"`
	GroupID           string          `json:"group_id"`
	Type              ApprovalType    `json:"type"`
	RequestedBy       string          `json:"requested_by"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	RelatedEntityID   string          `json:"related_entity_id,omitempty"`
	RelatedEntityType string          `json:"related_entity_type,omitempty"`
	// EligibleVoterIDs is the admin roster snapshot taken at creation.
	// Never mutated afterwards; roster churn does not change who decides.
	EligibleVoterIDs []string   `json:"eligible_voter_ids"`
	Policy           Policy     `json:"policy"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Eligible reports whether voterID is in the frozen snapshot.
func (a *Approval) Eligible(voterID string) bool {
	for _, id := range a.EligibleVoterIDs {
		if id == voterID {
			return true
		}
	}
	return false
}

// Vote is one voter's verdict on one approval. At most one exists per
// (approval, voter) pair, ever.
type Vote struct {
	ApprovalID string    `json:"approval_id"`
	VoterID    string    `json:"voter_id"`
	Decision   Decision  `json:"decision"`
	CastAt     time.Time `json:"cast_at"`
	// IsAutoApproved marks the synthetic self-vote created when the
	// snapshot contains exactly one admin.
	IsAutoApproved bool `json:"is_auto_approved,omitempty"`
}

// Tally is the current vote count against the frozen roster size.
type Tally struct {
	Approve       int `json:"approve_count"`
	Reject        int `json:"reject_count"`
	TotalEligible int `json:"total_eligible"`
}

// TallyVotes counts votes against the approval's snapshot size.
func TallyVotes(a *Approval, votes []*Vote) Tally {
	t := Tally{TotalEligible: len(a.EligibleVoterIDs)}
	for _, v := range votes {
		switch v.Decision {
		case DecisionApprove:
			t.Approve++
		case DecisionReject:
			t.Reject++
		}
	}
	return t
}

// VoterState is one roster entry in the read model: the voter's verdict so
// far, and whether they are still on the live admin roster. Snapshot voters
// removed from the group after creation keep their row (their weight was
// frozen) but are labeled as off-roster.
type VoterState struct {
	VoterID  string `json:"voter_id"`
	Decision string `json:"decision"` // approve|reject|pending
	OnRoster bool   `json:"on_roster"`
}

// View is the assembled read model returned by GetApproval.
type View struct {
	Approval *Approval    `json:"approval"`
	Tally    Tally        `json:"tally"`
	Voters   []VoterState `json:"voters"`
}

// Filter narrows ListApprovals results.
type Filter struct {
	GroupID     string
	Status      Status
	Type        ApprovalType
	RequestedBy string
}

// Page controls ListApprovals pagination.
type Page struct {
	Page int
	Size int
	Sort string // created_at_desc|created_at_asc
}
