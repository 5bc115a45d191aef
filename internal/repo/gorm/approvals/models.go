package approvals

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/groupguard/quorum/internal/quorum"
)

// Approval is the DB row for one approval. The eligible-voter snapshot and the
// opaque payload are JSON columns; the snapshot column is written once at
// insert and never updated.
type Approval struct {
	ID                string `gorm:"primaryKey;size:32"`
	GroupID           string `gorm:"size:64;index"`
	Type              string `gorm:"size:32;index"`
	RequestedBy       string `gorm:"size:64;index"`
	Payload           datatypes.JSON
	RelatedEntityID   string `gorm:"size:64"`
	RelatedEntityType string `gorm:"size:32"`
	EligibleVoters    datatypes.JSON
	Unanimous         bool
	Percentage        *int
	Status            string `gorm:"size:16;index"`
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

func (Approval) TableName() string { return "approvals" }

// Vote is the DB row for one vote. The unique index enforces at most one vote
// per (approval, voter) at the storage layer, backing up the in-transaction
// check under races.
type Vote struct {
	ID           uint   `gorm:"primaryKey"`
	ApprovalID   string `gorm:"size:32;uniqueIndex:ux_votes_approval_voter"`
	VoterID      string `gorm:"size:64;uniqueIndex:ux_votes_approval_voter"`
	Decision     string `gorm:"size:8"`
	CastAt       time.Time
	AutoApproved bool
}

func (Vote) TableName() string { return "approval_votes" }

func toRow(a *quorum.Approval) *Approval {
	voters, _ := json.Marshal(a.EligibleVoterIDs)
	return &Approval{
		ID:                a.ID,
		GroupID:           a.GroupID,
		Type:              string(a.Type),
		RequestedBy:       a.RequestedBy,
		Payload:           datatypes.JSON(a.Payload),
		RelatedEntityID:   a.RelatedEntityID,
		RelatedEntityType: a.RelatedEntityType,
		EligibleVoters:    voters,
		Unanimous:         a.Policy.Unanimous,
		Percentage:        a.Policy.Percentage,
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt,
		CompletedAt:       a.CompletedAt,
	}
}

func (r *Approval) toDomain() *quorum.Approval {
	var voters []string
	_ = json.Unmarshal(r.EligibleVoters, &voters)
	return &quorum.Approval{
		ID:                r.ID,
		GroupID:           r.GroupID,
		Type:              quorum.ApprovalType(r.Type),
		RequestedBy:       r.RequestedBy,
		Payload:           json.RawMessage(r.Payload),
		RelatedEntityID:   r.RelatedEntityID,
		RelatedEntityType: r.RelatedEntityType,
		EligibleVoterIDs:  voters,
		Policy:            quorum.Policy{Unanimous: r.Unanimous, Percentage: r.Percentage},
		Status:            quorum.Status(r.Status),
		CreatedAt:         r.CreatedAt,
		CompletedAt:       r.CompletedAt,
	}
}

func voteRow(v *quorum.Vote) *Vote {
	return &Vote{
		ApprovalID:   v.ApprovalID,
		VoterID:      v.VoterID,
		Decision:     string(v.Decision),
		CastAt:       v.CastAt,
		AutoApproved: v.IsAutoApproved,
	}
}

func (r *Vote) toDomain() *quorum.Vote {
	return &quorum.Vote{
		ApprovalID:     r.ApprovalID,
		VoterID:        r.VoterID,
		Decision:       quorum.Decision(r.Decision),
		CastAt:         r.CastAt,
		IsAutoApproved: r.AutoApproved,
	}
}
