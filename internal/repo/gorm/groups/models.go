package groups

import (
	"time"

	"gorm.io/gorm"
)

// Group is one administered group. Deletion is a soft delete so approvals
// referencing the group keep a resolvable target.
type Group struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Membership links a member to a group with a role. Admins form the voter
// roster the engine snapshots at approval creation.
type Membership struct {
	ID        uint   `gorm:"primaryKey"`
	GroupID   string `gorm:"size:64;uniqueIndex:ux_members_group_member"`
	MemberID  string `gorm:"size:64;uniqueIndex:ux_members_group_member"`
	Role      string `gorm:"size:16;default:member"` // admin|member
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Membership) TableName() string { return "group_memberships" }

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// StoredFile is a file owned by a group; deleting it is a gated action.
type StoredFile struct {
	ID        string `gorm:"primaryKey;size:64"`
	GroupID   string `gorm:"size:64;index"`
	Name      string `gorm:"size:255"`
	Size      int64
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (StoredFile) TableName() string { return "stored_files" }

// LogExport is a generated export of a group's activity log; deleting it is a
// gated action.
type LogExport struct {
	ID        string `gorm:"primaryKey;size:64"`
	GroupID   string `gorm:"size:64;index"`
	Path      string `gorm:"size:255"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (LogExport) TableName() string { return "log_exports" }
