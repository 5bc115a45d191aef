// Package groups is the minimal group directory the approval engine leans on:
// it answers "who are the admins of this group" at snapshot time and carries
// the membership/file/export state the approved actions mutate. Group CRUD
// beyond that belongs to the surrounding product.
package groups

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct{ db *gorm.DB }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Group{}, &Membership{}, &StoredFile{}, &LogExport{})
}
func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// EligibleAdmins implements quorum.RosterProvider: the live admin roster,
// ordered stably by member id.
func (r *Repo) EligibleAdmins(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Membership{}).
		Where("group_id = ? AND role = ?", groupID, RoleAdmin).
		Order("member_id ASC").Pluck("member_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) CreateGroup(ctx context.Context, g *Group) error {
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *Repo) Group(ctx context.Context, id string) (*Group, error) {
	var g Group
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// AddMember upserts the membership, keeping the existing role on conflict.
func (r *Repo) AddMember(ctx context.Context, groupID, memberID, role string) error {
	if role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("unknown role %q", role)
	}
	m := &Membership{GroupID: groupID, MemberID: memberID, Role: role}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "group_id"}, {Name: "member_id"}}, DoNothing: true}).
		Create(m).Error
}

func (r *Repo) SetRole(ctx context.Context, groupID, memberID, role string) error {
	if role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("unknown role %q", role)
	}
	res := r.db.WithContext(ctx).Model(&Membership{}).
		Where("group_id = ? AND member_id = ?", groupID, memberID).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("member %s not in group %s", memberID, groupID)
	}
	return nil
}

func (r *Repo) RemoveMember(ctx context.Context, groupID, memberID string) error {
	return r.db.WithContext(ctx).
		Where("group_id = ? AND member_id = ?", groupID, memberID).
		Delete(&Membership{}).Error
}

func (r *Repo) Members(ctx context.Context, groupID string) ([]*Membership, error) {
	var arr []*Membership
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("member_id ASC").Find(&arr).Error; err != nil {
		return nil, err
	}
	return arr, nil
}

// DeleteGroup soft-deletes the group and drops its memberships.
func (r *Repo) DeleteGroup(ctx context.Context, groupID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", groupID).Delete(&Group{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).Delete(&Membership{}).Error
	})
}

func (r *Repo) CreateFile(ctx context.Context, f *StoredFile) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *Repo) DeleteFile(ctx context.Context, fileID string) error {
	res := r.db.WithContext(ctx).Where("id = ?", fileID).Delete(&StoredFile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("file not found")
	}
	return nil
}

func (r *Repo) Files(ctx context.Context, groupID string) ([]*StoredFile, error) {
	var arr []*StoredFile
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("created_at DESC").Find(&arr).Error; err != nil {
		return nil, err
	}
	return arr, nil
}

func (r *Repo) CreateLogExport(ctx context.Context, le *LogExport) error {
	return r.db.WithContext(ctx).Create(le).Error
}

func (r *Repo) DeleteLogExport(ctx context.Context, exportID string) error {
	res := r.db.WithContext(ctx).Where("id = ?", exportID).Delete(&LogExport{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("log export not found")
	}
	return nil
}
