// Package approvals provides GORM-based persistence for the approval ledger.
// Mutations run inside one transaction with a write-intent lock on the
// approval row, so concurrent votes on the same approval serialize while
// different approvals proceed in parallel.
package approvals

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/groupguard/quorum/internal/quorum"
)

type Repo struct{ db *gorm.DB }

func AutoMigrate(db *gorm.DB) error { return db.AutoMigrate(&Approval{}, &Vote{}) }
func NewRepo(db *gorm.DB) *Repo     { return &Repo{db: db} }

func (r *Repo) Create(ctx context.Context, a *quorum.Approval, votes ...*quorum.Vote) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toRow(a)).Error; err != nil {
			return err
		}
		for _, v := range votes {
			if err := tx.Create(voteRow(v)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) Get(ctx context.Context, id string) (*quorum.Approval, error) {
	var row Approval
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, quorum.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *Repo) Votes(ctx context.Context, approvalID string) ([]*quorum.Vote, error) {
	var rows []Vote
	if err := r.db.WithContext(ctx).Where("approval_id = ?", approvalID).Order("cast_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*quorum.Vote, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Mutate is the concurrency-critical path: row lock, precondition checks via
// fn, vote insert, status flip, all in one transaction. Postgres takes a
// SELECT ... FOR UPDATE; SQLite serializes writers on its own, so the locking
// clause is skipped there.
func (r *Repo) Mutate(ctx context.Context, id string, fn func(a *quorum.Approval, votes []*quorum.Vote) (*quorum.Mutation, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row Approval
		if err := q.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return quorum.ErrNotFound
			}
			return err
		}
		var vrows []Vote
		if err := tx.Where("approval_id = ?", id).Order("cast_at ASC").Find(&vrows).Error; err != nil {
			return err
		}
		votes := make([]*quorum.Vote, 0, len(vrows))
		for i := range vrows {
			votes = append(votes, vrows[i].toDomain())
		}

		mut, err := fn(row.toDomain(), votes)
		if err != nil {
			return err
		}
		if mut == nil {
			return nil
		}
		if v := mut.InsertVote; v != nil {
			if err := tx.Create(voteRow(v)).Error; err != nil {
				if isUniqueViolation(err) {
					return quorum.ErrDuplicateVote
				}
				return err
			}
		}
		if mut.NewStatus != "" {
			res := tx.Model(&Approval{}).
				Where("id = ? AND status = ?", id, string(quorum.StatusPending)).
				Updates(map[string]any{"status": string(mut.NewStatus), "completed_at": mut.CompletedAt})
			if res.Error != nil {
				return res.Error
			}
			// The row lock makes a lost transition impossible; a zero
			// row count here means the guard itself is broken.
			if res.RowsAffected == 0 {
				return quorum.ErrAlreadyFinalized
			}
		}
		return nil
	})
}

func (r *Repo) List(ctx context.Context, f quorum.Filter, p quorum.Page) ([]*quorum.Approval, int, error) {
	q := r.db.WithContext(ctx).Model(&Approval{})
	if f.GroupID != "" {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.RequestedBy != "" {
		q = q.Where("requested_by = ?", f.RequestedBy)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	order := "created_at DESC"
	if strings.EqualFold(p.Sort, "created_at_asc") {
		order = "created_at ASC"
	}
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	var rows []Approval
	if err := q.Order(order).Limit(p.Size).Offset((p.Page - 1) * p.Size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*quorum.Approval, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, int(total), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
