package quorum

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store (dev/testing fallback). A per-approval mutex
// serializes Mutate on one approval while leaving other approvals unblocked,
// mirroring the row-lock discipline of the SQL store.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]*memRec
}

type memRec struct {
	mu       sync.Mutex
	approval Approval
	votes    []Vote
}

func NewMemStore() *MemStore { return &MemStore{data: map[string]*memRec{}} }

func (m *MemStore) Create(_ context.Context, a *Approval, votes ...*Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[a.ID]; ok {
		return ErrInvariant
	}
	rec := &memRec{approval: cloneApproval(a)}
	for _, v := range votes {
		rec.votes = append(rec.votes, *v)
	}
	m.data[a.ID] = rec
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Approval, error) {
	rec := m.rec(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := cloneApproval(&rec.approval)
	return &cp, nil
}

func (m *MemStore) Votes(_ context.Context, approvalID string) ([]*Vote, error) {
	rec := m.rec(approvalID)
	if rec == nil {
		return nil, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneVotes(rec.votes), nil
}

func (m *MemStore) Mutate(_ context.Context, id string, fn func(a *Approval, votes []*Vote) (*Mutation, error)) error {
	rec := m.rec(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := cloneApproval(&rec.approval)
	mut, err := fn(&cp, cloneVotes(rec.votes))
	if err != nil {
		return err
	}
	if mut == nil {
		return nil
	}
	if v := mut.InsertVote; v != nil {
		for _, ex := range rec.votes {
			if ex.VoterID == v.VoterID {
				return ErrDuplicateVote
			}
		}
		rec.votes = append(rec.votes, *v)
	}
	if mut.NewStatus != "" {
		rec.approval.Status = mut.NewStatus
		rec.approval.CompletedAt = mut.CompletedAt
	}
	return nil
}

func (m *MemStore) List(_ context.Context, f Filter, p Page) ([]*Approval, int, error) {
	m.mu.RLock()
	var arr []*Approval
	for _, rec := range m.data {
		rec.mu.Lock()
		a := cloneApproval(&rec.approval)
		rec.mu.Unlock()
		if f.GroupID != "" && a.GroupID != f.GroupID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.RequestedBy != "" && a.RequestedBy != f.RequestedBy {
			continue
		}
		arr = append(arr, &a)
	}
	m.mu.RUnlock()

	desc := !strings.EqualFold(p.Sort, "created_at_asc")
	sort.Slice(arr, func(i, j int) bool {
		if desc {
			return arr[i].CreatedAt.After(arr[j].CreatedAt)
		}
		return arr[i].CreatedAt.Before(arr[j].CreatedAt)
	})
	total := len(arr)
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	start := (p.Page - 1) * p.Size
	if start >= total {
		return []*Approval{}, total, nil
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return arr[start:end], total, nil
}

func (m *MemStore) rec(id string) *memRec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[id]
}

func cloneApproval(a *Approval) Approval {
	cp := *a
	cp.EligibleVoterIDs = append([]string(nil), a.EligibleVoterIDs...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

func cloneVotes(votes []Vote) []*Vote {
	out := make([]*Vote, 0, len(votes))
	for i := range votes {
		v := votes[i]
		out = append(out, &v)
	}
	return out
}
