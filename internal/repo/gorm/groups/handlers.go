package groups

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/groupguard/quorum/internal/quorum"
)

// RegisterHandlers binds the built-in group-administration actions to the
// dispatcher. Handlers stay thin: payload shape was already validated at
// creation, so parse errors here are treated like any other handler failure
// (logged, swallowed, approval stands).
func RegisterHandlers(d *quorum.Dispatcher, r *Repo) {
	d.Register(quorum.TypeAddMember, func(ctx context.Context, a *quorum.Approval) error {
		var p struct {
			MemberID string `json:"member_id"`
		}
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("add_member payload: %w", err)
		}
		return r.AddMember(ctx, a.GroupID, p.MemberID, RoleMember)
	})
	d.Register(quorum.TypePromoteToAdmin, func(ctx context.Context, a *quorum.Approval) error {
		var p struct {
			MemberID string `json:"member_id"`
		}
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("promote_to_admin payload: %w", err)
		}
		return r.SetRole(ctx, a.GroupID, p.MemberID, RoleAdmin)
	})
	d.Register(quorum.TypeDemoteFromAdmin, func(ctx context.Context, a *quorum.Approval) error {
		var p struct {
			MemberID string `json:"member_id"`
		}
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("demote_from_admin payload: %w", err)
		}
		return r.SetRole(ctx, a.GroupID, p.MemberID, RoleMember)
	})
	d.Register(quorum.TypeRemoveMember, func(ctx context.Context, a *quorum.Approval) error {
		var p struct {
			MemberID string `json:"member_id"`
		}
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("remove_member payload: %w", err)
		}
		return r.RemoveMember(ctx, a.GroupID, p.MemberID)
	})
	d.Register(quorum.TypeDeleteGroup, func(ctx context.Context, a *quorum.Approval) error {
		return r.DeleteGroup(ctx, a.GroupID)
	})
	d.Register(quorum.TypeDeleteFile, func(ctx context.Context, a *quorum.Approval) error {
		id := relatedOr(a, "file_id")
		if id == "" {
			return fmt.Errorf("delete_file: no file id on approval %s", a.ID)
		}
		return r.DeleteFile(ctx, id)
	})
	d.Register(quorum.TypeDeleteLogExport, func(ctx context.Context, a *quorum.Approval) error {
		id := relatedOr(a, "export_id")
		if id == "" {
			return fmt.Errorf("delete_log_export: no export id on approval %s", a.ID)
		}
		return r.DeleteLogExport(ctx, id)
	})
}

// relatedOr prefers the approval's related-entity pointer, falling back to the
// named payload field.
func relatedOr(a *quorum.Approval, field string) string {
	if a.RelatedEntityID != "" {
		return a.RelatedEntityID
	}
	var m map[string]any
	if err := json.Unmarshal(a.Payload, &m); err != nil {
		return ""
	}
	if s, ok := m[field].(string); ok {
		return s
	}
	return ""
}
