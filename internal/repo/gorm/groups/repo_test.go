package groups

import (
	"context"
	"encoding/json"
	"testing"

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

func seedGroup(t *testing.T, r *Repo, groupID string, admins, members []string) {
	t.Helper()
	if err := r.CreateGroup(context.Background(), &Group{ID: groupID, Name: groupID}); err != nil {
		t.Fatal(err)
	}
	for _, id := range admins {
		if err := r.AddMember(context.Background(), groupID, id, RoleAdmin); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range members {
		if err := r.AddMember(context.Background(), groupID, id, RoleMember); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEligibleAdmins(t *testing.T) {
	r := testRepo(t)
	seedGroup(t, r, "g1", []string{"zed", "amy"}, []string{"bob"})

	admins, err := r.EligibleAdmins(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(admins) != 2 || admins[0] != "amy" || admins[1] != "zed" {
		t.Fatalf("want sorted admins only, got %v", admins)
	}

	admins, err = r.EligibleAdmins(context.Background(), "empty")
	if err != nil || len(admins) != 0 {
		t.Fatalf("unknown group should yield empty roster: %v %v", admins, err)
	}
}

func TestMembershipLifecycle(t *testing.T) {
	r := testRepo(t)
	seedGroup(t, r, "g1", []string{"amy"}, []string{"bob"})

	// upsert keeps the existing role
	if err := r.AddMember(context.Background(), "g1", "amy", RoleMember); err != nil {
		t.Fatal(err)
	}
	admins, _ := r.EligibleAdmins(context.Background(), "g1")
	if len(admins) != 1 || admins[0] != "amy" {
		t.Fatalf("re-add must not demote, got %v", admins)
	}

	if err := r.SetRole(context.Background(), "g1", "bob", RoleAdmin); err != nil {
		t.Fatal(err)
	}
	admins, _ = r.EligibleAdmins(context.Background(), "g1")
	if len(admins) != 2 {
		t.Fatalf("promotion lost: %v", admins)
	}

	if err := r.SetRole(context.Background(), "g1", "ghost", RoleAdmin); err == nil {
		t.Fatal("role change for non-member should fail")
	}
	if err := r.AddMember(context.Background(), "g1", "x", "superuser"); err == nil {
		t.Fatal("unknown role should be rejected")
	}

	if err := r.RemoveMember(context.Background(), "g1", "bob"); err != nil {
		t.Fatal(err)
	}
	members, _ := r.Members(context.Background(), "g1")
	if len(members) != 1 {
		t.Fatalf("removal lost: %+v", members)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	r := testRepo(t)
	seedGroup(t, r, "g1", []string{"amy"}, []string{"bob"})

	if err := r.DeleteGroup(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Group(context.Background(), "g1"); err == nil {
		t.Fatal("deleted group should not resolve")
	}
	members, _ := r.Members(context.Background(), "g1")
	if len(members) != 0 {
		t.Fatalf("memberships should be dropped with the group: %+v", members)
	}
}

func TestFilesAndExports(t *testing.T) {
	r := testRepo(t)
	seedGroup(t, r, "g1", []string{"amy"}, nil)

	if err := r.CreateFile(context.Background(), &StoredFile{ID: "f1", GroupID: "g1", Name: "notes.txt", Size: 42}); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateLogExport(context.Background(), &LogExport{ID: "x1", GroupID: "g1", Path: "/exports/x1.json"}); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteFile(context.Background(), "f1"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteFile(context.Background(), "f1"); err == nil {
		t.Fatal("double delete should fail")
	}
	files, _ := r.Files(context.Background(), "g1")
	if len(files) != 0 {
		t.Fatalf("deleted file still listed: %+v", files)
	}

	if err := r.DeleteLogExport(context.Background(), "x1"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteLogExport(context.Background(), "x1"); err == nil {
		t.Fatal("double delete should fail")
	}
}

func TestHandlers(t *testing.T) {
	r := testRepo(t)
	seedGroup(t, r, "g1", []string{"amy"}, []string{"bob"})
	if err := r.CreateFile(context.Background(), &StoredFile{ID: "f1", GroupID: "g1", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateLogExport(context.Background(), &LogExport{ID: "x1", GroupID: "g1"}); err != nil {
		t.Fatal(err)
	}
	d := quorum.NewDispatcher()
	RegisterHandlers(d, r)

	approved := func(id string, typ quorum.ApprovalType, payload string, related string) *quorum.Approval {
		return &quorum.Approval{
			ID: id, GroupID: "g1", Type: typ,
			Payload:         json.RawMessage(payload),
			RelatedEntityID: related,
			Status:          quorum.StatusApproved,
		}
	}

	if out := d.Dispatch(context.Background(), approved("a1", quorum.TypeAddMember, `{"member_id":"carl"}`, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	if out := d.Dispatch(context.Background(), approved("a2", quorum.TypePromoteToAdmin, `{"member_id":"bob"}`, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	admins, _ := r.EligibleAdmins(context.Background(), "g1")
	if len(admins) != 2 {
		t.Fatalf("promote handler: %v", admins)
	}
	if out := d.Dispatch(context.Background(), approved("a3", quorum.TypeDemoteFromAdmin, `{"member_id":"bob"}`, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	if out := d.Dispatch(context.Background(), approved("a4", quorum.TypeRemoveMember, `{"member_id":"carl"}`, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	members, _ := r.Members(context.Background(), "g1")
	if len(members) != 2 {
		t.Fatalf("remove handler: %+v", members)
	}

	// related entity id wins over the payload field
	if out := d.Dispatch(context.Background(), approved("a5", quorum.TypeDeleteFile, `{"file_id":"wrong"}`, "f1")); out.Err != nil {
		t.Fatal(out.Err)
	}
	if out := d.Dispatch(context.Background(), approved("a6", quorum.TypeDeleteLogExport, `{"export_id":"x1"}`, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	if out := d.Dispatch(context.Background(), approved("a7", quorum.TypeDeleteGroup, ``, "")); out.Err != nil {
		t.Fatal(out.Err)
	}
	if _, err := r.Group(context.Background(), "g1"); err == nil {
		t.Fatal("delete_group handler should remove the group")
	}
}
