package sources

import (
	"context"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
)

func TestUpsertSourceIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	first, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeDocument,
		ExternalID: "doc-1",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeDocument,
		ExternalID: "doc-1",
		Status:     types.SourceStatusProcessing,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert duplicated the source: %s vs %s", first.ID, second.ID)
	}
	if second.Status != types.SourceStatusProcessing {
		t.Fatalf("status not refreshed: %s", second.Status)
	}

	var count int64
	if err := db.Model(&types.Source{}).
		Where("user_id = ? AND type = ? AND external_id = ?", userID, types.SourceTypeDocument, "doc-1").
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 source row, got %d", count)
	}
}

func TestConversationMessageRequiresParent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	_, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeConversationMessage,
		ExternalID: "msg-orphan",
	})
	if err == nil {
		t.Fatal("expected validation error for orphan conversation_message")
	}
}

func TestInsertSourcesReportsOnlyWrittenRows(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	conv, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeConversation,
		ExternalID: "conv-1",
	})
	if err != nil {
		t.Fatalf("conversation upsert: %v", err)
	}

	batch := []UpsertSourceInput{
		{UserID: userID, Type: types.SourceTypeConversationMessage, ExternalID: "msg-1", ParentSourceID: &conv.ID},
		{UserID: userID, Type: types.SourceTypeConversationMessage, ExternalID: "msg-2", ParentSourceID: &conv.ID},
	}
	written, err := repo.InsertSources(dbc, batch)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 written, got %d", len(written))
	}

	batch = append(batch, UpsertSourceInput{
		UserID: userID, Type: types.SourceTypeConversationMessage, ExternalID: "msg-3", ParentSourceID: &conv.ID,
	})
	written, err = repo.InsertSources(dbc, batch)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(written) != 1 || written[0].ExternalID != "msg-3" {
		t.Fatalf("expected only msg-3 written, got %#v", written)
	}

	children, err := repo.ListChildMessages(dbc, userID, conv.ID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	src, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeConversation,
		ExternalID: "conv-cas",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	swapped, err := repo.UpdateStatusCAS(dbc, src.ID, types.SourceStatusPending, types.SourceStatusProcessing)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !swapped {
		t.Fatal("expected pending->processing to succeed")
	}

	// A stale caller holding the old expectation loses.
	swapped, err = repo.UpdateStatusCAS(dbc, src.ID, types.SourceStatusPending, types.SourceStatusFailed)
	if err != nil {
		t.Fatalf("stale cas: %v", err)
	}
	if swapped {
		t.Fatal("stale CAS must not win")
	}

	reloaded, err := repo.GetByID(dbc, userID, src.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.SourceStatusProcessing {
		t.Fatalf("status clobbered: %s", reloaded.Status)
	}
}

func TestDeleteByExternalIDCascadesChildrenAndLinks(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceRepo(db, testutil.Logger(t))
	links := NewSourceLinkRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	conv, err := repo.UpsertSource(dbc, UpsertSourceInput{
		UserID:     userID,
		Type:       types.SourceTypeConversation,
		ExternalID: "conv-del",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	children, err := repo.InsertSources(dbc, []UpsertSourceInput{
		{UserID: userID, Type: types.SourceTypeConversationMessage, ExternalID: "conv-del-m1", ParentSourceID: &conv.ID},
	})
	if err != nil || len(children) != 1 {
		t.Fatalf("children: %v (%d)", err, len(children))
	}

	nodeID := testutil.SeedNode(t, db, userID, types.NodeTypeConversation, "chat", "")
	if err := links.InsertLinks(dbc, []SourceLinkInput{
		{SourceID: conv.ID, NodeID: nodeID},
		{SourceID: children[0].ID, NodeID: nodeID, SpecificLocation: "conv-del-m1"},
	}); err != nil {
		t.Fatalf("links: %v", err)
	}

	deleted, err := repo.DeleteByExternalID(dbc, userID, types.SourceTypeConversation, "conv-del")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted == nil || deleted.ID != conv.ID {
		t.Fatalf("unexpected deleted row: %#v", deleted)
	}

	var srcCount, linkCount int64
	if err := db.Model(&types.Source{}).
		Where("user_id = ? AND (id = ? OR parent_source_id = ?)", userID, conv.ID, conv.ID).
		Count(&srcCount).Error; err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if err := db.Model(&types.SourceLink{}).
		Where("source_id IN ?", []string{conv.ID, children[0].ID}).
		Count(&linkCount).Error; err != nil {
		t.Fatalf("count links: %v", err)
	}
	if srcCount != 0 || linkCount != 0 {
		t.Fatalf("cascade incomplete: sources=%d links=%d", srcCount, linkCount)
	}
}

func TestRewireSourceLinksCollapsesDuplicates(t *testing.T) {
	db := testutil.DB(t)
	repo := NewSourceLinkRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	srcID := testutil.SeedSource(t, db, userID, types.SourceTypeDocument, "doc-rewire", nil)
	keep := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "John Doe", "")
	remove := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "John", "")

	if err := repo.InsertLinks(dbc, []SourceLinkInput{
		{SourceID: srcID, NodeID: keep},
		{SourceID: srcID, NodeID: remove},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.RewireSourceLinks(dbc, remove, keep); err != nil {
		t.Fatalf("rewire: %v", err)
	}

	var forRemoved, forKept int64
	if err := db.Model(&types.SourceLink{}).Where("node_id = ?", remove).Count(&forRemoved).Error; err != nil {
		t.Fatalf("count removed: %v", err)
	}
	if err := db.Model(&types.SourceLink{}).Where("node_id = ?", keep).Count(&forKept).Error; err != nil {
		t.Fatalf("count kept: %v", err)
	}
	if forRemoved != 0 {
		t.Fatalf("links still reference removed node: %d", forRemoved)
	}
	if forKept != 1 {
		t.Fatalf("expected duplicate link to collapse to 1, got %d", forKept)
	}
}
