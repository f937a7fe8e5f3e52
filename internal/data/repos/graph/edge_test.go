package graph

import (
	"context"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
)

func TestInsertEdgesDuplicateIsNoOp(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEdgeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	a := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "Alice", "")
	b := testutil.SeedNode(t, db, userID, types.NodeTypeLocation, "Paris", "")

	in := []InsertEdgeInput{{
		UserID:       userID,
		SourceNodeID: a,
		TargetNodeID: b,
		EdgeType:     types.EdgeTypeOccurredAt,
		Description:  "first visit",
	}}

	first, err := repo.InsertEdges(dbc, in)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 written row, got %d", len(first))
	}

	second, err := repo.InsertEdges(dbc, in)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("duplicate triple must write nothing, wrote %d", len(second))
	}

	var count int64
	if err := db.Model(&types.Edge{}).
		Where("user_id = ? AND source_node_id = ? AND target_node_id = ?", userID, a, b).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("row count changed on duplicate insert: %d", count)
	}
}

func TestInsertEdgesSkipsSelfEdges(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEdgeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	a := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "Alice", "")
	b := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "Bob", "")

	written, err := repo.InsertEdges(dbc, []InsertEdgeInput{
		{UserID: userID, SourceNodeID: a, TargetNodeID: a, EdgeType: types.EdgeTypeRelatedTo},
		{UserID: userID, SourceNodeID: a, TargetNodeID: b, EdgeType: types.EdgeTypeRelatedTo},
		{UserID: userID, SourceNodeID: a, TargetNodeID: b, EdgeType: types.EdgeType("KNOWS")},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("expected only the valid edge, got %d", len(written))
	}
	if written[0].SourceNodeID != a || written[0].TargetNodeID != b {
		t.Fatalf("unexpected edge written: %#v", written[0])
	}
}

func TestInsertEdgesSkipsCrossUserEndpoints(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEdgeRepo(db, testutil.Logger(t))
	userA := testutil.SeedUser(t, db)
	userB := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	alice := testutil.SeedNode(t, db, userA, types.NodeTypePerson, "Alice", "")
	bob := testutil.SeedNode(t, db, userA, types.NodeTypePerson, "Bob", "")
	intruder := testutil.SeedNode(t, db, userB, types.NodeTypePerson, "Mallory", "")

	written, err := repo.InsertEdges(dbc, []InsertEdgeInput{
		{UserID: userA, SourceNodeID: alice, TargetNodeID: intruder, EdgeType: types.EdgeTypeRelatedTo},
		{UserID: userA, SourceNodeID: intruder, TargetNodeID: alice, EdgeType: types.EdgeTypeRelatedTo},
		{UserID: userA, SourceNodeID: alice, TargetNodeID: bob, EdgeType: types.EdgeTypeRelatedTo},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("expected only the same-user edge, got %d", len(written))
	}
	if written[0].SourceNodeID != alice || written[0].TargetNodeID != bob {
		t.Fatalf("unexpected edge written: %#v", written[0])
	}

	var crossed int64
	if err := db.Model(&types.Edge{}).
		Where("source_node_id = ? OR target_node_id = ?", intruder, intruder).
		Count(&crossed).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if crossed != 0 {
		t.Fatalf("%d edges reference another user's node", crossed)
	}
}

func TestRewireEdgesPreservesUniqueness(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEdgeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	keep := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "John Doe", "")
	remove := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "John", "")
	event := testutil.SeedNode(t, db, userID, types.NodeTypeEvent, "Dinner", "")

	// Both John variants already participate in the event: after rewiring
	// the duplicate collapses into one edge.
	testutil.SeedEdge(t, db, userID, remove, event, types.EdgeTypeParticipatedIn, "")
	testutil.SeedEdge(t, db, userID, keep, event, types.EdgeTypeParticipatedIn, "")
	// An edge only the removed node had must move over.
	emotion := testutil.SeedNode(t, db, userID, types.NodeTypeEmotion, "Joy", "")
	testutil.SeedEdge(t, db, userID, remove, emotion, types.EdgeTypeExhibitedEmotion, "")
	// An edge between the two merge partners dissolves.
	testutil.SeedEdge(t, db, userID, remove, keep, types.EdgeTypeRelatedTo, "")

	if err := repo.RewireEdges(dbc, userID, remove, keep); err != nil {
		t.Fatalf("rewire: %v", err)
	}

	var leftover int64
	if err := db.Model(&types.Edge{}).
		Where("user_id = ? AND (source_node_id = ? OR target_node_id = ?)", userID, remove, remove).
		Count(&leftover).Error; err != nil {
		t.Fatalf("count leftover: %v", err)
	}
	if leftover != 0 {
		t.Fatalf("%d edges still reference the removed node", leftover)
	}

	var participated int64
	if err := db.Model(&types.Edge{}).
		Where("user_id = ? AND source_node_id = ? AND target_node_id = ? AND edge_type = ?",
			userID, keep, event, types.EdgeTypeParticipatedIn).
		Count(&participated).Error; err != nil {
		t.Fatalf("count participation: %v", err)
	}
	if participated != 1 {
		t.Fatalf("expected duplicate participation to collapse to 1, got %d", participated)
	}

	var moved int64
	if err := db.Model(&types.Edge{}).
		Where("user_id = ? AND source_node_id = ? AND target_node_id = ?", userID, keep, emotion).
		Count(&moved).Error; err != nil {
		t.Fatalf("count moved: %v", err)
	}
	if moved != 1 {
		t.Fatalf("emotion edge not rewired, got %d", moved)
	}

	var self int64
	if err := db.Model(&types.Edge{}).
		Where("user_id = ? AND source_node_id = ? AND target_node_id = ?", userID, keep, keep).
		Count(&self).Error; err != nil {
		t.Fatalf("count self: %v", err)
	}
	if self != 0 {
		t.Fatalf("merge produced a self-edge")
	}
}
