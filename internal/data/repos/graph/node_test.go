package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
)

func TestInsertNodeWithMetadata(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	got, err := repo.InsertNodeWithMetadata(dbc, InsertNodeInput{
		UserID:      userID,
		NodeType:    types.NodeTypePerson,
		Label:       "Alice",
		Description: "met in Paris",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got.Node == nil || got.Metadata == nil {
		t.Fatalf("expected node and metadata, got %#v", got)
	}
	if got.Metadata.NodeID != got.Node.ID {
		t.Fatalf("metadata not linked: %s != %s", got.Metadata.NodeID, got.Node.ID)
	}

	var metaCount int64
	if err := db.Model(&types.NodeMetadata{}).Where("node_id = ?", got.Node.ID).Count(&metaCount).Error; err != nil {
		t.Fatalf("count metadata: %v", err)
	}
	if metaCount != 1 {
		t.Fatalf("expected exactly 1 metadata row, got %d", metaCount)
	}
}

func TestInsertNodeRejectsInvalidType(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	if _, err := repo.InsertNodeWithMetadata(dbc, InsertNodeInput{
		UserID:   userID,
		NodeType: types.NodeType("Robot"),
	}); err == nil {
		t.Fatal("expected error for invalid node type")
	}
}

func TestEnsureDayNodeIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	morning := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC)

	first, err := repo.EnsureDayNode(dbc, userID, morning)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := repo.EnsureDayNode(dbc, userID, evening)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.Node.ID != second.Node.ID {
		t.Fatalf("day node duplicated: %s vs %s", first.Node.ID, second.Node.ID)
	}
	if first.Metadata.Label != "2024-01-15" {
		t.Fatalf("unexpected day label %q", first.Metadata.Label)
	}

	var count int64
	if err := db.Model(&types.Node{}).
		Where("user_id = ? AND node_type = ?", userID, types.NodeTypeTemporal).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 temporal node, got %d", count)
	}
}

func TestEnsureDayNodeConcurrent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)

	date := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	const callers = 5

	ids := make([]string, callers)
	errCh := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := repo.EnsureDayNode(dbctx.New(context.Background()), userID, date)
			if err != nil {
				errCh <- err
				return
			}
			ids[i] = got.Node.ID
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent ensure: %v", err)
	}

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}

	var count int64
	if err := db.Model(&types.Node{}).
		Where("user_id = ? AND node_type = ?", userID, types.NodeTypeTemporal).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 day node, got %d", count)
	}
}

func TestEnsureAtlasNodeSingleton(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	first, err := repo.EnsureAtlasNode(dbc, userID, "Atlas")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := repo.EnsureAtlasNode(dbc, userID, "Atlas")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.Node.ID != second.Node.ID {
		t.Fatalf("atlas duplicated: %s vs %s", first.Node.ID, second.Node.ID)
	}

	// A differently labeled atlas (assistant) is a separate singleton.
	assistant, err := repo.EnsureAtlasNode(dbc, userID, "assistant-7")
	if err != nil {
		t.Fatalf("assistant ensure: %v", err)
	}
	if assistant.Node.ID == first.Node.ID {
		t.Fatal("assistant atlas must be a distinct node")
	}
}

func TestDeleteNodeCascade(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	victim := testutil.SeedNode(t, db, userID, types.NodeTypePerson, "John", "")
	other := testutil.SeedNode(t, db, userID, types.NodeTypeLocation, "Paris", "")
	edgeID := testutil.SeedEdge(t, db, userID, victim, other, types.EdgeTypeOccurredAt, "")
	srcID := testutil.SeedSource(t, db, userID, types.SourceTypeDocument, "doc-cascade", nil)
	if err := db.Create(&types.SourceLink{
		ID:       "sln_00000000000000000000000001",
		SourceID: srcID,
		NodeID:   victim,
	}).Error; err != nil {
		t.Fatalf("seed link: %v", err)
	}

	if err := repo.DeleteNodeCascade(dbc, userID, victim); err != nil {
		t.Fatalf("cascade: %v", err)
	}

	assertGone := func(name string, model interface{}, query string, arg string) {
		t.Helper()
		var c int64
		if err := db.Model(model).Where(query, arg).Count(&c).Error; err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if c != 0 {
			t.Fatalf("%s not cascaded: %d rows remain", name, c)
		}
	}
	assertGone("node", &types.Node{}, "id = ?", victim)
	assertGone("metadata", &types.NodeMetadata{}, "node_id = ?", victim)
	assertGone("edge", &types.Edge{}, "id = ?", edgeID)
	assertGone("source link", &types.SourceLink{}, "node_id = ?", victim)

	// The other endpoint survives.
	var c int64
	if err := db.Model(&types.Node{}).Where("id = ?", other).Count(&c).Error; err != nil {
		t.Fatalf("count other: %v", err)
	}
	if c != 1 {
		t.Fatal("unrelated node deleted by cascade")
	}
}

func TestTruncateLongLabels(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNodeRepo(db, testutil.Logger(t))
	userID := testutil.SeedUser(t, db)
	dbc := dbctx.New(context.Background())

	long := make([]rune, types.MaxLabelLength+40)
	for i := range long {
		long[i] = 'x'
	}
	nodeID := testutil.SeedNode(t, db, userID, types.NodeTypeConcept, string(long), "")
	testutil.SeedNode(t, db, userID, types.NodeTypeConcept, "short", "")

	changed, err := repo.TruncateLongLabels(dbc, userID)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 row changed, got %d", changed)
	}

	var meta types.NodeMetadata
	if err := db.Where("node_id = ?", nodeID).First(&meta).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len([]rune(meta.Label)); got != types.MaxLabelLength {
		t.Fatalf("label length %d, want %d", got, types.MaxLabelLength)
	}
}
