package atlas

import (
	"context"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
)

func TestAtlasNodeLabels(t *testing.T) {
	db := testutil.DB(t)
	deps := Deps{
		Repos: repos.NewAll(db, testutil.Logger(t)),
		Log:   testutil.Logger(t),
	}
	ctx := context.Background()
	userID := testutil.SeedUser(t, db)

	if _, err := GetAtlas(ctx, deps, userID); err != nil {
		t.Fatalf("get atlas: %v", err)
	}
	if _, err := GetAssistantAtlas(ctx, deps, userID, "asst_7"); err != nil {
		t.Fatalf("get assistant atlas: %v", err)
	}

	nodes, err := deps.Repos.Nodes.ListByType(dbctx.New(ctx),
		userID, []types.NodeType{types.NodeTypeAtlas}, nil, 10)
	if err != nil {
		t.Fatalf("list atlas nodes: %v", err)
	}
	labels := map[string]bool{}
	for _, n := range nodes {
		labels[n.Metadata.Label] = true
	}
	if len(nodes) != 2 || !labels["Atlas"] || !labels["asst_7"] {
		t.Fatalf("unexpected atlas labels: %v", labels)
	}
}

func TestAtlasUpdateRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	deps := Deps{
		Repos: repos.NewAll(db, testutil.Logger(t)),
		Log:   testutil.Logger(t),
	}
	ctx := context.Background()
	userID := testutil.SeedUser(t, db)

	if err := UpdateAtlas(ctx, deps, userID, "knows Go, lives in Lyon"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := GetAtlas(ctx, deps, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "knows Go, lives in Lyon" {
		t.Fatalf("atlas text %q", got)
	}
}
