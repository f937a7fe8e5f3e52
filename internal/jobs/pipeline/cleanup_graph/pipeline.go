package cleanup_graph

import (
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/cleanup"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

// Run executes one iterative cleanup pass and then back-fills embeddings
// for any labeled nodes still missing vectors.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.CleanupGraph
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" {
		return errs.Validationf("userId is required")
	}

	deps := cleanup.Deps{
		Repos:    p.repos,
		AI:       p.ai,
		Embedder: p.embedder,
		Log:      p.log,
	}
	err := cleanup.IterativeCleanup(jc.Ctx, deps, p.db, in.UserID, cleanup.Options{
		Since:                 in.Since,
		EntryNodeLimit:        in.EntryNodeLimit,
		SemanticNeighborLimit: in.SemanticNeighborLimit,
		HopDepth:              in.GraphHopDepth,
		MaxSubgraphNodes:      in.MaxSubgraphNodes,
		MaxSubgraphEdges:      in.MaxSubgraphEdges,
		ModelID:               in.LLMModelID,
		SeedIDs:               in.SeedIDs,
	})
	if err != nil {
		return err
	}

	filled, err := cleanup.GenerateMissingNodeEmbeddings(jc.Ctx, deps, in.UserID)
	if err != nil {
		p.log.Warn("embedding backfill failed", "user_id", in.UserID, "error", err)
		return nil
	}
	if filled > 0 {
		p.log.Info("embedding backfill complete", "user_id", in.UserID, "count", filled)
	}
	return nil
}
