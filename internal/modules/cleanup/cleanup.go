package cleanup

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/modules/atlas"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
)

const (
	DefaultEntryNodeLimit        = 5
	DefaultSemanticNeighborLimit = 15
	DefaultHopDepth              = 2
	DefaultMaxSubgraphNodes      = 100
	DefaultMaxSubgraphEdges      = 150

	defaultIterations = 3

	// Subgraphs below this size are not worth an LLM round.
	minSubgraphNodes = 5

	embedBackfillBatch = 100
)

type Options struct {
	Since                 time.Time
	EntryNodeLimit        int
	SemanticNeighborLimit int
	HopDepth              int
	MaxSubgraphNodes      int
	MaxSubgraphEdges      int
	ModelID               string
	Iterations            int

	// SeedIDs overrides entry-node selection for the first iteration.
	SeedIDs []string
}

func (o *Options) normalize() {
	if o.EntryNodeLimit <= 0 {
		o.EntryNodeLimit = DefaultEntryNodeLimit
	}
	if o.SemanticNeighborLimit <= 0 {
		o.SemanticNeighborLimit = DefaultSemanticNeighborLimit
	}
	if o.HopDepth <= 0 {
		o.HopDepth = DefaultHopDepth
	}
	if o.MaxSubgraphNodes <= 0 {
		o.MaxSubgraphNodes = DefaultMaxSubgraphNodes
	}
	if o.MaxSubgraphEdges <= 0 {
		o.MaxSubgraphEdges = DefaultMaxSubgraphEdges
	}
	if o.Iterations <= 0 {
		o.Iterations = defaultIterations
	}
	if o.Since.IsZero() {
		o.Since = time.Now().UTC().AddDate(0, 0, -30)
	}
}

// IterativeCleanup runs successive propose/apply rounds, chasing follow-up
// seeds harvested from each round's merges and additions. Seeds are never
// revisited within one run.
func IterativeCleanup(ctx context.Context, deps Deps, db *gorm.DB, userID string, opts Options) error {
	opts.normalize()
	log := deps.Log.With("user_id", userID)

	seeds := opts.SeedIDs
	if len(seeds) == 0 {
		entries, err := FetchEntryNodes(ctx, deps, userID, opts.Since, opts.EntryNodeLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			seeds = append(seeds, e.NodeID)
		}
	}

	atlasText, err := atlas.GetAtlas(ctx, atlas.Deps{Repos: deps.Repos, AI: deps.AI, Embedder: deps.Embedder, Log: deps.Log}, userID)
	if err != nil {
		return err
	}

	processed := map[string]bool{}
	for iteration := 0; iteration < opts.Iterations; iteration++ {
		var batch []string
		for _, s := range seeds {
			if !processed[s] {
				batch = append(batch, s)
			}
			if len(batch) == opts.EntryNodeLimit {
				break
			}
		}
		if len(batch) == 0 {
			break
		}
		for _, s := range batch {
			processed[s] = true
		}

		sg, err := BuildSubgraph(ctx, deps, userID, batch,
			opts.SemanticNeighborLimit, opts.HopDepth, opts.MaxSubgraphNodes, opts.MaxSubgraphEdges)
		if err != nil {
			return err
		}
		if len(sg.Nodes) < minSubgraphNodes {
			log.Debug("subgraph too small, seeds marked processed", "iteration", iteration, "nodes", len(sg.Nodes))
			continue
		}

		ts, err := ToTempSubgraph(sg)
		if err != nil {
			return err
		}
		proposal, err := ProposeCleanup(ctx, deps.AI, ts, atlasText, opts.ModelID)
		if err != nil {
			return err
		}
		result, err := Apply(ctx, deps, db, userID, ts, proposal)
		if err != nil {
			return err
		}
		log.Info("cleanup iteration applied",
			"iteration", iteration,
			"merges", len(result.MergeKeepIDs),
			"deletes", len(result.DeletedIDs),
			"additions", len(result.InsertedEdges),
			"created", len(result.CreatedNodes))

		seeds = followupSeeds(result, processed)
	}
	return nil
}

// followupSeeds picks the next iteration's seeds out of what just changed:
// merge survivors, created nodes, and endpoints of added edges.
func followupSeeds(result *ApplyResult, processed map[string]bool) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] || processed[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range result.MergeKeepIDs {
		add(id)
	}
	for _, n := range result.CreatedNodes {
		add(n.Node.ID)
	}
	for _, e := range result.InsertedEdges {
		add(e.SourceNodeID)
		add(e.TargetNodeID)
	}
	return out
}

// TruncateLongLabels clips oversized node labels for the user.
func TruncateLongLabels(ctx context.Context, deps Deps, userID string) (int64, error) {
	return deps.Repos.Nodes.TruncateLongLabels(dbctx.New(ctx), userID)
}

// GenerateMissingNodeEmbeddings back-fills vectors for labeled nodes that
// have none, in batches until the well runs dry.
func GenerateMissingNodeEmbeddings(ctx context.Context, deps Deps, userID string) (int, error) {
	dbc := dbctx.New(ctx)
	total := 0
	for {
		missing, err := deps.Repos.Embeddings.ListNodesMissingEmbedding(dbc, userID, embedBackfillBatch)
		if err != nil {
			return total, err
		}
		if len(missing) == 0 {
			return total, nil
		}
		docs := make([]string, 0, len(missing))
		ids := make([]string, 0, len(missing))
		for _, n := range missing {
			docs = append(docs, n.Metadata.Label+": "+n.Metadata.Description)
			ids = append(ids, n.Node.ID)
		}
		vecs, err := deps.Embedder.Embed(ctx, jina.TaskPassage, docs)
		if err != nil {
			return total, err
		}
		batch := make([]repos.NodeEmbeddingInput, 0, len(vecs))
		for i, v := range vecs {
			batch = append(batch, repos.NodeEmbeddingInput{NodeID: ids[i], Vector: v, ModelName: deps.Embedder.EmbedModel()})
		}
		if err := deps.Repos.Embeddings.InsertNodeEmbeddings(dbc, batch); err != nil {
			return total, err
		}
		total += len(batch)
		if len(missing) < embedBackfillBatch {
			return total, nil
		}
	}
}
