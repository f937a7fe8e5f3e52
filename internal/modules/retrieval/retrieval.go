package retrieval

import (
	"context"
	"strings"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/search"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// Similarity floors per caller. User-facing search is the strictest of the
// background consumers; the extractor casts the widest net.
const (
	MinSimUser         = 0.40
	MinSimDeepResearch = 0.35
	MinSimCleanup      = 0.50
	MinSimExtractor    = 0.30
)

// DefaultSearchLimit applies when a caller passes limit <= 0.
const DefaultSearchLimit = 10

type SimilarDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	Log      *logger.Logger
}

// SimilarInput drives both node and edge similarity lookups. Either Query or
// Embedding must be set; a non-empty Embedding skips the embed call.
type SimilarInput struct {
	UserID    string
	Query     string
	Embedding []float32

	Limit        int
	MinSim       float64
	ExcludeTypes []types.NodeType
}

func (in *SimilarInput) normalize() {
	if in.Limit <= 0 {
		in.Limit = DefaultSearchLimit
	}
	if in.MinSim <= 0 {
		in.MinSim = MinSimUser
	}
}

func queryEmbedding(ctx context.Context, embedder jina.Client, in SimilarInput) ([]float32, error) {
	if len(in.Embedding) > 0 {
		return in.Embedding, nil
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errs.Validationf("empty search query")
	}
	vecs, err := embedder.Embed(ctx, jina.TaskQuery, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errs.Logicf("expected 1 query embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// FindSimilarNodes embeds the query (unless the caller already has a vector)
// and runs ANN search over node embeddings.
func FindSimilarNodes(ctx context.Context, deps SimilarDeps, in SimilarInput) ([]search.SimilarNode, error) {
	in.normalize()
	vec, err := queryEmbedding(ctx, deps.Embedder, in)
	if err != nil {
		return nil, err
	}
	return deps.Repos.Search.SimilarNodes(dbctx.New(ctx), in.UserID, vec, in.Limit, in.MinSim, in.ExcludeTypes)
}

// FindSimilarEdges is the edge-embedding counterpart of FindSimilarNodes.
func FindSimilarEdges(ctx context.Context, deps SimilarDeps, in SimilarInput) ([]search.SimilarEdge, error) {
	in.normalize()
	vec, err := queryEmbedding(ctx, deps.Embedder, in)
	if err != nil {
		return nil, err
	}
	return deps.Repos.Search.SimilarEdges(dbctx.New(ctx), in.UserID, vec, in.Limit, in.MinSim)
}

// FindOneHopNodes expands a seed set to its direct graph neighbors.
func FindOneHopNodes(ctx context.Context, deps SimilarDeps, userID string, seedIDs []string) ([]search.OneHopNode, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	return deps.Repos.Search.OneHopNodes(dbctx.New(ctx), userID, seedIDs)
}

// FindDayNode resolves a day node by its YYYY-MM-DD label. Returns nil when
// the user has no activity recorded for that day.
func FindDayNode(ctx context.Context, deps SimilarDeps, userID, dayLabel string) (*repos.NodeWithMetadata, error) {
	return deps.Repos.Nodes.FindDayNode(dbctx.New(ctx), userID, dayLabel)
}
