package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/search"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// ResultKind tags one entry of a hybrid search result.
type ResultKind string

const (
	KindNode       ResultKind = "node"
	KindEdge       ResultKind = "edge"
	KindConnection ResultKind = "connection"
)

// Item is one ranked hit. Exactly one of Node, Edge, Connection is set,
// matching Kind. Score is the reranker score (or raw similarity when the
// reranker is unavailable).
type Item struct {
	Kind       ResultKind          `json:"kind"`
	Node       *search.SimilarNode `json:"node,omitempty"`
	Edge       *search.SimilarEdge `json:"edge,omitempty"`
	Connection *search.OneHopNode  `json:"connection,omitempty"`
	Score      float64             `json:"score"`
}

// Key identifies an item for deduplication across live and cached results.
func (it Item) Key() string {
	switch it.Kind {
	case KindNode:
		if it.Node != nil {
			return string(KindNode) + ":" + it.Node.NodeID
		}
	case KindEdge:
		if it.Edge != nil {
			return string(KindEdge) + ":" + it.Edge.EdgeID
		}
	case KindConnection:
		if it.Connection != nil {
			return string(KindConnection) + ":" + it.Connection.NodeID
		}
	}
	return ""
}

type SearchDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	Redis    *goredis.Client
	Log      *logger.Logger
}

type SearchInput struct {
	UserID string
	Query  string
	Limit  int

	// ConversationID, when set, merges cached deep-research results for the
	// conversation into the candidate pool before reranking.
	ConversationID string

	// ExcludeTypes filters node ANN hits; edge and connection results are
	// unaffected.
	ExcludeTypes []types.NodeType

	// MinSim overrides the user-query default when > 0.
	MinSim float64
}

type SearchOutput struct {
	Items    []Item
	Document string
}

// SearchMemory is the hybrid retrieval entry point: one query embedding, node
// and edge ANN searches in parallel, one-hop graph expansion, cached
// deep-research merge, and a final cross-encoder rerank cut to Limit.
func SearchMemory(ctx context.Context, deps SearchDeps, in SearchInput) (SearchOutput, error) {
	if in.Limit <= 0 {
		in.Limit = DefaultSearchLimit
	}
	minSim := in.MinSim
	if minSim <= 0 {
		minSim = MinSimUser
	}
	query := strings.TrimSpace(in.Query)

	vec, err := queryEmbedding(ctx, deps.Embedder, SimilarInput{Query: query})
	if err != nil {
		return SearchOutput{}, err
	}

	var (
		nodes []search.SimilarNode
		edges []search.SimilarEdge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = deps.Repos.Search.SimilarNodes(dbctx.New(gctx), in.UserID, vec, in.Limit, minSim, in.ExcludeTypes)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = deps.Repos.Search.SimilarEdges(dbctx.New(gctx), in.UserID, vec, in.Limit, minSim)
		return err
	})
	if err := g.Wait(); err != nil {
		return SearchOutput{}, err
	}

	seeds := make([]string, 0, len(nodes)+2*len(edges))
	seen := map[string]bool{}
	addSeed := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			seeds = append(seeds, id)
		}
	}
	for _, n := range nodes {
		addSeed(n.NodeID)
	}
	for _, e := range edges {
		addSeed(e.SourceID)
		addSeed(e.TargetID)
	}

	var hops []search.OneHopNode
	if len(seeds) > 0 {
		hops, err = deps.Repos.Search.OneHopNodes(dbctx.New(ctx), in.UserID, seeds)
		if err != nil {
			return SearchOutput{}, err
		}
	}

	items := assembleItems(nodes, edges, hops)

	if in.ConversationID != "" && deps.Redis != nil {
		cached, err := loadCachedResearch(ctx, deps.Redis, in.UserID, in.ConversationID)
		if err != nil {
			deps.Log.Warn("deep-research cache read failed",
				"user_id", in.UserID, "conversation_id", in.ConversationID, "error", err)
		} else if len(cached) > 0 {
			items = mergeItems(items, cached)
		}
	}

	if len(items) == 0 {
		return SearchOutput{}, nil
	}

	ranked, err := rerankItems(ctx, deps.Embedder, query, items, in.Limit)
	if err != nil {
		deps.Log.Warn("rerank unavailable, falling back to similarity order",
			"user_id", in.UserID, "error", err)
		ranked = fallbackOrder(items, in.Limit)
	}

	return SearchOutput{Items: ranked, Document: FormatDocument(ranked)}, nil
}

func assembleItems(nodes []search.SimilarNode, edges []search.SimilarEdge, hops []search.OneHopNode) []Item {
	out := make([]Item, 0, len(nodes)+len(edges)+len(hops))
	for i := range nodes {
		out = append(out, Item{Kind: KindNode, Node: &nodes[i], Score: nodes[i].Similarity})
	}
	for i := range edges {
		out = append(out, Item{Kind: KindEdge, Edge: &edges[i], Score: edges[i].Similarity})
	}
	for i := range hops {
		out = append(out, Item{Kind: KindConnection, Connection: &hops[i]})
	}
	return out
}

// mergeItems appends extra items that are not already present, keyed by
// (kind, id). Earlier items win so live results shadow cached ones.
func mergeItems(base, extra []Item) []Item {
	seen := make(map[string]bool, len(base))
	for _, it := range base {
		if k := it.Key(); k != "" {
			seen[k] = true
		}
	}
	for _, it := range extra {
		k := it.Key()
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		base = append(base, it)
	}
	return base
}

// RerankDoc renders an item the way the cross-encoder scores it.
func RerankDoc(it Item) string {
	switch it.Kind {
	case KindNode:
		if it.Node == nil {
			return ""
		}
		return it.Node.Label + ": " + it.Node.Description
	case KindEdge:
		if it.Edge == nil {
			return ""
		}
		doc := fmt.Sprintf("%s -> %s: %s", it.Edge.SourceLabel, it.Edge.TargetLabel, it.Edge.EdgeType)
		if it.Edge.Description != "" {
			doc += ": " + it.Edge.Description
		}
		return doc
	case KindConnection:
		if it.Connection == nil {
			return ""
		}
		return it.Connection.Label + ": " + it.Connection.Description
	}
	return ""
}

func rerankItems(ctx context.Context, embedder jina.Client, query string, items []Item, limit int) ([]Item, error) {
	docs := make([]string, len(items))
	for i, it := range items {
		docs[i] = RerankDoc(it)
	}
	results, err := embedder.Rerank(ctx, query, docs, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(items) {
			continue
		}
		it := items[r.Index]
		it.Score = r.Score
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func fallbackOrder(items []Item, limit int) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FormatDocument renders ranked items as the memory context block handed to
// the assistant.
func FormatDocument(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories, most relevant first:\n")
	for i, it := range items {
		switch it.Kind {
		case KindNode:
			fmt.Fprintf(&b, "%d. [%s] %s", i+1, it.Node.NodeType, it.Node.Label)
			if it.Node.Description != "" {
				b.WriteString(": " + it.Node.Description)
			}
			fmt.Fprintf(&b, " (recorded %s)", it.Node.CreatedAt.UTC().Format("2006-01-02"))
		case KindEdge:
			fmt.Fprintf(&b, "%d. [relation] %s %s %s", i+1, it.Edge.SourceLabel, it.Edge.EdgeType, it.Edge.TargetLabel)
			if it.Edge.Description != "" {
				b.WriteString(": " + it.Edge.Description)
			}
		case KindConnection:
			fmt.Fprintf(&b, "%d. [connected] %s %s %s", i+1,
				it.Connection.EdgeSourceLabel, it.Connection.EdgeType, it.Connection.EdgeTargetLabel)
			if it.Connection.Description != "" {
				b.WriteString(": " + it.Connection.Description)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
