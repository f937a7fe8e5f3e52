package cleanup

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/search"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Deps struct {
	Repos    *repos.All
	AI       openai.Client
	Embedder jina.Client
	Log      *logger.Logger
}

// Subgraph is the working slice of a user's graph one cleanup round looks at.
type Subgraph struct {
	Nodes []SubgraphNode
	Edges []SubgraphEdge
}

type SubgraphNode struct {
	ID          string
	Type        types.NodeType
	Label       string
	Description string
}

type SubgraphEdge struct {
	ID          string
	SourceID    string
	TargetID    string
	Type        types.EdgeType
	Description string
}

// FetchEntryNodes picks cleanup seeds: the nodes with the most outgoing
// edges over the window, i.e. the densest and most merge-prone spots.
func FetchEntryNodes(ctx context.Context, deps Deps, userID string, since time.Time, limit int) ([]search.EntryNode, error) {
	return deps.Repos.Search.EntryNodes(dbctx.New(ctx), userID, since, limit)
}

// BuildSubgraph expands the seed set semantically and structurally:
// per-seed ANN neighbors above the cleanup similarity floor, then BFS one-hop
// rounds up to hopDepth, then a trim to maxNodes/maxEdges that keeps only
// edges with both endpoints surviving.
func BuildSubgraph(ctx context.Context, deps Deps, userID string, seedIDs []string, semanticLimit, hopDepth, maxNodes, maxEdges int) (*Subgraph, error) {
	if hopDepth < 1 {
		hopDepth = 1
	} else if hopDepth > 2 {
		hopDepth = 2
	}
	dbc := dbctx.New(ctx)

	seeds, err := deps.Repos.Nodes.GetNodesWithMetadata(dbc, userID, seedIDs)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &Subgraph{}, nil
	}

	sg := &Subgraph{}
	seen := map[string]bool{}
	add := func(id string, nt types.NodeType, label, desc string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		sg.Nodes = append(sg.Nodes, SubgraphNode{ID: id, Type: nt, Label: label, Description: desc})
	}
	for _, s := range seeds {
		add(s.Node.ID, s.Node.NodeType, s.Metadata.Label, s.Metadata.Description)
	}

	// Semantic expansion fans out per seed; results merge under one lock.
	simDeps := retrieval.SimilarDeps{Repos: deps.Repos, Embedder: deps.Embedder, Log: deps.Log}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, s := range seeds {
		s := s
		if s.Metadata.Label == "" {
			continue
		}
		g.Go(func() error {
			found, err := retrieval.FindSimilarNodes(gctx, simDeps, retrieval.SimilarInput{
				UserID: userID,
				Query:  s.Metadata.Label + ": " + s.Metadata.Description,
				Limit:  semanticLimit,
				MinSim: retrieval.MinSimCleanup,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range found {
				add(n.NodeID, n.NodeType, n.Label, n.Description)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Structural expansion: BFS rounds add only unseen neighbors.
	frontier := make([]string, 0, len(sg.Nodes))
	for _, n := range sg.Nodes {
		frontier = append(frontier, n.ID)
	}
	for depth := 0; depth < hopDepth && len(frontier) > 0; depth++ {
		hops, err := deps.Repos.Search.OneHopNodes(dbc, userID, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(hops))
		for _, h := range hops {
			if !seen[h.NodeID] {
				next = append(next, h.NodeID)
			}
			add(h.NodeID, h.NodeType, h.Label, h.Description)
		}
		frontier = next
	}

	// Edges between included nodes, deduplicated on the identity triple.
	ids := make([]string, 0, len(sg.Nodes))
	for _, n := range sg.Nodes {
		ids = append(ids, n.ID)
	}
	incident, err := deps.Repos.Edges.ListIncident(dbc, userID, ids)
	if err != nil {
		return nil, err
	}
	seenEdges := map[string]bool{}
	for _, e := range incident {
		if !seen[e.SourceNodeID] || !seen[e.TargetNodeID] {
			continue
		}
		key := e.SourceNodeID + "|" + e.TargetNodeID + "|" + string(e.EdgeType)
		if seenEdges[key] {
			continue
		}
		seenEdges[key] = true
		sg.Edges = append(sg.Edges, SubgraphEdge{
			ID:          e.ID,
			SourceID:    e.SourceNodeID,
			TargetID:    e.TargetNodeID,
			Type:        e.EdgeType,
			Description: e.Description,
		})
	}

	sg.trim(maxNodes, maxEdges)
	return sg, nil
}

// trim bounds the subgraph. Nodes keep insertion order (seeds first), and
// only edges whose endpoints both survive remain.
func (sg *Subgraph) trim(maxNodes, maxEdges int) {
	if maxNodes > 0 && len(sg.Nodes) > maxNodes {
		sg.Nodes = sg.Nodes[:maxNodes]
	}
	kept := make(map[string]bool, len(sg.Nodes))
	for _, n := range sg.Nodes {
		kept[n.ID] = true
	}
	edges := sg.Edges[:0]
	for _, e := range sg.Edges {
		if kept[e.SourceID] && kept[e.TargetID] {
			edges = append(edges, e)
		}
	}
	sg.Edges = edges
	if maxEdges > 0 && len(sg.Edges) > maxEdges {
		sg.Edges = sg.Edges[:maxEdges]
	}
}

// TempSubgraph is the subgraph as the proposal prompt sees it: temp ids
// instead of database ids, plus the mapper to translate the answer back.
type TempSubgraph struct {
	Nodes []TempNode
	Edges []TempEdge

	Mapper *ingest.Mapper
}

type TempNode struct {
	TempID      string
	Type        types.NodeType
	Label       string
	Description string
}

type TempEdge struct {
	SourceTemp  string
	TargetTemp  string
	Type        types.EdgeType
	Description string
}

// ToTempSubgraph projects the subgraph through a fresh temporary-id mapper.
func ToTempSubgraph(sg *Subgraph) (*TempSubgraph, error) {
	mapper := ingest.NewMapper()
	out := &TempSubgraph{Mapper: mapper}

	for _, n := range sg.Nodes {
		temp := mapper.NextTempID("temp_node")
		if err := mapper.Register(temp, n.ID); err != nil {
			return nil, err
		}
		out.Nodes = append(out.Nodes, TempNode{
			TempID:      temp,
			Type:        n.Type,
			Label:       n.Label,
			Description: n.Description,
		})
	}
	for _, e := range sg.Edges {
		srcTemp, okSrc := mapper.TempID(e.SourceID)
		tgtTemp, okTgt := mapper.TempID(e.TargetID)
		if !okSrc || !okTgt {
			continue
		}
		out.Edges = append(out.Edges, TempEdge{
			SourceTemp:  srcTemp,
			TargetTemp:  tgtTemp,
			Type:        e.Type,
			Description: e.Description,
		})
	}
	return out, nil
}
