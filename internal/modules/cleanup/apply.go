package cleanup

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
)

// ApplyResult reports what one cleanup application changed, in real ids.
type ApplyResult struct {
	CreatedNodes  []*repos.NodeWithMetadata
	InsertedEdges []*types.Edge
	MergeKeepIDs  []string
	DeletedIDs    []string
}

// preprocess normalizes a proposal against its merges: removed temp ids are
// rewritten to their merge keeps everywhere else, additions that collapse
// into self-edges are dropped, and deletes of merge keeps are dropped.
func preprocess(p *Proposal) *Proposal {
	remap := make(map[string]string, len(p.Merges))
	keeps := make(map[string]bool, len(p.Merges))
	for _, m := range p.Merges {
		if m.Keep == "" || m.Remove == "" || m.Keep == m.Remove {
			continue
		}
		remap[m.Remove] = m.Keep
		keeps[m.Keep] = true
	}
	resolve := func(id string) string {
		// Merge chains (a→b, b→c) settle on the final keep.
		for i := 0; i < len(remap); i++ {
			next, ok := remap[id]
			if !ok {
				return id
			}
			id = next
		}
		return id
	}

	out := &Proposal{Merges: make([]Merge, 0, len(p.Merges))}
	for _, m := range p.Merges {
		if m.Keep == "" || m.Remove == "" || m.Keep == m.Remove {
			continue
		}
		out.Merges = append(out.Merges, Merge{Keep: resolve(m.Keep), Remove: m.Remove})
	}
	for _, d := range p.Deletes {
		id := resolve(d.TempID)
		if id == "" || keeps[id] {
			continue
		}
		out.Deletes = append(out.Deletes, Delete{TempID: id})
	}
	for _, a := range p.Additions {
		src, tgt := resolve(a.Source), resolve(a.Target)
		if src == "" || tgt == "" || src == tgt {
			continue
		}
		out.Additions = append(out.Additions, Addition{
			Source: src, Target: tgt, Type: a.Type, Description: a.Description,
		})
	}
	out.NewNodes = p.NewNodes
	return out
}

// Apply executes a proposal inside one transaction, ordered new nodes →
// merges → additions → deletes, then generates embeddings for what was
// created after the commit.
func Apply(ctx context.Context, deps Deps, db *gorm.DB, userID string, ts *TempSubgraph, proposal *Proposal) (*ApplyResult, error) {
	p := preprocess(proposal)
	result := &ApplyResult{}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		for _, nn := range p.NewNodes {
			if nn.TempID == "" || ts.Mapper.Known(nn.TempID) {
				deps.Log.Warn("cleanup: new node temp id unusable", "temp_id", nn.TempID)
				continue
			}
			nodeType := types.NodeType(nn.Type)
			if !nodeType.Valid() {
				nodeType = types.NodeTypeConcept
			}
			created, err := deps.Repos.Nodes.InsertNodeWithMetadata(dbc, repos.InsertNodeInput{
				UserID:      userID,
				NodeType:    nodeType,
				Label:       nn.Label,
				Description: nn.Description,
			})
			if err != nil {
				return err
			}
			if err := ts.Mapper.Register(nn.TempID, created.Node.ID); err != nil {
				return err
			}
			result.CreatedNodes = append(result.CreatedNodes, created)
		}

		merged := map[string]bool{}
		for _, m := range p.Merges {
			keep, okKeep := ts.Mapper.RealID(m.Keep)
			remove, okRemove := ts.Mapper.RealID(m.Remove)
			if !okKeep || !okRemove || keep == remove || merged[remove] {
				deps.Log.Warn("cleanup: merge skipped", "keep", m.Keep, "remove", m.Remove)
				continue
			}
			if err := deps.Repos.Edges.RewireEdges(dbc, userID, remove, keep); err != nil {
				return err
			}
			if err := deps.Repos.SourceLinks.RewireSourceLinks(dbc, remove, keep); err != nil {
				return err
			}
			if err := deps.Repos.Nodes.DeleteNodeCascade(dbc, userID, remove); err != nil {
				return err
			}
			merged[remove] = true
			result.MergeKeepIDs = append(result.MergeKeepIDs, keep)
			result.DeletedIDs = append(result.DeletedIDs, remove)
		}

		additions := make([]repos.InsertEdgeInput, 0, len(p.Additions))
		for _, a := range p.Additions {
			src, okSrc := ts.Mapper.RealID(a.Source)
			tgt, okTgt := ts.Mapper.RealID(a.Target)
			if !okSrc || !okTgt {
				deps.Log.Warn("cleanup: addition references unknown temp id", "source", a.Source, "target", a.Target)
				continue
			}
			additions = append(additions, repos.InsertEdgeInput{
				UserID:       userID,
				SourceNodeID: src,
				TargetNodeID: tgt,
				EdgeType:     types.EdgeType(a.Type),
				Description:  a.Description,
			})
		}
		inserted, err := deps.Repos.Edges.InsertEdges(dbc, additions)
		if err != nil {
			return err
		}
		result.InsertedEdges = inserted

		for _, d := range p.Deletes {
			real, ok := ts.Mapper.RealID(d.TempID)
			if !ok || merged[real] {
				continue
			}
			if err := deps.Repos.Nodes.DeleteNodeCascade(dbc, userID, real); err != nil {
				return err
			}
			result.DeletedIDs = append(result.DeletedIDs, real)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := embedApplied(ctx, deps, ts, result); err != nil {
		deps.Log.Warn("cleanup: embedding generation failed", "user_id", userID, "error", err)
	}
	return result, nil
}

// embedApplied generates vectors for the nodes and edges a cleanup round
// created, node and edge batches in parallel.
func embedApplied(ctx context.Context, deps Deps, ts *TempSubgraph, result *ApplyResult) error {
	labels := map[string]string{}
	for _, n := range ts.Nodes {
		if real, ok := ts.Mapper.RealID(n.TempID); ok {
			labels[real] = n.Label
		}
	}
	for _, n := range result.CreatedNodes {
		labels[n.Node.ID] = n.Metadata.Label
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs := make([]string, 0, len(result.CreatedNodes))
		ids := make([]string, 0, len(result.CreatedNodes))
		for _, n := range result.CreatedNodes {
			if n.Metadata.Label == "" {
				continue
			}
			docs = append(docs, n.Metadata.Label+": "+n.Metadata.Description)
			ids = append(ids, n.Node.ID)
		}
		if len(docs) == 0 {
			return nil
		}
		vecs, err := deps.Embedder.Embed(gctx, jina.TaskPassage, docs)
		if err != nil {
			return err
		}
		batch := make([]repos.NodeEmbeddingInput, 0, len(vecs))
		for i, v := range vecs {
			batch = append(batch, repos.NodeEmbeddingInput{NodeID: ids[i], Vector: v, ModelName: deps.Embedder.EmbedModel()})
		}
		return deps.Repos.Embeddings.InsertNodeEmbeddings(dbctx.New(gctx), batch)
	})
	g.Go(func() error {
		docs := make([]string, 0, len(result.InsertedEdges))
		ids := make([]string, 0, len(result.InsertedEdges))
		for _, e := range result.InsertedEdges {
			if e.Description == "" {
				continue
			}
			docs = append(docs, fmt.Sprintf("%s %s %s: %s",
				labels[e.SourceNodeID], e.EdgeType, labels[e.TargetNodeID], e.Description))
			ids = append(ids, e.ID)
		}
		if len(docs) == 0 {
			return nil
		}
		vecs, err := deps.Embedder.Embed(gctx, jina.TaskPassage, docs)
		if err != nil {
			return err
		}
		batch := make([]repos.EdgeEmbeddingInput, 0, len(vecs))
		for i, v := range vecs {
			batch = append(batch, repos.EdgeEmbeddingInput{EdgeID: ids[i], Vector: v, ModelName: deps.Embedder.EmbedModel()})
		}
		return deps.Repos.Embeddings.InsertEdgeEmbeddings(dbctx.New(gctx), batch)
	})
	return g.Wait()
}
