package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

// SourceKind selects the extraction prompt framing.
type SourceKind string

const (
	SourceKindConversation SourceKind = "conversation"
	SourceKindDocument     SourceKind = "document"
)

const extractCandidateLimit = 50

type ExtractDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	AI       openai.Client
	Log      *logger.Logger
}

type ExtractInput struct {
	UserID       string
	SourceKind   SourceKind
	LinkedNodeID string
	Content      string
	ModelID      string
}

type ExtractResult struct {
	CreatedNodes  []*repos.NodeWithMetadata
	InsertedEdges []*types.Edge
}

// Extract runs one LLM graph-extraction pass over Content and persists the
// resulting nodes and edges. A parse failure is fatal (the queue retries);
// individual bad nodes or edges are logged and skipped.
func Extract(ctx context.Context, deps ExtractDeps, in ExtractInput) (*ExtractResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return &ExtractResult{}, nil
	}
	if in.LinkedNodeID == "" {
		return nil, errs.Validationf("extract: missing linked node id")
	}

	candidates, labels, err := candidateContext(ctx, deps, in.UserID, in.LinkedNodeID, content)
	if err != nil {
		return nil, err
	}

	mapper := NewMapper()
	var contextBlock strings.Builder
	for _, c := range candidates {
		temp, err := mapper.RegisterExisting(c.nodeType, c.nodeID)
		if err != nil {
			deps.Log.Warn("extract: candidate mapping skipped", "node_id", c.nodeID, "error", err)
			continue
		}
		fmt.Fprintf(&contextBlock, "%s [%s] %s", temp, c.nodeType, c.label)
		if c.description != "" {
			contextBlock.WriteString(": " + c.description)
		}
		contextBlock.WriteString("\n")
	}

	ai := deps.AI
	if in.ModelID != "" {
		ai = openai.WithModel(ai, in.ModelID)
	}
	extraction, err := runExtraction(ctx, ai, in.SourceKind, contextBlock.String(), content)
	if err != nil {
		return nil, err
	}
	extraction.dedupe()

	dbc := dbctx.New(ctx)
	result := &ExtractResult{}
	edgeInputs := make([]repos.InsertEdgeInput, 0, len(extraction.Edges))

	for _, n := range extraction.Nodes {
		if mapper.Known(n.ID) {
			continue
		}
		if strings.HasPrefix(n.ID, "existing_") {
			deps.Log.Warn("extract: unknown existing id from model", "temp_id", n.ID)
			continue
		}
		nodeType := types.NodeType(n.Type)
		if !nodeType.Valid() {
			nodeType = types.NodeTypeConcept
		}
		created, err := deps.Repos.Nodes.InsertNodeWithMetadata(dbc, repos.InsertNodeInput{
			UserID:      in.UserID,
			NodeType:    nodeType,
			Label:       n.Label,
			Description: n.Description,
		})
		if err != nil {
			deps.Log.Warn("extract: node insert failed", "temp_id", n.ID, "error", err)
			continue
		}
		if err := mapper.Register(n.ID, created.Node.ID); err != nil {
			deps.Log.Warn("extract: node mapping failed", "temp_id", n.ID, "error", err)
			continue
		}
		labels[created.Node.ID] = created.Metadata.Label
		result.CreatedNodes = append(result.CreatedNodes, created)

		edgeInputs = append(edgeInputs, repos.InsertEdgeInput{
			UserID:       in.UserID,
			SourceNodeID: created.Node.ID,
			TargetNodeID: in.LinkedNodeID,
			EdgeType:     types.EdgeTypeMentionedIn,
		})
	}

	for _, e := range extraction.Edges {
		src, okSrc := mapper.RealID(e.SourceID)
		tgt, okTgt := mapper.RealID(e.TargetID)
		if !okSrc || !okTgt {
			deps.Log.Warn("extract: edge references unknown temp id",
				"source", e.SourceID, "target", e.TargetID)
			continue
		}
		edgeInputs = append(edgeInputs, repos.InsertEdgeInput{
			UserID:       in.UserID,
			SourceNodeID: src,
			TargetNodeID: tgt,
			EdgeType:     types.EdgeType(e.Type),
			Description:  e.Description,
		})
	}

	inserted, err := deps.Repos.Edges.InsertEdges(dbc, edgeInputs)
	if err != nil {
		return nil, err
	}
	result.InsertedEdges = inserted

	if err := embedExtracted(ctx, deps, result, labels); err != nil {
		// Embeddings are recoverable later via the back-fill; the extraction
		// itself already committed.
		deps.Log.Warn("extract: embedding generation failed", "user_id", in.UserID, "error", err)
	}

	deps.Log.Info("extraction complete",
		"user_id", in.UserID,
		"source_kind", string(in.SourceKind),
		"nodes_created", len(result.CreatedNodes),
		"edges_inserted", len(result.InsertedEdges))
	return result, nil
}

type candidate struct {
	nodeID      string
	nodeType    types.NodeType
	label       string
	description string
}

// candidateContext gathers nearby existing nodes: semantic matches on the
// raw content plus the direct neighborhood of the linked source node.
// Returns candidates and a nodeID→label map reused for edge embedding docs.
func candidateContext(ctx context.Context, deps ExtractDeps, userID, linkedNodeID, content string) ([]candidate, map[string]string, error) {
	simDeps := retrieval.SimilarDeps{Repos: deps.Repos, Embedder: deps.Embedder, Log: deps.Log}

	similar, err := retrieval.FindSimilarNodes(ctx, simDeps, retrieval.SimilarInput{
		UserID: userID,
		Query:  content,
		Limit:  extractCandidateLimit,
		MinSim: retrieval.MinSimExtractor,
	})
	if err != nil {
		return nil, nil, err
	}
	hops, err := retrieval.FindOneHopNodes(ctx, simDeps, userID, []string{linkedNodeID})
	if err != nil {
		return nil, nil, err
	}

	seen := map[string]bool{}
	labels := map[string]string{}
	out := make([]candidate, 0, len(similar)+len(hops)+1)
	add := func(id string, nt types.NodeType, label, desc string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		labels[id] = label
		out = append(out, candidate{nodeID: id, nodeType: nt, label: label, description: desc})
	}
	for _, s := range similar {
		add(s.NodeID, s.NodeType, s.Label, s.Description)
	}
	for _, h := range hops {
		add(h.NodeID, h.NodeType, h.Label, h.Description)
	}

	// The linked node itself anchors MENTIONED_IN edges and must be mappable.
	if !seen[linkedNodeID] {
		linked, err := deps.Repos.Nodes.GetNodeWithMetadata(dbctx.New(ctx), userID, linkedNodeID)
		if err != nil {
			return nil, nil, err
		}
		if linked != nil {
			add(linked.Node.ID, linked.Node.NodeType, linked.Metadata.Label, linked.Metadata.Description)
		}
	}
	return out, labels, nil
}

// embedExtracted writes passage embeddings for newly created labeled nodes
// and newly inserted described edges.
func embedExtracted(ctx context.Context, deps ExtractDeps, result *ExtractResult, labels map[string]string) error {
	var (
		nodeDocs []string
		nodeIDs  []string
		edgeDocs []string
		edgeIDs  []string
	)
	modelName := deps.Embedder.EmbedModel()
	dbc := dbctx.New(ctx)
	for _, n := range result.CreatedNodes {
		if n.Metadata.Label == "" {
			continue
		}
		nodeDocs = append(nodeDocs, n.Metadata.Label+": "+n.Metadata.Description)
		nodeIDs = append(nodeIDs, n.Node.ID)
	}
	for _, e := range result.InsertedEdges {
		if e.Description == "" {
			continue
		}
		edgeDocs = append(edgeDocs, fmt.Sprintf("%s %s %s: %s",
			labels[e.SourceNodeID], e.EdgeType, labels[e.TargetNodeID], e.Description))
		edgeIDs = append(edgeIDs, e.ID)
	}

	if len(nodeDocs) > 0 {
		vecs, err := deps.Embedder.Embed(ctx, jina.TaskPassage, nodeDocs)
		if err != nil {
			return err
		}
		batch := make([]repos.NodeEmbeddingInput, 0, len(vecs))
		for i, v := range vecs {
			batch = append(batch, repos.NodeEmbeddingInput{NodeID: nodeIDs[i], Vector: v, ModelName: modelName})
		}
		if err := deps.Repos.Embeddings.InsertNodeEmbeddings(dbc, batch); err != nil {
			return err
		}
	}
	if len(edgeDocs) > 0 {
		vecs, err := deps.Embedder.Embed(ctx, jina.TaskPassage, edgeDocs)
		if err != nil {
			return err
		}
		batch := make([]repos.EdgeEmbeddingInput, 0, len(vecs))
		for i, v := range vecs {
			batch = append(batch, repos.EdgeEmbeddingInput{EdgeID: edgeIDs[i], Vector: v, ModelName: modelName})
		}
		if err := deps.Repos.Embeddings.InsertEdgeEmbeddings(dbc, batch); err != nil {
			return err
		}
	}
	return nil
}
