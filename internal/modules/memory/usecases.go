package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/modules/atlas"
	"github.com/engramlabs/engram-backend/internal/modules/cleanup"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Repos    *repos.All
	AI       openai.Client
	Embedder jina.Client
	Redis    *goredis.Client
	Jobs     ingest.Scheduler
}

// Usecases is the consumer surface: ingest and maintenance operations
// enqueue background jobs, queries run inline.
type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) enqueue(ctx context.Context, name string, body any) error {
	if u.deps.Jobs == nil {
		return errs.Logicf("job queue not configured")
	}
	return u.deps.Jobs.Enqueue(ctx, name, body)
}

// IngestConversation queues a conversation for extraction.
func (u Usecases) IngestConversation(ctx context.Context, in payload.IngestConversation) error {
	if in.UserID == "" || in.ConversationID == "" || len(in.Messages) == 0 {
		return errs.Validationf("userId, conversationId and messages are required")
	}
	return u.enqueue(ctx, payload.JobIngestConversation, in)
}

// IngestDocument queues a document for extraction.
func (u Usecases) IngestDocument(ctx context.Context, in payload.IngestDocument) error {
	if in.UserID == "" || in.DocumentID == "" || in.Content == "" {
		return errs.Validationf("userId, documentId and content are required")
	}
	return u.enqueue(ctx, payload.JobIngestDocument, in)
}

type SearchResult struct {
	Items    []retrieval.Item `json:"items"`
	Document string           `json:"document"`
}

// SearchMemory runs hybrid retrieval inline.
func (u Usecases) SearchMemory(ctx context.Context, userID, query string, limit int, excludeTypes []types.NodeType, conversationID string) (*SearchResult, error) {
	out, err := retrieval.SearchMemory(ctx, retrieval.SearchDeps{
		Repos:    u.deps.Repos,
		Embedder: u.deps.Embedder,
		Redis:    u.deps.Redis,
		Log:      u.deps.Log,
	}, retrieval.SearchInput{
		UserID:         userID,
		Query:          query,
		Limit:          limit,
		ConversationID: conversationID,
		ExcludeTypes:   excludeTypes,
	})
	if err != nil {
		return nil, err
	}
	return &SearchResult{Items: out.Items, Document: out.Document}, nil
}

type DayResult struct {
	DayLabel  string        `json:"day"`
	NodeID    string        `json:"node_id,omitempty"`
	Neighbors []DayNeighbor `json:"neighbors,omitempty"`
	Formatted string        `json:"formatted,omitempty"`
}

type DayNeighbor struct {
	NodeID      string         `json:"node_id"`
	NodeType    types.NodeType `json:"node_type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	EdgeType    types.EdgeType `json:"edge_type"`
}

// QueryDay returns everything attached to one day node.
func (u Usecases) QueryDay(ctx context.Context, userID, date string, formatted bool) (*DayResult, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, errs.Validationf("date must be YYYY-MM-DD")
	}
	dbc := dbctx.New(ctx)
	day, err := u.deps.Repos.Nodes.FindDayNode(dbc, userID, date)
	if err != nil {
		return nil, err
	}
	result := &DayResult{DayLabel: date}
	if day == nil {
		return result, nil
	}
	result.NodeID = day.Node.ID

	hops, err := u.deps.Repos.Search.OneHopNodes(dbc, userID, []string{day.Node.ID})
	if err != nil {
		return nil, err
	}
	for _, h := range hops {
		result.Neighbors = append(result.Neighbors, DayNeighbor{
			NodeID:      h.NodeID,
			NodeType:    h.NodeType,
			Label:       h.Label,
			Description: h.Description,
			EdgeType:    h.EdgeType,
		})
	}
	if formatted {
		result.Formatted = formatDay(result)
	}
	return result, nil
}

func formatDay(r *DayResult) string {
	if r.NodeID == "" {
		return "No memories recorded on " + r.DayLabel + "."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Memories from %s:\n", r.DayLabel)
	for _, n := range r.Neighbors {
		fmt.Fprintf(&b, "- [%s] %s", n.NodeType, n.Label)
		if n.Description != "" {
			b.WriteString(": " + n.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type NodeTypeResult struct {
	Nodes     []DayNeighbor `json:"nodes"`
	Formatted string        `json:"formatted"`
}

// QueryNodeType lists nodes of the given types, optionally restricted to a
// day (via the day node's neighborhood).
func (u Usecases) QueryNodeType(ctx context.Context, userID string, nodeTypes []types.NodeType, date string) (*NodeTypeResult, error) {
	if len(nodeTypes) == 0 {
		return nil, errs.Validationf("at least one node type is required")
	}
	for _, t := range nodeTypes {
		if !t.Valid() {
			return nil, errs.Validationf("invalid node type %q", t)
		}
	}
	dbc := dbctx.New(ctx)
	result := &NodeTypeResult{}

	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, errs.Validationf("date must be YYYY-MM-DD")
		}
		day, err := u.deps.Repos.Nodes.FindDayNode(dbc, userID, date)
		if err != nil {
			return nil, err
		}
		if day != nil {
			hops, err := u.deps.Repos.Search.OneHopNodes(dbc, userID, []string{day.Node.ID})
			if err != nil {
				return nil, err
			}
			wanted := map[types.NodeType]bool{}
			for _, t := range nodeTypes {
				wanted[t] = true
			}
			for _, h := range hops {
				if !wanted[h.NodeType] {
					continue
				}
				result.Nodes = append(result.Nodes, DayNeighbor{
					NodeID: h.NodeID, NodeType: h.NodeType, Label: h.Label,
					Description: h.Description, EdgeType: h.EdgeType,
				})
			}
		}
	} else {
		rows, err := u.deps.Repos.Nodes.ListByType(dbc, userID, nodeTypes, nil, 100)
		if err != nil {
			return nil, err
		}
		for _, n := range rows {
			result.Nodes = append(result.Nodes, DayNeighbor{
				NodeID: n.Node.ID, NodeType: n.Node.NodeType,
				Label: n.Metadata.Label, Description: n.Metadata.Description,
			})
		}
	}

	var b strings.Builder
	for _, n := range result.Nodes {
		fmt.Fprintf(&b, "- [%s] %s", n.NodeType, n.Label)
		if n.Description != "" {
			b.WriteString(": " + n.Description)
		}
		b.WriteString("\n")
	}
	result.Formatted = b.String()
	return result, nil
}

type GraphResult struct {
	NodeCount int64            `json:"node_count"`
	EdgeCount int64            `json:"edge_count"`
	Items     []retrieval.Item `json:"items,omitempty"`
	Formatted string           `json:"formatted"`
}

// QueryGraph gives an overview of the graph, optionally focused around a
// query.
func (u Usecases) QueryGraph(ctx context.Context, userID, query string, maxNodes int) (*GraphResult, error) {
	if maxNodes <= 0 {
		maxNodes = 25
	}
	dbc := dbctx.New(ctx)
	nodeCount, err := u.deps.Repos.Nodes.CountNodes(dbc, userID)
	if err != nil {
		return nil, err
	}
	edgeCount, err := u.deps.Repos.Edges.CountEdges(dbc, userID)
	if err != nil {
		return nil, err
	}
	result := &GraphResult{NodeCount: nodeCount, EdgeCount: edgeCount}

	if strings.TrimSpace(query) != "" {
		search, err := u.SearchMemory(ctx, userID, query, maxNodes, nil, "")
		if err != nil {
			return nil, err
		}
		result.Items = search.Items
		result.Formatted = fmt.Sprintf("Graph: %d nodes, %d edges.\n%s", nodeCount, edgeCount, search.Document)
	} else {
		result.Formatted = fmt.Sprintf("Graph: %d nodes, %d edges.", nodeCount, edgeCount)
	}
	return result, nil
}

type AtlasResult struct {
	UserAtlas      string `json:"user_atlas"`
	AssistantAtlas string `json:"assistant_atlas,omitempty"`
}

// QueryAtlas returns the user's atlas and, when an assistant id is given,
// the assistant's too.
func (u Usecases) QueryAtlas(ctx context.Context, userID, assistantID string) (*AtlasResult, error) {
	deps := atlas.Deps{Repos: u.deps.Repos, AI: u.deps.AI, Embedder: u.deps.Embedder, Log: u.deps.Log}
	userAtlas, err := atlas.GetAtlas(ctx, deps, userID)
	if err != nil {
		return nil, err
	}
	result := &AtlasResult{UserAtlas: userAtlas}
	if assistantID != "" {
		assistantAtlas, err := atlas.GetAssistantAtlas(ctx, deps, userID, assistantID)
		if err != nil {
			return nil, err
		}
		result.AssistantAtlas = assistantAtlas
	}
	return result, nil
}

// Summarize queues the summarization batch for the user.
func (u Usecases) Summarize(ctx context.Context, userID string) error {
	return u.enqueue(ctx, payload.JobSummarize, payload.Summarize{UserID: userID})
}

// Dream queues the assistant-atlas rewrite plus the probabilistic dream.
func (u Usecases) Dream(ctx context.Context, userID, assistantID, assistantDescription string) error {
	return u.enqueue(ctx, payload.JobDream, payload.Dream{
		UserID:               userID,
		AssistantID:          assistantID,
		AssistantDescription: assistantDescription,
	})
}

// Cleanup queues an iterative graph-cleanup run.
func (u Usecases) Cleanup(ctx context.Context, in payload.CleanupGraph) error {
	if in.UserID == "" {
		return errs.Validationf("userId is required")
	}
	return u.enqueue(ctx, payload.JobCleanupGraph, in)
}

// TruncateLongLabels clips oversized labels inline and reports the count.
func (u Usecases) TruncateLongLabels(ctx context.Context, userID string) (int64, error) {
	return cleanup.TruncateLongLabels(ctx, cleanup.Deps{
		Repos: u.deps.Repos, AI: u.deps.AI, Embedder: u.deps.Embedder, Log: u.deps.Log,
	}, userID)
}
