package ingest

import (
	"context"
	"time"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

type SourceNodeDeps struct {
	Repos *repos.All
	Log   *logger.Logger
}

type SourceNodeInput struct {
	UserID    string
	Source    *types.Source
	NodeType  types.NodeType
	Label     string
	Timestamp time.Time
}

// EnsureSourceNode resolves the graph node representing a source (the
// Conversation or Document node extraction anchors to). Re-ingesting the same
// source reuses the node found through its source links. The node is tied to
// the day it happened via an OCCURRED_ON edge.
func EnsureSourceNode(ctx context.Context, deps SourceNodeDeps, in SourceNodeInput) (*repos.NodeWithMetadata, error) {
	dbc := dbctx.New(ctx)

	links, err := deps.Repos.SourceLinks.ListBySource(dbc, in.Source.ID)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		ids := make([]string, 0, len(links))
		for _, l := range links {
			ids = append(ids, l.NodeID)
		}
		existing, err := deps.Repos.Nodes.GetNodesWithMetadata(dbc, in.UserID, ids)
		if err != nil {
			return nil, err
		}
		for _, n := range existing {
			if n.Node.NodeType == in.NodeType {
				return n, nil
			}
		}
	}

	created, err := deps.Repos.Nodes.InsertNodeWithMetadata(dbc, repos.InsertNodeInput{
		UserID:    in.UserID,
		NodeType:  in.NodeType,
		Label:     in.Label,
		CreatedAt: in.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if err := deps.Repos.SourceLinks.InsertLinks(dbc, []repos.SourceLinkInput{
		{SourceID: in.Source.ID, NodeID: created.Node.ID},
	}); err != nil {
		return nil, err
	}

	day, err := deps.Repos.Nodes.EnsureDayNode(dbc, in.UserID, in.Timestamp)
	if err != nil {
		return nil, err
	}
	if _, err := deps.Repos.Edges.InsertEdges(dbc, []repos.InsertEdgeInput{{
		UserID:       in.UserID,
		SourceNodeID: created.Node.ID,
		TargetNodeID: day.Node.ID,
		EdgeType:     types.EdgeTypeOccurredOn,
	}}); err != nil {
		return nil, err
	}

	return created, nil
}
