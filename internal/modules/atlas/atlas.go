package atlas

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/graph"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

// The Atlas is a rolling narrative document about the user, stored as the
// description of a singleton Atlas node labeled "Atlas". The assistant keeps
// its own, labeled with the assistant id; the singleton key separates the
// two from same-labeled nodes of other types.
const (
	userAtlasLabel = "Atlas"
)

func assistantAtlasLabel(assistantID string) string {
	return assistantID
}

type Deps struct {
	Repos    *repos.All
	AI       openai.Client
	Embedder jina.Client
	Log      *logger.Logger

	// Rand gates the dream processor; nil uses the package default source.
	Rand func() float64
}

// GetAtlas returns the user's atlas text, creating an empty atlas on first
// read.
func GetAtlas(ctx context.Context, deps Deps, userID string) (string, error) {
	node, err := deps.Repos.Nodes.EnsureAtlasNode(dbctx.New(ctx), userID, userAtlasLabel)
	if err != nil {
		return "", err
	}
	return node.Metadata.Description, nil
}

// UpdateAtlas replaces the user's atlas text atomically.
func UpdateAtlas(ctx context.Context, deps Deps, userID, text string) error {
	dbc := dbctx.New(ctx)
	node, err := deps.Repos.Nodes.EnsureAtlasNode(dbc, userID, userAtlasLabel)
	if err != nil {
		return err
	}
	return deps.Repos.Nodes.UpdateMetadata(dbc, userID, node.Node.ID, nil, &text, nil)
}

// GetAssistantAtlas returns the assistant's atlas for this user.
func GetAssistantAtlas(ctx context.Context, deps Deps, userID, assistantID string) (string, error) {
	node, err := ensureAssistantAtlas(ctx, deps, userID, assistantID)
	if err != nil {
		return "", err
	}
	return node.Metadata.Description, nil
}

// UpdateAssistantAtlas replaces the assistant's atlas text.
func UpdateAssistantAtlas(ctx context.Context, deps Deps, userID, assistantID, text string) error {
	node, err := ensureAssistantAtlas(ctx, deps, userID, assistantID)
	if err != nil {
		return err
	}
	return deps.Repos.Nodes.UpdateMetadata(dbctx.New(ctx), userID, node.Node.ID, nil, &text, nil)
}

// ensureAssistantAtlas creates the assistant's atlas node on first use, plus
// a Person node for the assistant and an OWNED_BY edge tying them together.
func ensureAssistantAtlas(ctx context.Context, deps Deps, userID, assistantID string) (*repos.NodeWithMetadata, error) {
	if strings.TrimSpace(assistantID) == "" {
		assistantID = "assistant"
	}
	dbc := dbctx.New(ctx)
	atlasNode, err := deps.Repos.Nodes.EnsureAtlasNode(dbc, userID, assistantAtlasLabel(assistantID))
	if err != nil {
		return nil, err
	}
	person, err := deps.Repos.Nodes.EnsureSingletonNode(dbc, userID, types.NodeTypePerson, assistantID)
	if err != nil {
		return nil, err
	}
	if _, err := deps.Repos.Edges.InsertEdges(dbc, []repos.InsertEdgeInput{{
		UserID:       userID,
		SourceNodeID: atlasNode.Node.ID,
		TargetNodeID: person.Node.ID,
		EdgeType:     types.EdgeTypeOwnedBy,
	}}); err != nil {
		return nil, err
	}
	return atlasNode, nil
}

// ProcessAtlasJob rewrites the user's atlas from yesterday's conversations.
// A day with no conversations leaves the atlas untouched.
func ProcessAtlasJob(ctx context.Context, deps Deps, userID string) error {
	conversations, err := yesterdaysConversations(ctx, deps, userID)
	if err != nil {
		return err
	}
	if conversations == "" {
		deps.Log.Info("atlas rewrite skipped, no conversations yesterday", "user_id", userID)
		return nil
	}
	current, err := GetAtlas(ctx, deps, userID)
	if err != nil {
		return err
	}
	rewritten, err := rewriteAtlas(ctx, deps.AI, userAtlasSystem, current, conversations)
	if err != nil {
		return err
	}
	if err := UpdateAtlas(ctx, deps, userID, rewritten); err != nil {
		return err
	}
	deps.Log.Info("atlas rewritten", "user_id", userID, "length", len(rewritten))
	return nil
}

// ProcessAssistantAtlasJob is the assistant-side counterpart, run under the
// assistant's persona.
func ProcessAssistantAtlasJob(ctx context.Context, deps Deps, userID, assistantID, persona string) error {
	conversations, err := yesterdaysConversations(ctx, deps, userID)
	if err != nil {
		return err
	}
	if conversations == "" {
		return nil
	}
	current, err := GetAssistantAtlas(ctx, deps, userID, assistantID)
	if err != nil {
		return err
	}
	system := assistantAtlasSystem
	if persona != "" {
		system = "Your persona: " + persona + "\n\n" + system
	}
	rewritten, err := rewriteAtlas(ctx, deps.AI, system, current, conversations)
	if err != nil {
		return err
	}
	return UpdateAssistantAtlas(ctx, deps, userID, assistantID, rewritten)
}

// yesterdaysConversations collects (label, description) pairs for the
// Conversation nodes attached to yesterday's day node.
func yesterdaysConversations(ctx context.Context, deps Deps, userID string) (string, error) {
	dbc := dbctx.New(ctx)
	yesterday := graph.DayLabel(time.Now().UTC().AddDate(0, 0, -1))
	day, err := deps.Repos.Nodes.FindDayNode(dbc, userID, yesterday)
	if err != nil {
		return "", err
	}
	if day == nil {
		return "", nil
	}
	hops, err := deps.Repos.Search.OneHopNodes(dbc, userID, []string{day.Node.ID})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, h := range hops {
		if h.NodeType != types.NodeTypeConversation {
			continue
		}
		fmt.Fprintf(&b, "- %s", h.Label)
		if h.Description != "" {
			b.WriteString(": " + h.Description)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
