package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

const maxTitleLength = 255

type Deps struct {
	Repos *repos.All
	AI    openai.Client
	Log   *logger.Logger
}

// ProcessSummarizeJob gives every completed-but-unsummarized conversation a
// title and summary on its Conversation node. One bad conversation is marked
// failed and the batch moves on.
func ProcessSummarizeJob(ctx context.Context, deps Deps, userID string) error {
	dbc := dbctx.New(ctx)
	pending, err := deps.Repos.Sources.ListConversationsNotSummarized(dbc, userID, 0)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	done := 0
	for _, src := range pending {
		if err := summarizeConversation(ctx, deps, userID, src); err != nil {
			deps.Log.Warn("conversation summarization failed",
				"user_id", userID, "source_id", src.ID, "error", err)
			if _, casErr := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusCompleted, types.SourceStatusFailed); casErr != nil {
				deps.Log.Error("failed to mark conversation failed", "source_id", src.ID, "error", casErr)
			}
			continue
		}
		done++
	}
	deps.Log.Info("summarization batch finished", "user_id", userID, "pending", len(pending), "summarized", done)
	return nil
}

func summarizeConversation(ctx context.Context, deps Deps, userID string, src *types.Source) error {
	dbc := dbctx.New(ctx)

	children, err := deps.Repos.Sources.ListChildMessages(dbc, userID, src.ID)
	if err != nil {
		return err
	}
	transcript := formatTranscript(children)
	if transcript == "" {
		// Nothing to summarize; advance the status so the row stops cycling.
		_, err := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusCompleted, types.SourceStatusSummarized)
		return err
	}

	title, summary, err := generateSummary(ctx, deps.AI, transcript)
	if err != nil {
		return err
	}

	node, err := conversationNode(ctx, deps, userID, src.ID)
	if err != nil {
		return err
	}
	if node == nil {
		return errs.Logicf("conversation source %s has no conversation node", src.ID)
	}
	if err := deps.Repos.Nodes.UpdateMetadata(dbc, userID, node.Node.ID, &title, &summary, nil); err != nil {
		return err
	}

	swapped, err := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusCompleted, types.SourceStatusSummarized)
	if err != nil {
		return err
	}
	if !swapped {
		deps.Log.Warn("conversation status moved during summarization", "source_id", src.ID)
	}
	return nil
}

func conversationNode(ctx context.Context, deps Deps, userID, sourceID string) (*repos.NodeWithMetadata, error) {
	dbc := dbctx.New(ctx)
	links, err := deps.Repos.SourceLinks.ListBySource(dbc, sourceID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.NodeID)
	}
	nodes, err := deps.Repos.Nodes.GetNodesWithMetadata(dbc, userID, ids)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Node.NodeType == types.NodeTypeConversation {
			return n, nil
		}
	}
	return nil, nil
}

// formatTranscript rebuilds the tagged-turn transcript from the message
// bodies stored on child sources. Rows without a readable body are skipped.
func formatTranscript(children []*types.Source) string {
	var b strings.Builder
	for _, c := range children {
		if len(c.Metadata) == 0 {
			continue
		}
		var meta ingest.MessageMeta
		if err := json.Unmarshal(c.Metadata, &meta); err != nil {
			continue
		}
		content := strings.TrimSpace(meta.Content)
		if content == "" {
			continue
		}
		role := meta.Role
		if role == "" {
			role = "user"
		}
		if meta.Name != "" {
			fmt.Fprintf(&b, "<%s name=%q>%s</%s>\n", role, meta.Name, content, role)
		} else {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", role, content, role)
		}
	}
	return b.String()
}

const summarySystem = `Summarize this conversation between a user and their assistant.
The title is a short, specific headline (not "Conversation about..."). The
summary captures what was discussed, decided, and revealed about the user, in
a few sentences.`

var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":   map[string]any{"type": "string", "maxLength": maxTitleLength},
		"summary": map[string]any{"type": "string"},
	},
	"required":             []string{"title", "summary"},
	"additionalProperties": false,
}

func generateSummary(ctx context.Context, ai openai.Client, transcript string) (string, string, error) {
	out, err := ai.GenerateJSON(ctx, summarySystem, transcript, "conversation_summary", summarySchema)
	if err != nil {
		return "", "", err
	}
	title, ok := out["title"].(string)
	if !ok {
		return "", "", errs.LLMParsef("summary: missing title")
	}
	summary, ok := out["summary"].(string)
	if !ok {
		return "", "", errs.LLMParsef("summary: missing summary")
	}
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength])
	}
	return title, summary, nil
}
