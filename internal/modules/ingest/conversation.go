package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

// Scheduler enqueues follow-up jobs. Satisfied by the queue client; nil
// disables follow-ups.
type Scheduler interface {
	Enqueue(ctx context.Context, name string, body any) error
}

// MessageMeta is the message body stored on conversation_message sources.
type MessageMeta struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type ConversationDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	AI       openai.Client
	Redis    *goredis.Client
	Jobs     Scheduler
	Log      *logger.Logger
}

type ConversationInput struct {
	UserID         string
	ConversationID string
	Messages       []payload.ConversationMessage
	ModelID        string
}

// IngestConversation runs the full conversation pipeline: source rows, the
// Conversation node, graph extraction over the message window, and a
// throttled deep-research follow-up.
func IngestConversation(ctx context.Context, deps ConversationDeps, in ConversationInput) error {
	if in.UserID == "" || in.ConversationID == "" {
		return errs.Validationf("ingest conversation: missing user or conversation id")
	}
	if len(in.Messages) == 0 {
		return errs.Validationf("ingest conversation: no messages")
	}
	dbc := dbctx.New(ctx)
	log := deps.Log.With("user_id", in.UserID, "conversation_id", in.ConversationID)

	if _, err := deps.Repos.Users.EnsureUser(dbc, in.UserID); err != nil {
		return err
	}

	src, err := deps.Repos.Sources.UpsertSource(dbc, repos.UpsertSourceInput{
		UserID:     in.UserID,
		Type:       types.SourceTypeConversation,
		ExternalID: in.ConversationID,
		Status:     types.SourceStatusPending,
	})
	if err != nil {
		return err
	}
	claimed, err := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusPending, types.SourceStatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		log.Warn("conversation already claimed, skipping", "source_id", src.ID)
		return nil
	}

	if err := ingestConversationBody(ctx, deps, in, src, log); err != nil {
		if _, casErr := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusProcessing, types.SourceStatusFailed); casErr != nil {
			log.Error("failed to mark conversation failed", "source_id", src.ID, "error", casErr)
		}
		return err
	}

	if _, err := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusProcessing, types.SourceStatusCompleted); err != nil {
		return err
	}

	scheduleDeepResearch(ctx, deps, in, log)
	return nil
}

func ingestConversationBody(ctx context.Context, deps ConversationDeps, in ConversationInput, src *types.Source, log *logger.Logger) error {
	dbc := dbctx.New(ctx)

	children := make([]repos.UpsertSourceInput, 0, len(in.Messages))
	for _, m := range in.Messages {
		if m.ID == "" {
			log.Warn("message without id skipped")
			continue
		}
		// The message body rides along in metadata; the summarizer reads it
		// back when the conversation is batched later.
		meta, err := json.Marshal(MessageMeta{Role: m.Role, Name: m.Name, Content: m.Content})
		if err != nil {
			return err
		}
		contentLength := int64(len(m.Content))
		children = append(children, repos.UpsertSourceInput{
			UserID:         in.UserID,
			Type:           types.SourceTypeConversationMessage,
			ExternalID:     m.ID,
			ParentSourceID: &src.ID,
			Status:         types.SourceStatusCompleted,
			Metadata:       datatypes.JSON(meta),
			ContentType:    "text/plain",
			ContentLength:  &contentLength,
			LastIngestedAt: m.Timestamp,
		})
	}
	if _, err := deps.Repos.Sources.InsertSources(dbc, children); err != nil {
		return err
	}

	ts := in.Messages[0].Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	convNode, err := EnsureSourceNode(ctx, SourceNodeDeps{Repos: deps.Repos, Log: deps.Log}, SourceNodeInput{
		UserID:    in.UserID,
		Source:    src,
		NodeType:  types.NodeTypeConversation,
		Label:     "Conversation on " + ts.UTC().Format("2006-01-02"),
		Timestamp: ts,
	})
	if err != nil {
		return err
	}

	_, err = Extract(ctx, ExtractDeps{
		Repos:    deps.Repos,
		Embedder: deps.Embedder,
		AI:       deps.AI,
		Log:      deps.Log,
	}, ExtractInput{
		UserID:       in.UserID,
		SourceKind:   SourceKindConversation,
		LinkedNodeID: convNode.Node.ID,
		Content:      FormatConversation(in.Messages),
		ModelID:      in.ModelID,
	})
	return err
}

func scheduleDeepResearch(ctx context.Context, deps ConversationDeps, in ConversationInput, log *logger.Logger) {
	if deps.Jobs == nil || deps.Redis == nil {
		return
	}
	won, err := retrieval.AcquireResearchThrottle(ctx, deps.Redis, in.UserID, in.ConversationID)
	if err != nil {
		log.Warn("deep-research throttle check failed", "error", err)
		return
	}
	if !won {
		return
	}
	err = deps.Jobs.Enqueue(ctx, payload.JobDeepResearch, payload.DeepResearch{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Messages:       in.Messages,
	})
	if err != nil {
		log.Warn("deep-research enqueue failed", "error", err)
	}
}

// FormatConversation renders messages as the tagged turn format the
// extraction and summarization prompts consume.
func FormatConversation(messages []payload.ConversationMessage) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		if m.Name != "" {
			fmt.Fprintf(&b, "<%s name=%q>%s</%s>\n", role, m.Name, content, role)
		} else {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", role, content, role)
		}
	}
	return b.String()
}
