package ingest_conversation

import (
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.IngestConversation
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" || in.ConversationID == "" || len(in.Messages) == 0 {
		return errs.Validationf("userId, conversationId and messages are required")
	}

	return ingest.IngestConversation(jc.Ctx, ingest.ConversationDeps{
		Repos:    p.repos,
		Embedder: p.embedder,
		AI:       p.ai,
		Redis:    p.redis,
		Jobs:     p.jobs,
		Log:      p.log,
	}, ingest.ConversationInput{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Messages:       in.Messages,
		ModelID:        p.modelID,
	})
}
