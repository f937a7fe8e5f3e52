package deep_research

import (
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.DeepResearch
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" || in.ConversationID == "" {
		return errs.Validationf("userId and conversationId are required")
	}

	messages := make([]retrieval.Message, 0, len(in.Messages))
	for _, m := range in.Messages {
		messages = append(messages, retrieval.Message{Role: m.Role, Content: m.Content})
	}

	return retrieval.RunDeepResearch(jc.Ctx, retrieval.DeepResearchDeps{
		Repos:    p.repos,
		Embedder: p.embedder,
		AI:       p.ai,
		Redis:    p.redis,
		Log:      p.log,
	}, retrieval.DeepResearchInput{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Messages:       messages,
		LastNMessages:  in.LastNMessages,
	})
}
