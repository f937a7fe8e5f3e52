package dream

import (
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/atlas"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

// Run rewrites the assistant atlas from yesterday's conversations, then
// rolls the dice on a dream about them.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.Dream
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" || in.AssistantID == "" {
		return errs.Validationf("userId and assistantId are required")
	}

	deps := atlas.Deps{
		Repos:    p.repos,
		AI:       p.ai,
		Embedder: p.embedder,
		Log:      p.log,
	}
	if err := atlas.ProcessAssistantAtlasJob(jc.Ctx, deps, in.UserID, in.AssistantID, in.AssistantDescription); err != nil {
		return err
	}
	return atlas.ProcessDreamJob(jc.Ctx, deps, atlas.DreamInput{
		UserID:               in.UserID,
		AssistantID:          in.AssistantID,
		Probability:          p.probability,
		SelectionProbability: p.selectionProbability,
	})
}
