package summarize

import (
	"golang.org/x/sync/errgroup"

	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/atlas"
	summarizemod "github.com/engramlabs/engram-backend/internal/modules/summarize"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

// Run fans out the nightly pair for one user: summarize completed
// conversations and rewrite the user atlas off yesterday's activity.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.Summarize
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" {
		return errs.Validationf("userId is required")
	}

	g, gctx := errgroup.WithContext(jc.Ctx)
	g.Go(func() error {
		return summarizemod.ProcessSummarizeJob(gctx, summarizemod.Deps{
			Repos: p.repos,
			AI:    p.ai,
			Log:   p.log,
		}, in.UserID)
	})
	g.Go(func() error {
		return atlas.ProcessAtlasJob(gctx, atlas.Deps{
			Repos:    p.repos,
			AI:       p.ai,
			Embedder: p.embedder,
			Log:      p.log,
		}, in.UserID)
	})
	return g.Wait()
}
