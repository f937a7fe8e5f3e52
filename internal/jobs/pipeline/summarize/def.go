package summarize

import (
	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Pipeline struct {
	repos    *repos.All
	ai       openai.Client
	embedder jina.Client
	log      *logger.Logger
}

func New(r *repos.All, ai openai.Client, embedder jina.Client, baseLog *logger.Logger) *Pipeline {
	return &Pipeline{
		repos:    r,
		ai:       ai,
		embedder: embedder,
		log:      baseLog.With("job", payload.JobSummarize),
	}
}

func (p *Pipeline) Type() string { return payload.JobSummarize }
