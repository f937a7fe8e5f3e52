package deep_research

import (
	goredis "github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Pipeline struct {
	repos    *repos.All
	embedder jina.Client
	ai       openai.Client
	redis    *goredis.Client
	log      *logger.Logger
}

func New(
	r *repos.All,
	embedder jina.Client,
	ai openai.Client,
	rdb *goredis.Client,
	baseLog *logger.Logger,
) *Pipeline {
	return &Pipeline{
		repos:    r,
		embedder: embedder,
		ai:       ai,
		redis:    rdb,
		log:      baseLog.With("job", payload.JobDeepResearch),
	}
}

func (p *Pipeline) Type() string { return payload.JobDeepResearch }
