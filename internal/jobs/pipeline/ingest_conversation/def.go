package ingest_conversation

import (
	goredis "github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Pipeline struct {
	repos    *repos.All
	embedder jina.Client
	ai       openai.Client
	redis    *goredis.Client
	jobs     ingest.Scheduler
	log      *logger.Logger
	modelID  string
}

func New(
	r *repos.All,
	embedder jina.Client,
	ai openai.Client,
	rdb *goredis.Client,
	jobs ingest.Scheduler,
	baseLog *logger.Logger,
	modelID string,
) *Pipeline {
	return &Pipeline{
		repos:    r,
		embedder: embedder,
		ai:       ai,
		redis:    rdb,
		jobs:     jobs,
		log:      baseLog.With("job", payload.JobIngestConversation),
		modelID:  modelID,
	}
}

func (p *Pipeline) Type() string { return payload.JobIngestConversation }
