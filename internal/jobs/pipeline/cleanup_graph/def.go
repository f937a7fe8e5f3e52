package cleanup_graph

import (
	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Pipeline struct {
	db       *gorm.DB
	repos    *repos.All
	ai       openai.Client
	embedder jina.Client
	log      *logger.Logger
}

func New(
	db *gorm.DB,
	r *repos.All,
	ai openai.Client,
	embedder jina.Client,
	baseLog *logger.Logger,
) *Pipeline {
	return &Pipeline{
		db:       db,
		repos:    r,
		ai:       ai,
		embedder: embedder,
		log:      baseLog.With("job", payload.JobCleanupGraph),
	}
}

func (p *Pipeline) Type() string { return payload.JobCleanupGraph }
