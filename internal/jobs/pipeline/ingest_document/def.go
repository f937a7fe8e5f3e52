package ingest_document

import (
	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/objstore"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type Pipeline struct {
	repos    *repos.All
	embedder jina.Client
	ai       openai.Client
	archive  objstore.Store
	log      *logger.Logger
	modelID  string
}

func New(
	r *repos.All,
	embedder jina.Client,
	ai openai.Client,
	archive objstore.Store,
	baseLog *logger.Logger,
	modelID string,
) *Pipeline {
	return &Pipeline{
		repos:    r,
		embedder: embedder,
		ai:       ai,
		archive:  archive,
		log:      baseLog.With("job", payload.JobIngestDocument),
		modelID:  modelID,
	}
}

func (p *Pipeline) Type() string { return payload.JobIngestDocument }
