package ingest_document

import (
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	jobrt "github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/modules/ingest"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in payload.IngestDocument
	if err := jc.Decode(&in); err != nil {
		return err
	}
	if in.UserID == "" || in.DocumentID == "" || in.Content == "" {
		return errs.Validationf("userId, documentId and content are required")
	}

	return ingest.IngestDocument(jc.Ctx, ingest.DocumentDeps{
		Repos:    p.repos,
		Embedder: p.embedder,
		AI:       p.ai,
		Archive:  p.archive,
		Log:      p.log,
	}, ingest.DocumentInput{
		UserID:         in.UserID,
		DocumentID:     in.DocumentID,
		Content:        in.Content,
		Timestamp:      in.Timestamp,
		ModelID:        p.modelID,
		UpdateExisting: in.UpdateExisting,
	})
}
