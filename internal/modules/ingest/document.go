package ingest

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/objstore"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

type DocumentDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	AI       openai.Client
	Archive  objstore.Store
	Log      *logger.Logger
}

type DocumentInput struct {
	UserID     string
	DocumentID string
	Content    string
	Timestamp  time.Time
	ModelID    string

	// UpdateExisting wipes everything previously extracted from this
	// document before re-extracting.
	UpdateExisting bool
}

// IngestDocument mirrors conversation ingestion for standalone text: source
// row, Document node, extraction, plus a best-effort raw-content archive.
func IngestDocument(ctx context.Context, deps DocumentDeps, in DocumentInput) error {
	if in.UserID == "" || in.DocumentID == "" {
		return errs.Validationf("ingest document: missing user or document id")
	}
	if in.Content == "" {
		return errs.Validationf("ingest document: empty content")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	dbc := dbctx.New(ctx)
	log := deps.Log.With("user_id", in.UserID, "document_id", in.DocumentID)

	if _, err := deps.Repos.Users.EnsureUser(dbc, in.UserID); err != nil {
		return err
	}

	if in.UpdateExisting {
		if err := deleteDocumentGraph(ctx, deps, in.UserID, in.DocumentID, log); err != nil {
			return err
		}
	}

	objectKey := archiveDocument(ctx, deps, in, log)

	var meta datatypes.JSON
	if objectKey != "" {
		raw, _ := json.Marshal(map[string]string{"object_key": objectKey})
		meta = datatypes.JSON(raw)
	}
	contentLength := int64(len(in.Content))
	src, err := deps.Repos.Sources.UpsertSource(dbc, repos.UpsertSourceInput{
		UserID:         in.UserID,
		Type:           types.SourceTypeDocument,
		ExternalID:     in.DocumentID,
		Status:         types.SourceStatusPending,
		Metadata:       meta,
		ContentType:    "text/plain",
		ContentLength:  &contentLength,
		LastIngestedAt: in.Timestamp,
	})
	if err != nil {
		return err
	}
	claimed, err := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusPending, types.SourceStatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		log.Warn("document already claimed, skipping", "source_id", src.ID)
		return nil
	}

	if err := ingestDocumentBody(ctx, deps, in, src); err != nil {
		if _, casErr := deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusProcessing, types.SourceStatusFailed); casErr != nil {
			log.Error("failed to mark document failed", "source_id", src.ID, "error", casErr)
		}
		return err
	}

	_, err = deps.Repos.Sources.UpdateStatusCAS(dbc, src.ID, types.SourceStatusProcessing, types.SourceStatusCompleted)
	return err
}

func ingestDocumentBody(ctx context.Context, deps DocumentDeps, in DocumentInput, src *types.Source) error {
	docNode, err := EnsureSourceNode(ctx, SourceNodeDeps{Repos: deps.Repos, Log: deps.Log}, SourceNodeInput{
		UserID:    in.UserID,
		Source:    src,
		NodeType:  types.NodeTypeDocument,
		Label:     "Document " + in.DocumentID,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		return err
	}

	_, err = Extract(ctx, ExtractDeps{
		Repos:    deps.Repos,
		Embedder: deps.Embedder,
		AI:       deps.AI,
		Log:      deps.Log,
	}, ExtractInput{
		UserID:       in.UserID,
		SourceKind:   SourceKindDocument,
		LinkedNodeID: docNode.Node.ID,
		Content:      in.Content,
		ModelID:      in.ModelID,
	})
	return err
}

// deleteDocumentGraph removes everything a previous ingestion of this
// document produced: linked nodes (with their edges and embeddings), then the
// source rows themselves.
func deleteDocumentGraph(ctx context.Context, deps DocumentDeps, userID, documentID string, log *logger.Logger) error {
	dbc := dbctx.New(ctx)
	src, err := deps.Repos.Sources.GetByExternalID(dbc, userID, types.SourceTypeDocument, documentID)
	if err != nil {
		return err
	}
	if src == nil {
		return nil
	}

	nodeIDs, err := deps.Repos.SourceLinks.ListNodeIDsForSources(dbc, []string{src.ID})
	if err != nil {
		return err
	}
	for _, nodeID := range nodeIDs {
		if err := deps.Repos.Nodes.DeleteNodeCascade(dbc, userID, nodeID); err != nil {
			log.Warn("stale document node not deleted", "node_id", nodeID, "error", err)
		}
	}
	if _, err := deps.Repos.Sources.DeleteByExternalID(dbc, userID, types.SourceTypeDocument, documentID); err != nil {
		return err
	}
	log.Info("previous document extraction removed", "nodes_deleted", len(nodeIDs))
	return nil
}

func archiveDocument(ctx context.Context, deps DocumentDeps, in DocumentInput, log *logger.Logger) string {
	if deps.Archive == nil {
		return ""
	}
	key := "documents/" + in.UserID + "/" + in.DocumentID
	if err := deps.Archive.PutPayload(ctx, key, "text/plain", []byte(in.Content)); err != nil {
		log.Warn("document archive failed", "key", key, "error", err)
		return ""
	}
	return key
}
