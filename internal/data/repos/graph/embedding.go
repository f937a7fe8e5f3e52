package graph

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

type NodeEmbeddingInput struct {
	NodeID    string
	Vector    []float32
	ModelName string
}

type EdgeEmbeddingInput struct {
	EdgeID    string
	Vector    []float32
	ModelName string
}

// EmbeddingRepo writes vectors for nodes and edges. There is no unique
// constraint on (node_id, model_name) or (edge_id, model_name); callers only
// embed rows the insert call reported as newly written, which keeps writes
// single per model in practice.
type EmbeddingRepo interface {
	InsertNodeEmbeddings(dbc dbctx.Context, batch []NodeEmbeddingInput) error
	InsertEdgeEmbeddings(dbc dbctx.Context, batch []EdgeEmbeddingInput) error

	// ListNodesMissingEmbedding returns labeled nodes with no embedding row,
	// used by the back-fill maintenance operation.
	ListNodesMissingEmbedding(dbc dbctx.Context, userID string, limit int) ([]*NodeWithMetadata, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingRepo"),
	}
}

func (r *embeddingRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *embeddingRepo) InsertNodeEmbeddings(dbc dbctx.Context, batch []NodeEmbeddingInput) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.NodeEmbedding, 0, len(batch))
	for _, in := range batch {
		if strings.TrimSpace(in.NodeID) == "" {
			continue
		}
		if len(in.Vector) != types.EmbeddingDim {
			r.log.Warn("node embedding skipped: wrong dimension",
				"node_id", in.NodeID, "dim", len(in.Vector))
			continue
		}
		rows = append(rows, &types.NodeEmbedding{
			ID:        typeid.New(typeid.PrefixNodeEmbedding),
			NodeID:    in.NodeID,
			Vector:    pgvector.NewVector(in.Vector),
			ModelName: strings.TrimSpace(in.ModelName),
			CreatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.handle(dbc).Create(&rows).Error
}

func (r *embeddingRepo) InsertEdgeEmbeddings(dbc dbctx.Context, batch []EdgeEmbeddingInput) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.EdgeEmbedding, 0, len(batch))
	for _, in := range batch {
		if strings.TrimSpace(in.EdgeID) == "" {
			continue
		}
		if len(in.Vector) != types.EmbeddingDim {
			r.log.Warn("edge embedding skipped: wrong dimension",
				"edge_id", in.EdgeID, "dim", len(in.Vector))
			continue
		}
		rows = append(rows, &types.EdgeEmbedding{
			ID:        typeid.New(typeid.PrefixEdgeEmbedding),
			EdgeID:    in.EdgeID,
			Vector:    pgvector.NewVector(in.Vector),
			ModelName: strings.TrimSpace(in.ModelName),
			CreatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.handle(dbc).Create(&rows).Error
}

func (r *embeddingRepo) ListNodesMissingEmbedding(dbc dbctx.Context, userID string, limit int) ([]*NodeWithMetadata, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	tx := r.handle(dbc)

	var nodes []*types.Node
	q := tx.
		Joins("JOIN node_metadata ON node_metadata.node_id = nodes.id").
		Where("nodes.user_id = ? AND node_metadata.label <> ''", userID).
		Where("NOT EXISTS (SELECT 1 FROM node_embeddings WHERE node_embeddings.node_id = nodes.id)").
		Order("nodes.id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&nodes).Error; err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return []*NodeWithMetadata{}, nil
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	var metas []*types.NodeMetadata
	if err := tx.Where("node_id IN ?", ids).Find(&metas).Error; err != nil {
		return nil, err
	}
	metaByNode := make(map[string]*types.NodeMetadata, len(metas))
	for _, m := range metas {
		metaByNode[m.NodeID] = m
	}
	out := make([]*NodeWithMetadata, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &NodeWithMetadata{Node: n, Metadata: metaByNode[n.ID]})
	}
	return out, nil
}
