package search

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// SimilarNode is one ANN hit over node embeddings.
type SimilarNode struct {
	NodeID      string         `json:"node_id"`
	NodeType    types.NodeType `json:"node_type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	Similarity  float64        `json:"similarity"`
}

// SimilarEdge is one ANN hit over edge embeddings, with endpoint labels
// resolved for prompt formatting.
type SimilarEdge struct {
	EdgeID      string         `json:"edge_id"`
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	SourceLabel string         `json:"source_label"`
	TargetLabel string         `json:"target_label"`
	EdgeType    types.EdgeType `json:"edge_type"`
	Description string         `json:"description"`
	Similarity  float64        `json:"similarity"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OneHopNode is a neighbor of a seed node together with the connecting edge.
type OneHopNode struct {
	NodeID      string         `json:"node_id"`
	NodeType    types.NodeType `json:"node_type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`

	EdgeSourceID    string         `json:"edge_source_id"`
	EdgeTargetID    string         `json:"edge_target_id"`
	EdgeType        types.EdgeType `json:"edge_type"`
	EdgeSourceLabel string         `json:"edge_source_label"`
	EdgeTargetLabel string         `json:"edge_target_label"`
}

// EntryNode is a cleanup seed candidate ranked by outgoing-edge count.
type EntryNode struct {
	NodeID        string         `json:"node_id"`
	NodeType      types.NodeType `json:"node_type"`
	Label         string         `json:"label"`
	OutgoingEdges int            `json:"outgoing_edges"`
}

// OneHopCap bounds a one-hop expansion regardless of the caller's seed set.
const OneHopCap = 50

type SearchRepo interface {
	// SimilarNodes runs ANN search over node embeddings. Similarity is
	// 1 - cosineDistance; rows below minSim are dropped. DISTINCT ON (id)
	// ordered by id then similarity DESC decides which embedding row
	// survives when a node carries several.
	SimilarNodes(dbc dbctx.Context, userID string, query []float32, limit int, minSim float64, excludeTypes []types.NodeType) ([]SimilarNode, error)
	SimilarEdges(dbc dbctx.Context, userID string, query []float32, limit int, minSim float64) ([]SimilarEdge, error)

	// OneHopNodes returns neighbors directly connected to the seed set,
	// never the seeds themselves, deduplicated on node id, labeled nodes
	// first, capped at OneHopCap.
	OneHopNodes(dbc dbctx.Context, userID string, seedIDs []string) ([]OneHopNode, error)

	// EntryNodes ranks nodes by outgoing-edge count over the window.
	EntryNodes(dbc dbctx.Context, userID string, since time.Time, limit int) ([]EntryNode, error)
}

type searchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchRepo(db *gorm.DB, baseLog *logger.Logger) SearchRepo {
	return &searchRepo{
		db:  db,
		log: baseLog.With("repo", "SearchRepo"),
	}
}

func (r *searchRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *searchRepo) SimilarNodes(dbc dbctx.Context, userID string, query []float32, limit int, minSim float64, excludeTypes []types.NodeType) ([]SimilarNode, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if len(query) != types.EmbeddingDim {
		return nil, errs.Validationf("query vector must have dimension %d, got %d", types.EmbeddingDim, len(query))
	}
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(query)

	sql := `
		SELECT node_id, node_type, label, description, created_at, similarity FROM (
			SELECT DISTINCT ON (nodes.id)
				nodes.id AS node_id,
				nodes.node_type AS node_type,
				node_metadata.label AS label,
				node_metadata.description AS description,
				nodes.created_at AS created_at,
				1 - (node_embeddings.vector <=> ?) AS similarity
			FROM nodes
			JOIN node_metadata ON node_metadata.node_id = nodes.id
			JOIN node_embeddings ON node_embeddings.node_id = nodes.id
			WHERE nodes.user_id = ?`
	args := []interface{}{vec, userID}

	if len(excludeTypes) > 0 {
		sql += ` AND nodes.node_type NOT IN ?`
		args = append(args, excludeTypes)
	}

	sql += `
			ORDER BY nodes.id, similarity DESC
		) hits
		WHERE similarity >= ?
		ORDER BY similarity DESC, node_id
		LIMIT ?`
	args = append(args, minSim, limit)

	var out []SimilarNode
	if err := r.handle(dbc).Raw(sql, args...).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *searchRepo) SimilarEdges(dbc dbctx.Context, userID string, query []float32, limit int, minSim float64) ([]SimilarEdge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if len(query) != types.EmbeddingDim {
		return nil, errs.Validationf("query vector must have dimension %d, got %d", types.EmbeddingDim, len(query))
	}
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(query)

	sql := `
		SELECT edge_id, source_id, target_id, source_label, target_label,
		       edge_type, description, similarity, created_at FROM (
			SELECT DISTINCT ON (edges.id)
				edges.id AS edge_id,
				edges.source_node_id AS source_id,
				edges.target_node_id AS target_id,
				src_meta.label AS source_label,
				tgt_meta.label AS target_label,
				edges.edge_type AS edge_type,
				edges.description AS description,
				edges.created_at AS created_at,
				1 - (edge_embeddings.vector <=> ?) AS similarity
			FROM edges
			JOIN edge_embeddings ON edge_embeddings.edge_id = edges.id
			LEFT JOIN node_metadata src_meta ON src_meta.node_id = edges.source_node_id
			LEFT JOIN node_metadata tgt_meta ON tgt_meta.node_id = edges.target_node_id
			WHERE edges.user_id = ?
			ORDER BY edges.id, similarity DESC
		) hits
		WHERE similarity >= ?
		ORDER BY similarity DESC, edge_id
		LIMIT ?`

	var out []SimilarEdge
	if err := r.handle(dbc).Raw(sql, vec, userID, minSim, limit).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *searchRepo) OneHopNodes(dbc dbctx.Context, userID string, seedIDs []string) ([]OneHopNode, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if len(seedIDs) == 0 {
		return []OneHopNode{}, nil
	}

	// Both directions in one pass: the neighbor is whichever endpoint is
	// not the seed. Seeds themselves are excluded; labeled neighbors sort
	// ahead so the cap keeps the useful rows.
	sql := `
		SELECT node_id, node_type, label, description, created_at,
		       edge_source_id, edge_target_id, edge_type,
		       edge_source_label, edge_target_label FROM (
			SELECT DISTINCT ON (neighbor.id)
				neighbor.id AS node_id,
				neighbor.node_type AS node_type,
				COALESCE(nm.label, '') AS label,
				COALESCE(nm.description, '') AS description,
				neighbor.created_at AS created_at,
				edges.source_node_id AS edge_source_id,
				edges.target_node_id AS edge_target_id,
				edges.edge_type AS edge_type,
				COALESCE(src_meta.label, '') AS edge_source_label,
				COALESCE(tgt_meta.label, '') AS edge_target_label
			FROM edges
			JOIN nodes neighbor ON neighbor.id = CASE
				WHEN edges.source_node_id IN ? THEN edges.target_node_id
				ELSE edges.source_node_id
			END
			LEFT JOIN node_metadata nm ON nm.node_id = neighbor.id
			LEFT JOIN node_metadata src_meta ON src_meta.node_id = edges.source_node_id
			LEFT JOIN node_metadata tgt_meta ON tgt_meta.node_id = edges.target_node_id
			WHERE edges.user_id = ?
			  AND (edges.source_node_id IN ? OR edges.target_node_id IN ?)
			  AND neighbor.id NOT IN ?
			ORDER BY neighbor.id
		) hops
		ORDER BY (label = ''), created_at DESC
		LIMIT ?`

	var out []OneHopNode
	err := r.handle(dbc).
		Raw(sql, seedIDs, userID, seedIDs, seedIDs, seedIDs, OneHopCap).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *searchRepo) EntryNodes(dbc dbctx.Context, userID string, since time.Time, limit int) ([]EntryNode, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if limit <= 0 {
		limit = 5
	}

	sql := `
		SELECT nodes.id AS node_id,
		       nodes.node_type AS node_type,
		       COALESCE(node_metadata.label, '') AS label,
		       COUNT(edges.id) AS outgoing_edges
		FROM nodes
		JOIN edges ON edges.source_node_id = nodes.id
		LEFT JOIN node_metadata ON node_metadata.node_id = nodes.id
		WHERE nodes.user_id = ? AND edges.created_at >= ?
		GROUP BY nodes.id, nodes.node_type, node_metadata.label
		ORDER BY outgoing_edges DESC, nodes.id
		LIMIT ?`

	var out []EntryNode
	if err := r.handle(dbc).Raw(sql, userID, since.UTC(), limit).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
