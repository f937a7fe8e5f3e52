package graph

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

type InsertEdgeInput struct {
	UserID       string
	SourceNodeID string
	TargetNodeID string
	EdgeType     types.EdgeType
	Description  string
	Metadata     datatypes.JSON
}

type EdgeRepo interface {
	// InsertEdges bulk-inserts with conflict-skip on (src,tgt,type) and
	// returns only the rows actually written. Self-edges, invalid types,
	// and endpoints not owned by the item's user are skipped per item with
	// a warning before the insert.
	InsertEdges(dbc dbctx.Context, batch []InsertEdgeInput) ([]*types.Edge, error)

	// RewireEdges repoints every edge incident to fromNodeID onto toNodeID,
	// preserving (src,tgt,type) uniqueness: a copy is inserted with
	// conflict-skip, then the original is deleted. Edges that would become
	// self-edges are dropped.
	RewireEdges(dbc dbctx.Context, userID, fromNodeID, toNodeID string) error

	ListBySource(dbc dbctx.Context, userID string, sourceNodeIDs []string) ([]*types.Edge, error)
	ListByTarget(dbc dbctx.Context, userID string, targetNodeIDs []string) ([]*types.Edge, error)
	ListIncident(dbc dbctx.Context, userID string, nodeIDs []string) ([]*types.Edge, error)
	GetByIDs(dbc dbctx.Context, userID string, edgeIDs []string) ([]*types.Edge, error)
	CountEdges(dbc dbctx.Context, userID string) (int64, error)
}

type edgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEdgeRepo(db *gorm.DB, baseLog *logger.Logger) EdgeRepo {
	return &edgeRepo{
		db:  db,
		log: baseLog.With("repo", "EdgeRepo"),
	}
}

func (r *edgeRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *edgeRepo) InsertEdges(dbc dbctx.Context, batch []InsertEdgeInput) ([]*types.Edge, error) {
	if len(batch) == 0 {
		return []*types.Edge{}, nil
	}

	tx := r.handle(dbc)

	candidates := make([]InsertEdgeInput, 0, len(batch))
	idsByUser := map[string][]string{}
	for _, in := range batch {
		in.UserID = strings.TrimSpace(in.UserID)
		in.SourceNodeID = strings.TrimSpace(in.SourceNodeID)
		in.TargetNodeID = strings.TrimSpace(in.TargetNodeID)
		if in.UserID == "" || in.SourceNodeID == "" || in.TargetNodeID == "" {
			r.log.Warn("edge skipped: missing ids", "source", in.SourceNodeID, "target", in.TargetNodeID)
			continue
		}
		if in.SourceNodeID == in.TargetNodeID {
			r.log.Warn("edge skipped: self-edge", "node", in.SourceNodeID, "type", in.EdgeType)
			continue
		}
		if !in.EdgeType.Valid() {
			r.log.Warn("edge skipped: invalid type", "type", in.EdgeType)
			continue
		}
		candidates = append(candidates, in)
		idsByUser[in.UserID] = append(idsByUser[in.UserID], in.SourceNodeID, in.TargetNodeID)
	}
	if len(candidates) == 0 {
		return []*types.Edge{}, nil
	}

	owned := make(map[string]map[string]bool, len(idsByUser))
	for userID, ids := range idsByUser {
		m, err := r.ownedNodeIDs(tx, userID, ids)
		if err != nil {
			return nil, err
		}
		owned[userID] = m
	}

	now := time.Now().UTC()
	rows := make([]*types.Edge, 0, len(candidates))
	for _, in := range candidates {
		if !owned[in.UserID][in.SourceNodeID] || !owned[in.UserID][in.TargetNodeID] {
			r.log.Warn("edge skipped: endpoint not owned by user",
				"user_id", in.UserID, "source", in.SourceNodeID, "target", in.TargetNodeID)
			continue
		}
		rows = append(rows, &types.Edge{
			ID:           typeid.New(typeid.PrefixEdge),
			UserID:       in.UserID,
			SourceNodeID: in.SourceNodeID,
			TargetNodeID: in.TargetNodeID,
			EdgeType:     in.EdgeType,
			Description:  strings.TrimSpace(in.Description),
			Metadata:     in.Metadata,
			CreatedAt:    now,
		})
	}
	if len(rows) == 0 {
		return []*types.Edge{}, nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, err
	}

	// Conflicted rows kept the pre-existing id, so the generated ids that
	// survived identify exactly the rows this call wrote.
	candidateIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		candidateIDs = append(candidateIDs, row.ID)
	}
	var written []*types.Edge
	if err := tx.Where("id IN ?", candidateIDs).Find(&written).Error; err != nil {
		return nil, err
	}
	return written, nil
}

// ownedNodeIDs returns the subset of ids that belong to userID.
func (r *edgeRepo) ownedNodeIDs(tx *gorm.DB, userID string, ids []string) (map[string]bool, error) {
	var found []string
	if err := tx.Model(&types.Node{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(found))
	for _, id := range found {
		owned[id] = true
	}
	return owned, nil
}

func (r *edgeRepo) RewireEdges(dbc dbctx.Context, userID, fromNodeID, toNodeID string) error {
	userID = strings.TrimSpace(userID)
	fromNodeID = strings.TrimSpace(fromNodeID)
	toNodeID = strings.TrimSpace(toNodeID)
	if userID == "" || fromNodeID == "" || toNodeID == "" {
		return errs.Validationf("missing user_id/from/to")
	}
	if fromNodeID == toNodeID {
		return nil
	}
	tx := r.handle(dbc)

	var incident []*types.Edge
	if err := tx.Where("user_id = ? AND (source_node_id = ? OR target_node_id = ?)", userID, fromNodeID, fromNodeID).
		Find(&incident).Error; err != nil {
		return err
	}
	if len(incident) == 0 {
		return nil
	}

	now := time.Now().UTC()
	copies := make([]*types.Edge, 0, len(incident))
	for _, e := range incident {
		src, tgt := e.SourceNodeID, e.TargetNodeID
		if src == fromNodeID {
			src = toNodeID
		}
		if tgt == fromNodeID {
			tgt = toNodeID
		}
		// An edge between the merged pair collapses into a self-edge; the
		// relationship dissolves with the merge.
		if src == tgt {
			continue
		}
		copies = append(copies, &types.Edge{
			ID:           typeid.New(typeid.PrefixEdge),
			UserID:       e.UserID,
			SourceNodeID: src,
			TargetNodeID: tgt,
			EdgeType:     e.EdgeType,
			Description:  e.Description,
			Metadata:     e.Metadata,
			CreatedAt:    now,
		})
	}
	if len(copies) > 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&copies).Error; err != nil {
			return err
		}
	}

	oldIDs := make([]string, 0, len(incident))
	for _, e := range incident {
		oldIDs = append(oldIDs, e.ID)
	}
	if err := tx.Where("edge_id IN ?", oldIDs).Delete(&types.EdgeEmbedding{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", oldIDs).Delete(&types.Edge{}).Error
}

func (r *edgeRepo) ListBySource(dbc dbctx.Context, userID string, sourceNodeIDs []string) ([]*types.Edge, error) {
	if len(sourceNodeIDs) == 0 {
		return []*types.Edge{}, nil
	}
	var out []*types.Edge
	err := r.handle(dbc).
		Where("user_id = ? AND source_node_id IN ?", userID, sourceNodeIDs).
		Find(&out).Error
	return out, err
}

func (r *edgeRepo) ListByTarget(dbc dbctx.Context, userID string, targetNodeIDs []string) ([]*types.Edge, error) {
	if len(targetNodeIDs) == 0 {
		return []*types.Edge{}, nil
	}
	var out []*types.Edge
	err := r.handle(dbc).
		Where("user_id = ? AND target_node_id IN ?", userID, targetNodeIDs).
		Find(&out).Error
	return out, err
}

func (r *edgeRepo) ListIncident(dbc dbctx.Context, userID string, nodeIDs []string) ([]*types.Edge, error) {
	if len(nodeIDs) == 0 {
		return []*types.Edge{}, nil
	}
	var out []*types.Edge
	err := r.handle(dbc).
		Where("user_id = ? AND (source_node_id IN ? OR target_node_id IN ?)", userID, nodeIDs, nodeIDs).
		Find(&out).Error
	return out, err
}

func (r *edgeRepo) GetByIDs(dbc dbctx.Context, userID string, edgeIDs []string) ([]*types.Edge, error) {
	if len(edgeIDs) == 0 {
		return []*types.Edge{}, nil
	}
	var out []*types.Edge
	err := r.handle(dbc).
		Where("user_id = ? AND id IN ?", userID, edgeIDs).
		Find(&out).Error
	return out, err
}

func (r *edgeRepo) CountEdges(dbc dbctx.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errs.Validationf("missing user_id")
	}
	var n int64
	if err := r.handle(dbc).Model(&types.Edge{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
