package sources

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

type SourceLinkInput struct {
	SourceID         string
	NodeID           string
	SpecificLocation string
}

type SourceLinkRepo interface {
	// InsertLinks inserts with conflict-skip on (source_id, node_id).
	InsertLinks(dbc dbctx.Context, batch []SourceLinkInput) error

	// RewireSourceLinks repoints links from one node onto another,
	// preserving the unique pair; duplicates collapse.
	RewireSourceLinks(dbc dbctx.Context, fromNodeID, toNodeID string) error

	ListByNode(dbc dbctx.Context, nodeID string) ([]*types.SourceLink, error)
	ListBySource(dbc dbctx.Context, sourceID string) ([]*types.SourceLink, error)
	ListNodeIDsForSources(dbc dbctx.Context, sourceIDs []string) ([]string, error)
}

type sourceLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceLinkRepo(db *gorm.DB, baseLog *logger.Logger) SourceLinkRepo {
	return &sourceLinkRepo{
		db:  db,
		log: baseLog.With("repo", "SourceLinkRepo"),
	}
}

func (r *sourceLinkRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *sourceLinkRepo) InsertLinks(dbc dbctx.Context, batch []SourceLinkInput) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.SourceLink, 0, len(batch))
	for _, in := range batch {
		if strings.TrimSpace(in.SourceID) == "" || strings.TrimSpace(in.NodeID) == "" {
			continue
		}
		rows = append(rows, &types.SourceLink{
			ID:               typeid.New(typeid.PrefixSourceLink),
			SourceID:         strings.TrimSpace(in.SourceID),
			NodeID:           strings.TrimSpace(in.NodeID),
			SpecificLocation: strings.TrimSpace(in.SpecificLocation),
			CreatedAt:        now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *sourceLinkRepo) RewireSourceLinks(dbc dbctx.Context, fromNodeID, toNodeID string) error {
	fromNodeID = strings.TrimSpace(fromNodeID)
	toNodeID = strings.TrimSpace(toNodeID)
	if fromNodeID == "" || toNodeID == "" {
		return errs.Validationf("missing from/to node ids")
	}
	if fromNodeID == toNodeID {
		return nil
	}
	tx := r.handle(dbc)

	var links []*types.SourceLink
	if err := tx.Where("node_id = ?", fromNodeID).Find(&links).Error; err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}

	now := time.Now().UTC()
	copies := make([]*types.SourceLink, 0, len(links))
	oldIDs := make([]string, 0, len(links))
	for _, l := range links {
		oldIDs = append(oldIDs, l.ID)
		copies = append(copies, &types.SourceLink{
			ID:               typeid.New(typeid.PrefixSourceLink),
			SourceID:         l.SourceID,
			NodeID:           toNodeID,
			SpecificLocation: l.SpecificLocation,
			CreatedAt:        now,
		})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&copies).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", oldIDs).Delete(&types.SourceLink{}).Error
}

func (r *sourceLinkRepo) ListByNode(dbc dbctx.Context, nodeID string) ([]*types.SourceLink, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, errs.Validationf("missing node_id")
	}
	var out []*types.SourceLink
	err := r.handle(dbc).Where("node_id = ?", nodeID).Find(&out).Error
	return out, err
}

func (r *sourceLinkRepo) ListBySource(dbc dbctx.Context, sourceID string) ([]*types.SourceLink, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, errs.Validationf("missing source_id")
	}
	var out []*types.SourceLink
	err := r.handle(dbc).Where("source_id = ?", sourceID).Find(&out).Error
	return out, err
}

func (r *sourceLinkRepo) ListNodeIDsForSources(dbc dbctx.Context, sourceIDs []string) ([]string, error) {
	if len(sourceIDs) == 0 {
		return []string{}, nil
	}
	var ids []string
	err := r.handle(dbc).Model(&types.SourceLink{}).
		Distinct("node_id").
		Where("source_id IN ?", sourceIDs).
		Pluck("node_id", &ids).Error
	return ids, err
}
