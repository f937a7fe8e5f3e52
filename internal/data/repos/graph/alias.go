package graph

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

type AliasInput struct {
	UserID          string
	Text            string
	CanonicalNodeID string
}

type AliasRepo interface {
	// UpsertAliases inserts with conflict-skip on (user, text, node).
	UpsertAliases(dbc dbctx.Context, batch []AliasInput) error
	ListByUser(dbc dbctx.Context, userID string) ([]*types.Alias, error)
	ListByNodes(dbc dbctx.Context, userID string, nodeIDs []string) ([]*types.Alias, error)
}

type aliasRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAliasRepo(db *gorm.DB, baseLog *logger.Logger) AliasRepo {
	return &aliasRepo{
		db:  db,
		log: baseLog.With("repo", "AliasRepo"),
	}
}

func (r *aliasRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *aliasRepo) UpsertAliases(dbc dbctx.Context, batch []AliasInput) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.Alias, 0, len(batch))
	for _, in := range batch {
		text := strings.TrimSpace(in.Text)
		if strings.TrimSpace(in.UserID) == "" || text == "" || strings.TrimSpace(in.CanonicalNodeID) == "" {
			continue
		}
		rows = append(rows, &types.Alias{
			ID:              typeid.New(typeid.PrefixAlias),
			UserID:          strings.TrimSpace(in.UserID),
			Text:            text,
			CanonicalNodeID: strings.TrimSpace(in.CanonicalNodeID),
			CreatedAt:       now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *aliasRepo) ListByUser(dbc dbctx.Context, userID string) ([]*types.Alias, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	var out []*types.Alias
	err := r.handle(dbc).Where("user_id = ?", userID).Order("text").Find(&out).Error
	return out, err
}

func (r *aliasRepo) ListByNodes(dbc dbctx.Context, userID string, nodeIDs []string) ([]*types.Alias, error) {
	if len(nodeIDs) == 0 {
		return []*types.Alias{}, nil
	}
	var out []*types.Alias
	err := r.handle(dbc).
		Where("user_id = ? AND canonical_node_id IN ?", userID, nodeIDs).
		Find(&out).Error
	return out, err
}
