package users

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

type ProfileRepo interface {
	// UpsertProfile replaces the user's rolling profile document.
	UpsertProfile(dbc dbctx.Context, userID, content string) (*types.UserProfile, error)
	// GetProfile returns nil when the user has no profile yet.
	GetProfile(dbc dbctx.Context, userID string) (*types.UserProfile, error)
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{
		db:  db,
		log: baseLog.With("repo", "ProfileRepo"),
	}
}

func (r *profileRepo) UpsertProfile(dbc dbctx.Context, userID, content string) (*types.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	row := &types.UserProfile{
		ID:            typeid.New(typeid.PrefixUserProfile),
		UserID:        userID,
		Content:       content,
		LastUpdatedAt: now,
		CreatedAt:     now,
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"content":         content,
				"last_updated_at": now,
			}),
		}).
		Create(row).Error; err != nil {
		return nil, err
	}

	return r.GetProfile(dbc, userID)
}

func (r *profileRepo) GetProfile(dbc dbctx.Context, userID string) (*types.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.UserProfile
	err := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
