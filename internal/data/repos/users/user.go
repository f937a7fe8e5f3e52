package users

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

type UserRepo interface {
	// EnsureUser creates the row for an external user id on first contact.
	// Idempotent under concurrent callers.
	EnsureUser(dbc dbctx.Context, userID string) (*types.User, error)
	Get(dbc dbctx.Context, userID string) (*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{
		db:  db,
		log: baseLog.With("repo", "UserRepo"),
	}
}

func (r *userRepo) EnsureUser(dbc dbctx.Context, userID string) (*types.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	row := &types.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error; err != nil {
		return nil, err
	}

	var out types.User
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", userID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) Get(dbc dbctx.Context, userID string) (*types.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.User
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", userID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
