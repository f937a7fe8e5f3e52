package sources

import (
	"errors"
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

type UpsertSourceInput struct {
	UserID         string
	Type           types.SourceType
	ExternalID     string
	ParentSourceID *string
	Status         types.SourceStatus
	Metadata       datatypes.JSON
	ContentType    string
	ContentLength  *int64
	LastIngestedAt time.Time
}

type SourceRepo interface {
	// UpsertSource creates or refreshes the row keyed by
	// (user, type, external_id). Re-ingesting bumps LastIngestedAt and
	// status without duplicating the row.
	UpsertSource(dbc dbctx.Context, in UpsertSourceInput) (*types.Source, error)
	// InsertSources bulk-inserts with conflict-skip on the unique triple and
	// returns only rows actually written.
	InsertSources(dbc dbctx.Context, batch []UpsertSourceInput) ([]*types.Source, error)

	GetByID(dbc dbctx.Context, userID, sourceID string) (*types.Source, error)
	GetByExternalID(dbc dbctx.Context, userID string, sourceType types.SourceType, externalID string) (*types.Source, error)
	ListConversationsNotSummarized(dbc dbctx.Context, userID string, limit int) ([]*types.Source, error)
	ListChildMessages(dbc dbctx.Context, userID, parentSourceID string) ([]*types.Source, error)

	// UpdateStatusCAS flips status only when the row still holds the
	// expected value; reports whether the swap happened.
	UpdateStatusCAS(dbc dbctx.Context, sourceID string, from, to types.SourceStatus) (bool, error)

	// DeleteByExternalID removes the source, its child message sources, and
	// all their source links. Reports the deleted root row, nil when absent.
	DeleteByExternalID(dbc dbctx.Context, userID string, sourceType types.SourceType, externalID string) (*types.Source, error)
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{
		db:  db,
		log: baseLog.With("repo", "SourceRepo"),
	}
}

func (r *sourceRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (in *UpsertSourceInput) validate() error {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.UserID == "" || in.ExternalID == "" {
		return errs.Validationf("missing user_id/external_id")
	}
	if !in.Type.Valid() {
		return errs.Validationf("invalid source type %q", in.Type)
	}
	if in.Type == types.SourceTypeConversationMessage &&
		(in.ParentSourceID == nil || strings.TrimSpace(*in.ParentSourceID) == "") {
		return errs.Validationf("conversation_message source requires a parent")
	}
	if in.Status == "" {
		in.Status = types.SourceStatusPending
	}
	if !in.Status.Valid() {
		return errs.Validationf("invalid source status %q", in.Status)
	}
	return nil
}

func (in *UpsertSourceInput) toRow(now time.Time) *types.Source {
	last := in.LastIngestedAt
	if last.IsZero() {
		last = now
	}
	return &types.Source{
		ID:             typeid.New(typeid.PrefixSource),
		UserID:         in.UserID,
		Type:           in.Type,
		ExternalID:     in.ExternalID,
		ParentSourceID: in.ParentSourceID,
		Status:         in.Status,
		LastIngestedAt: last,
		Metadata:       in.Metadata,
		ContentType:    strings.TrimSpace(in.ContentType),
		ContentLength:  in.ContentLength,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *sourceRepo) UpsertSource(dbc dbctx.Context, in UpsertSourceInput) (*types.Source, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tx := r.handle(dbc)
	now := time.Now().UTC()
	row := in.toRow(now)

	assignments := map[string]interface{}{
		"status":           string(in.Status),
		"last_ingested_at": row.LastIngestedAt,
		"updated_at":       now,
	}
	if in.Metadata != nil {
		assignments["metadata"] = in.Metadata
	}
	if in.ContentType != "" {
		assignments["content_type"] = in.ContentType
	}
	if in.ContentLength != nil {
		assignments["content_length"] = *in.ContentLength
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "type"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error; err != nil {
		return nil, err
	}

	return r.GetByExternalID(dbc, in.UserID, in.Type, in.ExternalID)
}

func (r *sourceRepo) InsertSources(dbc dbctx.Context, batch []UpsertSourceInput) ([]*types.Source, error) {
	if len(batch) == 0 {
		return []*types.Source{}, nil
	}
	now := time.Now().UTC()
	rows := make([]*types.Source, 0, len(batch))
	for i := range batch {
		if err := batch[i].validate(); err != nil {
			r.log.Warn("source skipped in batch", "external_id", batch[i].ExternalID, "error", err)
			continue
		}
		rows = append(rows, batch[i].toRow(now))
	}
	if len(rows) == 0 {
		return []*types.Source{}, nil
	}

	tx := r.handle(dbc)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, err
	}

	candidateIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		candidateIDs = append(candidateIDs, row.ID)
	}
	var written []*types.Source
	if err := tx.Where("id IN ?", candidateIDs).Find(&written).Error; err != nil {
		return nil, err
	}
	return written, nil
}

func (r *sourceRepo) GetByID(dbc dbctx.Context, userID, sourceID string) (*types.Source, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sourceID) == "" {
		return nil, errs.Validationf("missing user_id/source_id")
	}
	var out types.Source
	err := r.handle(dbc).Where("user_id = ? AND id = ?", userID, sourceID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sourceRepo) GetByExternalID(dbc dbctx.Context, userID string, sourceType types.SourceType, externalID string) (*types.Source, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(externalID) == "" {
		return nil, errs.Validationf("missing user_id/external_id")
	}
	var out types.Source
	err := r.handle(dbc).
		Where("user_id = ? AND type = ? AND external_id = ?", userID, sourceType, externalID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sourceRepo) ListConversationsNotSummarized(dbc dbctx.Context, userID string, limit int) ([]*types.Source, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	q := r.handle(dbc).
		Where("user_id = ? AND type = ? AND status = ?",
			userID, types.SourceTypeConversation, types.SourceStatusCompleted).
		Order("last_ingested_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Source
	err := q.Find(&out).Error
	return out, err
}

func (r *sourceRepo) ListChildMessages(dbc dbctx.Context, userID, parentSourceID string) ([]*types.Source, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(parentSourceID) == "" {
		return nil, errs.Validationf("missing user_id/parent_source_id")
	}
	var out []*types.Source
	// Message ids are ULID-suffixed, so ordering by id is chronological.
	err := r.handle(dbc).
		Where("user_id = ? AND type = ? AND parent_source_id = ?",
			userID, types.SourceTypeConversationMessage, parentSourceID).
		Order("id").
		Find(&out).Error
	return out, err
}

func (r *sourceRepo) UpdateStatusCAS(dbc dbctx.Context, sourceID string, from, to types.SourceStatus) (bool, error) {
	if strings.TrimSpace(sourceID) == "" {
		return false, errs.Validationf("missing source_id")
	}
	if !from.Valid() || !to.Valid() {
		return false, errs.Validationf("invalid status transition %q -> %q", from, to)
	}
	res := r.handle(dbc).Model(&types.Source{}).
		Where("id = ? AND status = ?", sourceID, from).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sourceRepo) DeleteByExternalID(dbc dbctx.Context, userID string, sourceType types.SourceType, externalID string) (*types.Source, error) {
	root, err := r.GetByExternalID(dbc, userID, sourceType, externalID)
	if err != nil || root == nil {
		return nil, err
	}
	tx := r.handle(dbc)

	var childIDs []string
	if err := tx.Model(&types.Source{}).
		Where("user_id = ? AND parent_source_id = ?", userID, root.ID).
		Pluck("id", &childIDs).Error; err != nil {
		return nil, err
	}

	ids := append([]string{root.ID}, childIDs...)
	if err := tx.Where("source_id IN ?", ids).Delete(&types.SourceLink{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id IN ?", ids).Delete(&types.Source{}).Error; err != nil {
		return nil, err
	}
	return root, nil
}
