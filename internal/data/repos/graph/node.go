package graph

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

// NodeWithMetadata pairs a node row with its single metadata row.
type NodeWithMetadata struct {
	Node     *types.Node
	Metadata *types.NodeMetadata
}

type InsertNodeInput struct {
	UserID         string
	NodeType       types.NodeType
	Label          string
	Description    string
	AdditionalData datatypes.JSON
	CreatedAt      time.Time

	// singletonKey is set by the Ensure* helpers only.
	singletonKey *string
}

type NodeRepo interface {
	// InsertNodeWithMetadata writes the node and its metadata row together.
	InsertNodeWithMetadata(dbc dbctx.Context, in InsertNodeInput) (*NodeWithMetadata, error)
	GetNodeWithMetadata(dbc dbctx.Context, userID, nodeID string) (*NodeWithMetadata, error)
	GetNodesWithMetadata(dbc dbctx.Context, userID string, nodeIDs []string) ([]*NodeWithMetadata, error)
	ListByType(dbc dbctx.Context, userID string, nodeTypes []types.NodeType, since *time.Time, limit int) ([]*NodeWithMetadata, error)

	// EnsureAtlasNode returns the singleton Atlas node for (user, label),
	// creating it on first use. Safe under concurrent callers.
	EnsureAtlasNode(dbc dbctx.Context, userID, label string) (*NodeWithMetadata, error)
	// EnsureSingletonNode is the generic variant for other at-most-one
	// nodes, like the Person node representing an assistant.
	EnsureSingletonNode(dbc dbctx.Context, userID string, nodeType types.NodeType, label string) (*NodeWithMetadata, error)
	// EnsureDayNode returns the singleton Temporal node labeled YYYY-MM-DD
	// for the given date.
	EnsureDayNode(dbc dbctx.Context, userID string, date time.Time) (*NodeWithMetadata, error)
	FindDayNode(dbc dbctx.Context, userID, dayLabel string) (*NodeWithMetadata, error)

	UpdateMetadata(dbc dbctx.Context, userID, nodeID string, label, description *string, additional datatypes.JSON) error

	// DeleteNodeCascade removes the node plus its metadata, embeddings,
	// incident edges (and their embeddings), and source links.
	DeleteNodeCascade(dbc dbctx.Context, userID, nodeID string) error

	// TruncateLongLabels clips metadata labels over the maximum length and
	// reports how many rows changed.
	TruncateLongLabels(dbc dbctx.Context, userID string) (int64, error)
	CountNodes(dbc dbctx.Context, userID string) (int64, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{
		db:  db,
		log: baseLog.With("repo", "NodeRepo"),
	}
}

func (r *nodeRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *nodeRepo) InsertNodeWithMetadata(dbc dbctx.Context, in InsertNodeInput) (*NodeWithMetadata, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if !in.NodeType.Valid() {
		return nil, errs.Validationf("invalid node_type %q", in.NodeType)
	}

	now := time.Now().UTC()
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	node := &types.Node{
		ID:           typeid.New(typeid.PrefixNode),
		UserID:       in.UserID,
		NodeType:     in.NodeType,
		SingletonKey: in.singletonKey,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	meta := &types.NodeMetadata{
		ID:             typeid.New(typeid.PrefixNodeMetadata),
		NodeID:         node.ID,
		Label:          strings.TrimSpace(in.Label),
		Description:    strings.TrimSpace(in.Description),
		AdditionalData: in.AdditionalData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx := r.handle(dbc)
	if err := tx.Create(node).Error; err != nil {
		return nil, err
	}
	if err := tx.Create(meta).Error; err != nil {
		return nil, err
	}
	return &NodeWithMetadata{Node: node, Metadata: meta}, nil
}

func (r *nodeRepo) GetNodeWithMetadata(dbc dbctx.Context, userID, nodeID string) (*NodeWithMetadata, error) {
	rows, err := r.GetNodesWithMetadata(dbc, userID, []string{nodeID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *nodeRepo) GetNodesWithMetadata(dbc dbctx.Context, userID string, nodeIDs []string) ([]*NodeWithMetadata, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if len(nodeIDs) == 0 {
		return []*NodeWithMetadata{}, nil
	}
	tx := r.handle(dbc)

	var nodes []*types.Node
	if err := tx.Where("user_id = ? AND id IN ?", userID, nodeIDs).Find(&nodes).Error; err != nil {
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

func (r *nodeRepo) ListByType(dbc dbctx.Context, userID string, nodeTypes []types.NodeType, since *time.Time, limit int) ([]*NodeWithMetadata, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if len(nodeTypes) == 0 {
		return []*NodeWithMetadata{}, nil
	}
	tx := r.handle(dbc)

	q := tx.Where("user_id = ? AND node_type IN ?", userID, nodeTypes)
	if since != nil {
		q = q.Where("created_at >= ?", since.UTC())
	}
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var nodes []*types.Node
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

// ensureSingleton looks up (user, type, label); on miss it inserts with the
// singleton key, and on a lost unique race it rereads. The unique index on
// (user_id, singleton_key) makes concurrent callers converge on one row.
func (r *nodeRepo) ensureSingleton(dbc dbctx.Context, userID string, nodeType types.NodeType, label, description string, createdAt time.Time) (*NodeWithMetadata, error) {
	found, err := r.findByTypeAndLabel(dbc, userID, nodeType, label)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	key := singletonKey(nodeType, label)
	in := InsertNodeInput{
		UserID:       userID,
		NodeType:     nodeType,
		Label:        label,
		Description:  description,
		CreatedAt:    createdAt,
		singletonKey: &key,
	}

	// Node and metadata commit atomically so a caller that loses the unique
	// race rereads a complete pair, never a half-inserted singleton.
	var inserted *NodeWithMetadata
	var err2 error
	if dbc.Tx != nil {
		inserted, err2 = r.InsertNodeWithMetadata(dbc, in)
	} else {
		err2 = r.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			inserted, txErr = r.InsertNodeWithMetadata(dbctx.WithTx(dbc.Ctx, tx), in)
			return txErr
		})
	}
	if err2 == nil {
		return inserted, nil
	}
	err = err2
	if errs.KindOf(err) != errs.KindConflictIgnored {
		return nil, err
	}
	reread, rerr := r.findByTypeAndLabel(dbc, userID, nodeType, label)
	if rerr != nil {
		return nil, rerr
	}
	if reread == nil {
		return nil, errs.Logicf("singleton %s/%s vanished after losing insert race", nodeType, label)
	}
	return reread, nil
}

func singletonKey(nodeType types.NodeType, label string) string {
	return strings.ToLower(string(nodeType)) + ":" + label
}

// findByTypeAndLabel returns the oldest matching row so concurrent ensures
// converge deterministically.
func (r *nodeRepo) findByTypeAndLabel(dbc dbctx.Context, userID string, nodeType types.NodeType, label string) (*NodeWithMetadata, error) {
	tx := r.handle(dbc)

	var node types.Node
	err := tx.
		Joins("JOIN node_metadata ON node_metadata.node_id = nodes.id").
		Where("nodes.user_id = ? AND nodes.node_type = ? AND node_metadata.label = ?", userID, nodeType, label).
		Order("nodes.id").
		First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var meta types.NodeMetadata
	if err := tx.Where("node_id = ?", node.ID).First(&meta).Error; err != nil {
		return nil, err
	}
	return &NodeWithMetadata{Node: &node, Metadata: &meta}, nil
}

func (r *nodeRepo) EnsureAtlasNode(dbc dbctx.Context, userID, label string) (*NodeWithMetadata, error) {
	userID = strings.TrimSpace(userID)
	label = strings.TrimSpace(label)
	if userID == "" || label == "" {
		return nil, errs.Validationf("missing user_id/label")
	}
	return r.ensureSingleton(dbc, userID, types.NodeTypeAtlas, label, "", time.Time{})
}

func (r *nodeRepo) EnsureSingletonNode(dbc dbctx.Context, userID string, nodeType types.NodeType, label string) (*NodeWithMetadata, error) {
	userID = strings.TrimSpace(userID)
	label = strings.TrimSpace(label)
	if userID == "" || label == "" {
		return nil, errs.Validationf("missing user_id/label")
	}
	if !nodeType.Valid() {
		return nil, errs.Validationf("invalid node type %q", nodeType)
	}
	return r.ensureSingleton(dbc, userID, nodeType, label, "", time.Time{})
}

// DayLabel formats a date as the label day nodes are keyed by.
func DayLabel(date time.Time) string {
	return date.UTC().Format("2006-01-02")
}

func (r *nodeRepo) EnsureDayNode(dbc dbctx.Context, userID string, date time.Time) (*NodeWithMetadata, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.Validationf("missing user_id")
	}
	if date.IsZero() {
		return nil, errs.Validationf("missing date")
	}
	label := DayLabel(date)
	// Day nodes are found by label, never by timestamp: two calls with
	// different times on the same date must hit the same row.
	dayStart := time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return r.ensureSingleton(dbc, userID, types.NodeTypeTemporal, label, "", dayStart)
}

func (r *nodeRepo) FindDayNode(dbc dbctx.Context, userID, dayLabel string) (*NodeWithMetadata, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(dayLabel) == "" {
		return nil, errs.Validationf("missing user_id/day label")
	}
	return r.findByTypeAndLabel(dbc, userID, types.NodeTypeTemporal, strings.TrimSpace(dayLabel))
}

func (r *nodeRepo) UpdateMetadata(dbc dbctx.Context, userID, nodeID string, label, description *string, additional datatypes.JSON) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(nodeID) == "" {
		return errs.Validationf("missing user_id/node_id")
	}
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if label != nil {
		updates["label"] = strings.TrimSpace(*label)
	}
	if description != nil {
		updates["description"] = *description
	}
	if additional != nil {
		updates["additional_data"] = additional
	}

	tx := r.handle(dbc)
	res := tx.Model(&types.NodeMetadata{}).
		Where("node_id = ? AND node_id IN (SELECT id FROM nodes WHERE user_id = ?)", nodeID, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.Logicf("node %s has no metadata row for user", nodeID)
	}
	return nil
}

func (r *nodeRepo) DeleteNodeCascade(dbc dbctx.Context, userID, nodeID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(nodeID) == "" {
		return errs.Validationf("missing user_id/node_id")
	}
	tx := r.handle(dbc)

	var node types.Node
	err := tx.Where("user_id = ? AND id = ?", userID, nodeID).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Incident edges first, then their embeddings, then the node's own
	// dependents. Order keeps no orphan behind if the context is cancelled
	// mid-way inside a caller transaction.
	var edgeIDs []string
	if err := tx.Model(&types.Edge{}).
		Where("user_id = ? AND (source_node_id = ? OR target_node_id = ?)", userID, nodeID, nodeID).
		Pluck("id", &edgeIDs).Error; err != nil {
		return err
	}
	if len(edgeIDs) > 0 {
		if err := tx.Where("edge_id IN ?", edgeIDs).Delete(&types.EdgeEmbedding{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", edgeIDs).Delete(&types.Edge{}).Error; err != nil {
			return err
		}
	}

	if err := tx.Where("node_id = ?", nodeID).Delete(&types.NodeEmbedding{}).Error; err != nil {
		return err
	}
	if err := tx.Where("node_id = ?", nodeID).Delete(&types.SourceLink{}).Error; err != nil {
		return err
	}
	if err := tx.Where("canonical_node_id = ?", nodeID).Delete(&types.Alias{}).Error; err != nil {
		return err
	}
	if err := tx.Where("node_id = ?", nodeID).Delete(&types.NodeMetadata{}).Error; err != nil {
		return err
	}
	return tx.Where("user_id = ? AND id = ?", userID, nodeID).Delete(&types.Node{}).Error
}

func (r *nodeRepo) TruncateLongLabels(dbc dbctx.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errs.Validationf("missing user_id")
	}
	tx := r.handle(dbc)

	type longRow struct {
		ID    string
		Label string
	}
	var rows []longRow
	if err := tx.Model(&types.NodeMetadata{}).
		Select("node_metadata.id, node_metadata.label").
		Joins("JOIN nodes ON nodes.id = node_metadata.node_id").
		Where("nodes.user_id = ? AND length(node_metadata.label) > ?", userID, types.MaxLabelLength).
		Scan(&rows).Error; err != nil {
		return 0, err
	}

	var changed int64
	for _, row := range rows {
		clipped := truncateLabel(row.Label, types.MaxLabelLength)
		res := tx.Model(&types.NodeMetadata{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{"label": clipped, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			r.log.Warn("label truncate failed", "metadata_id", row.ID, "error", res.Error)
			continue
		}
		changed += res.RowsAffected
	}
	return changed, nil
}

// truncateLabel clips on rune boundaries so multi-byte labels stay valid.
func truncateLabel(label string, max int) string {
	runes := []rune(label)
	if len(runes) <= max {
		return label
	}
	return string(runes[:max])
}

func (r *nodeRepo) CountNodes(dbc dbctx.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errs.Validationf("missing user_id")
	}
	var n int64
	if err := r.handle(dbc).Model(&types.Node{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
