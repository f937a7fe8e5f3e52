package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/typeid"
)

var userSeq atomic.Int64

// SeedUser creates a unique user row for one test.
func SeedUser(tb testing.TB, db *gorm.DB) string {
	tb.Helper()
	id := fmt.Sprintf("test-user-%d-%d", time.Now().UnixNano(), userSeq.Add(1))
	now := time.Now().UTC()
	if err := db.Create(&types.User{ID: id, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return id
}

// SeedNode creates a node with metadata and returns the node id.
func SeedNode(tb testing.TB, db *gorm.DB, userID string, nodeType types.NodeType, label, description string) string {
	tb.Helper()
	now := time.Now().UTC()
	node := &types.Node{
		ID:        typeid.New(typeid.PrefixNode),
		UserID:    userID,
		NodeType:  nodeType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(node).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	meta := &types.NodeMetadata{
		ID:          typeid.New(typeid.PrefixNodeMetadata),
		NodeID:      node.ID,
		Label:       label,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(meta).Error; err != nil {
		tb.Fatalf("seed node metadata: %v", err)
	}
	return node.ID
}

// SeedEdge connects two nodes and returns the edge id.
func SeedEdge(tb testing.TB, db *gorm.DB, userID, srcID, tgtID string, edgeType types.EdgeType, description string) string {
	tb.Helper()
	edge := &types.Edge{
		ID:           typeid.New(typeid.PrefixEdge),
		UserID:       userID,
		SourceNodeID: srcID,
		TargetNodeID: tgtID,
		EdgeType:     edgeType,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.Create(edge).Error; err != nil {
		tb.Fatalf("seed edge: %v", err)
	}
	return edge.ID
}

// SeedSource creates a source row and returns its id.
func SeedSource(tb testing.TB, db *gorm.DB, userID string, sourceType types.SourceType, externalID string, parent *string) string {
	tb.Helper()
	now := time.Now().UTC()
	src := &types.Source{
		ID:             typeid.New(typeid.PrefixSource),
		UserID:         userID,
		Type:           sourceType,
		ExternalID:     externalID,
		ParentSourceID: parent,
		Status:         types.SourceStatusPending,
		LastIngestedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(src).Error; err != nil {
		tb.Fatalf("seed source: %v", err)
	}
	return src.ID
}
