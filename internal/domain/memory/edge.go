package memory

import (
	"time"

	"gorm.io/datatypes"
)

type EdgeType string

const (
	EdgeTypeParticipatedIn   EdgeType = "PARTICIPATED_IN"
	EdgeTypeOccurredAt       EdgeType = "OCCURRED_AT"
	EdgeTypeOccurredOn       EdgeType = "OCCURRED_ON"
	EdgeTypeInvolvedItem     EdgeType = "INVOLVED_ITEM"
	EdgeTypeExhibitedEmotion EdgeType = "EXHIBITED_EMOTION"
	EdgeTypeTaggedWith       EdgeType = "TAGGED_WITH"
	EdgeTypeOwnedBy          EdgeType = "OWNED_BY"
	EdgeTypeMentionedIn      EdgeType = "MENTIONED_IN"
	EdgeTypePrecedes         EdgeType = "PRECEDES"
	EdgeTypeFollows          EdgeType = "FOLLOWS"
	EdgeTypeRelatedTo        EdgeType = "RELATED_TO"
	EdgeTypeCapturedIn       EdgeType = "CAPTURED_IN"
)

func AllEdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeTypeParticipatedIn,
		EdgeTypeOccurredAt,
		EdgeTypeOccurredOn,
		EdgeTypeInvolvedItem,
		EdgeTypeExhibitedEmotion,
		EdgeTypeTaggedWith,
		EdgeTypeOwnedBy,
		EdgeTypeMentionedIn,
		EdgeTypePrecedes,
		EdgeTypeFollows,
		EdgeTypeRelatedTo,
		EdgeTypeCapturedIn,
	}
}

func (t EdgeType) Valid() bool {
	switch t {
	case EdgeTypeParticipatedIn, EdgeTypeOccurredAt, EdgeTypeOccurredOn,
		EdgeTypeInvolvedItem, EdgeTypeExhibitedEmotion, EdgeTypeTaggedWith,
		EdgeTypeOwnedBy, EdgeTypeMentionedIn, EdgeTypePrecedes,
		EdgeTypeFollows, EdgeTypeRelatedTo, EdgeTypeCapturedIn:
		return true
	}
	return false
}

// Edge endpoints must belong to the same user and differ from each other.
// The (source, target, type) triple is unique; batch inserts skip conflicts.
type Edge struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;index" json:"user_id"`

	SourceNodeID string   `gorm:"type:text;not null;uniqueIndex:idx_edges_src_tgt_type;index" json:"source_node_id"`
	TargetNodeID string   `gorm:"type:text;not null;uniqueIndex:idx_edges_src_tgt_type;index" json:"target_node_id"`
	EdgeType     EdgeType `gorm:"type:text;not null;uniqueIndex:idx_edges_src_tgt_type" json:"edge_type"`

	Description string         `gorm:"type:text;not null;default:''" json:"description"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Edge) TableName() string { return "edges" }
