package memory

import (
	"time"

	"gorm.io/datatypes"
)

// NodeType is fixed at creation. Everything the graph knows about a node
// besides its type lives on NodeMetadata so cleanup can rewrite labels and
// descriptions without touching the node row.
type NodeType string

const (
	NodeTypePerson         NodeType = "Person"
	NodeTypeLocation       NodeType = "Location"
	NodeTypeEvent          NodeType = "Event"
	NodeTypeObject         NodeType = "Object"
	NodeTypeEmotion        NodeType = "Emotion"
	NodeTypeConcept        NodeType = "Concept"
	NodeTypeMedia          NodeType = "Media"
	NodeTypeTemporal       NodeType = "Temporal"
	NodeTypeConversation   NodeType = "Conversation"
	NodeTypeAtlas          NodeType = "Atlas"
	NodeTypeAssistantDream NodeType = "AssistantDream"
	NodeTypeDocument       NodeType = "Document"
)

// AllNodeTypes lists every valid NodeType in declaration order. Prompt
// builders enumerate these so the LLM cannot invent new kinds.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeTypePerson,
		NodeTypeLocation,
		NodeTypeEvent,
		NodeTypeObject,
		NodeTypeEmotion,
		NodeTypeConcept,
		NodeTypeMedia,
		NodeTypeTemporal,
		NodeTypeConversation,
		NodeTypeAtlas,
		NodeTypeAssistantDream,
		NodeTypeDocument,
	}
}

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePerson, NodeTypeLocation, NodeTypeEvent, NodeTypeObject,
		NodeTypeEmotion, NodeTypeConcept, NodeTypeMedia, NodeTypeTemporal,
		NodeTypeConversation, NodeTypeAtlas, NodeTypeAssistantDream,
		NodeTypeDocument:
		return true
	}
	return false
}

type Node struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;index:idx_nodes_user_type;uniqueIndex:idx_nodes_user_singleton" json:"user_id"`

	NodeType NodeType `gorm:"type:text;not null;index:idx_nodes_user_type" json:"node_type"`

	// SingletonKey is set only on singleton nodes (Atlas documents, day
	// nodes) so the schema enforces at most one per (user, key). NULL for
	// ordinary nodes.
	SingletonKey *string `gorm:"type:text;uniqueIndex:idx_nodes_user_singleton" json:"singleton_key,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Node) TableName() string { return "nodes" }

type NodeMetadata struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	NodeID string `gorm:"type:text;not null;uniqueIndex" json:"node_id"`

	Label       string `gorm:"type:text;not null;default:'';index" json:"label"`
	Description string `gorm:"type:text;not null;default:''" json:"description"`

	AdditionalData datatypes.JSON `gorm:"type:jsonb" json:"additional_data,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (NodeMetadata) TableName() string { return "node_metadata" }

// MaxLabelLength bounds metadata labels. TruncateLongLabels enforces it
// retroactively for rows written before the bound existed.
const MaxLabelLength = 255
