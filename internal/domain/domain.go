package domain

import (
	"github.com/engramlabs/engram-backend/internal/domain/memory"
	"github.com/engramlabs/engram-backend/internal/domain/user"
)

type User = user.User
type UserProfile = user.UserProfile

type Node = memory.Node
type NodeMetadata = memory.NodeMetadata
type Edge = memory.Edge
type NodeEmbedding = memory.NodeEmbedding
type EdgeEmbedding = memory.EdgeEmbedding
type Alias = memory.Alias
type Source = memory.Source
type SourceLink = memory.SourceLink

type NodeType = memory.NodeType
type EdgeType = memory.EdgeType
type SourceType = memory.SourceType
type SourceStatus = memory.SourceStatus

const (
	NodeTypePerson         = memory.NodeTypePerson
	NodeTypeLocation       = memory.NodeTypeLocation
	NodeTypeEvent          = memory.NodeTypeEvent
	NodeTypeObject         = memory.NodeTypeObject
	NodeTypeEmotion        = memory.NodeTypeEmotion
	NodeTypeConcept        = memory.NodeTypeConcept
	NodeTypeMedia          = memory.NodeTypeMedia
	NodeTypeTemporal       = memory.NodeTypeTemporal
	NodeTypeConversation   = memory.NodeTypeConversation
	NodeTypeAtlas          = memory.NodeTypeAtlas
	NodeTypeAssistantDream = memory.NodeTypeAssistantDream
	NodeTypeDocument       = memory.NodeTypeDocument
)

const (
	EdgeTypeParticipatedIn   = memory.EdgeTypeParticipatedIn
	EdgeTypeOccurredAt       = memory.EdgeTypeOccurredAt
	EdgeTypeOccurredOn       = memory.EdgeTypeOccurredOn
	EdgeTypeInvolvedItem     = memory.EdgeTypeInvolvedItem
	EdgeTypeExhibitedEmotion = memory.EdgeTypeExhibitedEmotion
	EdgeTypeTaggedWith       = memory.EdgeTypeTaggedWith
	EdgeTypeOwnedBy          = memory.EdgeTypeOwnedBy
	EdgeTypeMentionedIn      = memory.EdgeTypeMentionedIn
	EdgeTypePrecedes         = memory.EdgeTypePrecedes
	EdgeTypeFollows          = memory.EdgeTypeFollows
	EdgeTypeRelatedTo        = memory.EdgeTypeRelatedTo
	EdgeTypeCapturedIn       = memory.EdgeTypeCapturedIn
)

const (
	SourceTypeConversation        = memory.SourceTypeConversation
	SourceTypeConversationMessage = memory.SourceTypeConversationMessage
	SourceTypeDocument            = memory.SourceTypeDocument
)

const (
	SourceStatusPending    = memory.SourceStatusPending
	SourceStatusProcessing = memory.SourceStatusProcessing
	SourceStatusCompleted  = memory.SourceStatusCompleted
	SourceStatusFailed     = memory.SourceStatusFailed
	SourceStatusSummarized = memory.SourceStatusSummarized
)

const (
	EmbeddingDim   = memory.EmbeddingDim
	MaxLabelLength = memory.MaxLabelLength
)

// AllModels feeds AutoMigrate. Order matters only for readability; the
// migrator resolves dependencies itself.
func AllModels() []any {
	return []any{
		&User{},
		&UserProfile{},
		&Node{},
		&NodeMetadata{},
		&Edge{},
		&NodeEmbedding{},
		&EdgeEmbedding{},
		&Alias{},
		&Source{},
		&SourceLink{},
	}
}

func AllNodeTypes() []NodeType { return memory.AllNodeTypes() }
func AllEdgeTypes() []EdgeType { return memory.AllEdgeTypes() }
