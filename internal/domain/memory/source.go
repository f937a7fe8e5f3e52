package memory

import (
	"time"

	"gorm.io/datatypes"
)

type SourceType string

const (
	SourceTypeConversation        SourceType = "conversation"
	SourceTypeConversationMessage SourceType = "conversation_message"
	SourceTypeDocument            SourceType = "document"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeConversation, SourceTypeConversationMessage, SourceTypeDocument:
		return true
	}
	return false
}

type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
	SourceStatusSummarized SourceStatus = "summarized"
)

func (s SourceStatus) Valid() bool {
	switch s {
	case SourceStatusPending, SourceStatusProcessing, SourceStatusCompleted,
		SourceStatusFailed, SourceStatusSummarized:
		return true
	}
	return false
}

// Source tracks one ingested artifact. ExternalID is the caller's id for the
// conversation, message, or document; re-ingesting the same artifact updates
// the existing row instead of creating a second one.
type Source struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;uniqueIndex:idx_sources_user_type_ext" json:"user_id"`

	Type       SourceType `gorm:"type:text;not null;uniqueIndex:idx_sources_user_type_ext" json:"type"`
	ExternalID string     `gorm:"type:text;not null;uniqueIndex:idx_sources_user_type_ext" json:"external_id"`

	ParentSourceID *string `gorm:"type:text;index" json:"parent_source_id,omitempty"`

	Status         SourceStatus `gorm:"type:text;not null;default:'pending';index" json:"status"`
	LastIngestedAt time.Time    `gorm:"not null" json:"last_ingested_at"`

	Metadata      datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	ContentType   string         `gorm:"type:text;not null;default:''" json:"content_type"`
	ContentLength *int64         `json:"content_length,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Source) TableName() string { return "sources" }

// SourceLink ties a node to the source it was extracted from.
// SpecificLocation narrows the provenance, usually to a message id.
type SourceLink struct {
	ID       string `gorm:"type:text;primaryKey" json:"id"`
	SourceID string `gorm:"type:text;not null;uniqueIndex:idx_source_links_src_node" json:"source_id"`
	NodeID   string `gorm:"type:text;not null;uniqueIndex:idx_source_links_src_node;index" json:"node_id"`

	SpecificLocation string `gorm:"type:text;not null;default:''" json:"specific_location"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (SourceLink) TableName() string { return "source_links" }
