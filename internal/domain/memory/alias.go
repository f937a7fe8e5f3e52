package memory

import "time"

// Alias records an alternate surface form for a node so later extractions
// can resolve "my sister" and "Dana" to the same canonical entity.
type Alias struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;uniqueIndex:idx_aliases_user_text_node" json:"user_id"`

	Text            string `gorm:"type:text;not null;uniqueIndex:idx_aliases_user_text_node" json:"text"`
	CanonicalNodeID string `gorm:"type:text;not null;uniqueIndex:idx_aliases_user_text_node;index" json:"canonical_node_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Alias) TableName() string { return "aliases" }
