package memory

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the only vector width the store accepts. The embedding
// client requests this dimension explicitly so model upgrades cannot change
// the column shape by accident.
const EmbeddingDim = 1024

type NodeEmbedding struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	NodeID string `gorm:"type:text;not null;index" json:"node_id"`

	Vector    pgvector.Vector `gorm:"type:vector(1024)" json:"vector"`
	ModelName string          `gorm:"type:text;not null" json:"model_name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (NodeEmbedding) TableName() string { return "node_embeddings" }

type EdgeEmbedding struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	EdgeID string `gorm:"type:text;not null;index" json:"edge_id"`

	Vector    pgvector.Vector `gorm:"type:vector(1024)" json:"vector"`
	ModelName string          `gorm:"type:text;not null" json:"model_name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (EdgeEmbedding) TableName() string { return "edge_embeddings" }
