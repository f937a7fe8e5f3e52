package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// Migrate applies the schema: the pgvector extension, every gorm model, then
// the indices AutoMigrate cannot express (HNSW cosine on the embedding
// vectors and the composite B-trees retrieval depends on). Gated behind
// RUN_MIGRATIONS so deployments can pin schema changes to one instance.
func Migrate(handle *gorm.DB, logg *logger.Logger) error {
	if handle == nil {
		return fmt.Errorf("db handle required")
	}

	isPostgres := handle.Dialector.Name() == "postgres"

	if isPostgres {
		if err := handle.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			return fmt.Errorf("enable vector extension: %w", err)
		}
	}

	if err := handle.AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if isPostgres {
		// HNSW indices only exist on Postgres; the sqlite test path stores
		// vectors as opaque blobs and never runs similarity SQL.
		stmts := []string{
			`CREATE INDEX IF NOT EXISTS idx_node_embeddings_vector_hnsw
				ON node_embeddings USING hnsw (vector vector_cosine_ops)`,
			`CREATE INDEX IF NOT EXISTS idx_edge_embeddings_vector_hnsw
				ON edge_embeddings USING hnsw (vector vector_cosine_ops)`,
			`CREATE INDEX IF NOT EXISTS idx_edges_user_src ON edges (user_id, source_node_id)`,
			`CREATE INDEX IF NOT EXISTS idx_edges_user_tgt ON edges (user_id, target_node_id)`,
			`CREATE INDEX IF NOT EXISTS idx_edges_user_type ON edges (user_id, edge_type)`,
		}
		for _, stmt := range stmts {
			if err := handle.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
	}

	if logg != nil {
		logg.Info("migrations applied", "dialect", handle.Dialector.Name())
	}
	return nil
}
