package repos

import (
	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/repos/graph"
	"github.com/engramlabs/engram-backend/internal/data/repos/search"
	"github.com/engramlabs/engram-backend/internal/data/repos/sources"
	"github.com/engramlabs/engram-backend/internal/data/repos/users"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

type UserRepo = users.UserRepo
type ProfileRepo = users.ProfileRepo

type NodeRepo = graph.NodeRepo
type EdgeRepo = graph.EdgeRepo
type EmbeddingRepo = graph.EmbeddingRepo
type AliasRepo = graph.AliasRepo

type SourceRepo = sources.SourceRepo
type SourceLinkRepo = sources.SourceLinkRepo

type SearchRepo = search.SearchRepo

// Result and input shapes callers pass across module boundaries.
type NodeWithMetadata = graph.NodeWithMetadata
type InsertNodeInput = graph.InsertNodeInput
type InsertEdgeInput = graph.InsertEdgeInput
type NodeEmbeddingInput = graph.NodeEmbeddingInput
type EdgeEmbeddingInput = graph.EdgeEmbeddingInput
type UpsertSourceInput = sources.UpsertSourceInput
type SourceLinkInput = sources.SourceLinkInput

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return users.NewUserRepo(db, baseLog)
}
func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return users.NewProfileRepo(db, baseLog)
}
func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return graph.NewNodeRepo(db, baseLog)
}
func NewEdgeRepo(db *gorm.DB, baseLog *logger.Logger) EdgeRepo {
	return graph.NewEdgeRepo(db, baseLog)
}
func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return graph.NewEmbeddingRepo(db, baseLog)
}
func NewAliasRepo(db *gorm.DB, baseLog *logger.Logger) AliasRepo {
	return graph.NewAliasRepo(db, baseLog)
}
func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return sources.NewSourceRepo(db, baseLog)
}
func NewSourceLinkRepo(db *gorm.DB, baseLog *logger.Logger) SourceLinkRepo {
	return sources.NewSourceLinkRepo(db, baseLog)
}
func NewSearchRepo(db *gorm.DB, baseLog *logger.Logger) SearchRepo {
	return search.NewSearchRepo(db, baseLog)
}

// All bundles every repository for dependency injection into modules and
// job pipelines.
type All struct {
	Users    UserRepo
	Profiles ProfileRepo

	Nodes      NodeRepo
	Edges      EdgeRepo
	Embeddings EmbeddingRepo
	Aliases    AliasRepo

	Sources     SourceRepo
	SourceLinks SourceLinkRepo

	Search SearchRepo
}

func NewAll(db *gorm.DB, baseLog *logger.Logger) *All {
	return &All{
		Users:       NewUserRepo(db, baseLog),
		Profiles:    NewProfileRepo(db, baseLog),
		Nodes:       NewNodeRepo(db, baseLog),
		Edges:       NewEdgeRepo(db, baseLog),
		Embeddings:  NewEmbeddingRepo(db, baseLog),
		Aliases:     NewAliasRepo(db, baseLog),
		Sources:     NewSourceRepo(db, baseLog),
		SourceLinks: NewSourceLinkRepo(db, baseLog),
		Search:      NewSearchRepo(db, baseLog),
	}
}
