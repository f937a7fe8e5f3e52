package testutil

import (
	"errors"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	sqliteOnce sync.Once
	sqliteDB   *gorm.DB
	sqliteErr  error

	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test", false)
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a shared in-memory sqlite database migrated with every model.
// It covers CRUD and constraint behavior; vector similarity paths need
// PostgresDB.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	sqliteOnce.Do(func() {
		handle, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			TranslateError:                           true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			sqliteErr = err
			return
		}
		// Shared-cache in-memory sqlite misbehaves with connection churn.
		sqlDB, err := handle.DB()
		if err != nil {
			sqliteErr = err
			return
		}
		sqlDB.SetMaxOpenConns(1)

		if err := handle.AutoMigrate(types.AllModels()...); err != nil {
			sqliteErr = err
			return
		}
		sqliteDB = handle
	})
	if sqliteErr != nil {
		tb.Fatalf("failed to init sqlite test db: %v", sqliteErr)
	}
	return sqliteDB
}

// PostgresDB returns a Postgres handle for vector and DISTINCT ON paths,
// skipping the test when TEST_POSTGRES_DSN is unset.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		handle, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			TranslateError:                           true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			pgErr = err
			return
		}
		if err := handle.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			pgErr = err
			return
		}
		if err := handle.AutoMigrate(types.AllModels()...); err != nil {
			pgErr = err
			return
		}
		pgDB = handle
	})

	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run vector-path integration tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init postgres test db: %v", pgErr)
	}
	return pgDB
}
