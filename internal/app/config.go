package app

import (
	"github.com/engramlabs/engram-backend/internal/platform/envutil"
)

// Config is a snapshot of the process environment taken once at startup.
// Client packages that own a remote connection (postgres, redis, jina,
// openai, minio) read their own keys; everything the wiring itself needs
// lives here.
type Config struct {
	Port string
	Env  string

	JWTSecret string

	RunMigrations bool
	DebugLogs     bool

	WorkerConcurrency int
	JobMaxAttempts    int

	GraphExtractionModelID string

	DreamProbability          float64
	DreamSelectionProbability float64
}

func LoadConfig() Config {
	return Config{
		Port:                      envutil.Str("PORT", "8080"),
		Env:                       envutil.Str("ENV", "development"),
		JWTSecret:                 envutil.Str("JWT_SECRET", ""),
		RunMigrations:             envutil.Bool("RUN_MIGRATIONS", false),
		DebugLogs:                 envutil.Bool("DEBUG_LOGS", false),
		WorkerConcurrency:         envutil.Int("WORKER_CONCURRENCY", 4),
		JobMaxAttempts:            envutil.Int("JOB_MAX_ATTEMPTS", 5),
		GraphExtractionModelID:    envutil.Str("MODEL_ID_GRAPH_EXTRACTION", ""),
		DreamProbability:          envutil.Float("DREAM_PROBABILITY", 0.1),
		DreamSelectionProbability: envutil.Float("DREAM_SELECTION_PROBABILITY", 0.4),
	}
}
