package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

const (
	keyReady            = "jobs:ready"
	keyProcessingPrefix = "jobs:processing:"
	keyRetry            = "jobs:retry"
	keyDead             = "jobs:dead"

	DefaultMaxAttempts = 5

	claimTimeout = 1 * time.Second
	baseBackoff  = 5 * time.Second
	maxBackoff   = 5 * time.Minute
)

// Envelope is the wire form of one queued job. Payload stays raw so the
// handler owns decoding.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue is a durable Redis job queue: a ready list feeding per-worker
// processing lists via LMOVE, a retry zset scored by next-run time, and a
// dead-letter list for jobs past their attempt budget.
type Queue struct {
	rdb         *goredis.Client
	log         *logger.Logger
	maxAttempts int
}

func New(rdb *goredis.Client, baseLog *logger.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		rdb:         rdb,
		log:         baseLog.With("component", "JobQueue"),
		maxAttempts: maxAttempts,
	}
}

// Enqueue serializes body and pushes a fresh envelope onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, name string, body any) error {
	if name == "" {
		return errs.Validationf("job name is required")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return errs.Validationf("encode job payload: %v", err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errs.Validationf("encode job envelope: %v", err)
	}
	if err := q.rdb.LPush(ctx, keyReady, data).Err(); err != nil {
		return errs.Mark(errs.KindTransient, err)
	}
	q.log.Debug("job enqueued", "job_id", env.ID, "job_name", name)
	return nil
}

// Claim blocks up to one second moving the oldest ready job into the
// worker's processing list. A nil envelope means the queue was empty.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Envelope, error) {
	data, err := q.rdb.BLMove(ctx, keyReady, keyProcessingPrefix+workerID, "RIGHT", "LEFT", claimTimeout).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errs.Mark(errs.KindTransient, err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		// An envelope that never parses can only poison the queue.
		q.log.Warn("unparseable envelope moved to dead letter", "error", err)
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, keyProcessingPrefix+workerID, 1, data)
		pipe.LPush(ctx, keyDead, data)
		_, _ = pipe.Exec(ctx)
		return nil, nil
	}
	env.Attempt++
	return &env, nil
}

// Ack removes a finished job from the worker's processing list.
func (q *Queue) Ack(ctx context.Context, workerID string, env *Envelope) error {
	return q.remove(ctx, workerID, env)
}

// Retry reschedules a failed job with exponential backoff, or dead-letters
// it once the attempt budget is spent.
func (q *Queue) Retry(ctx context.Context, workerID string, env *Envelope) error {
	if env.Attempt >= q.maxAttempts {
		q.log.Warn("job exhausted attempts, dead-lettering",
			"job_id", env.ID, "job_name", env.Name, "attempt", env.Attempt)
		return q.DeadLetter(ctx, workerID, env)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errs.Validationf("encode job envelope: %v", err)
	}
	runAt := time.Now().UTC().Add(Backoff(env.Attempt))
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessingPrefix+workerID, 1, q.originalData(env))
	pipe.ZAdd(ctx, keyRetry, goredis.Z{Score: float64(runAt.Unix()), Member: data})
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Mark(errs.KindTransient, err)
	}
	q.log.Info("job scheduled for retry",
		"job_id", env.ID, "job_name", env.Name, "attempt", env.Attempt, "run_at", runAt)
	return nil
}

// DeadLetter parks a job on the dead list for operator inspection.
func (q *Queue) DeadLetter(ctx context.Context, workerID string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.Validationf("encode job envelope: %v", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessingPrefix+workerID, 1, q.originalData(env))
	pipe.LPush(ctx, keyDead, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Mark(errs.KindTransient, err)
	}
	return nil
}

// PromoteDueRetries moves retry entries whose time has come back onto the
// ready list and reports how many moved.
func (q *Queue) PromoteDueRetries(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, keyRetry, &goredis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return 0, errs.Mark(errs.KindTransient, err)
	}
	moved := 0
	for _, m := range members {
		pipe := q.rdb.TxPipeline()
		rem := pipe.ZRem(ctx, keyRetry, m)
		pipe.LPush(ctx, keyReady, m)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, errs.Mark(errs.KindTransient, err)
		}
		if rem.Val() > 0 {
			moved++
		}
	}
	return moved, nil
}

func (q *Queue) remove(ctx context.Context, workerID string, env *Envelope) error {
	if err := q.rdb.LRem(ctx, keyProcessingPrefix+workerID, 1, q.originalData(env)).Err(); err != nil {
		return errs.Mark(errs.KindTransient, err)
	}
	return nil
}

// originalData rebuilds the exact bytes sitting on the processing list: the
// envelope as claimed, before the attempt bump.
func (q *Queue) originalData(env *Envelope) string {
	claimed := *env
	claimed.Attempt = env.Attempt - 1
	data, _ := json.Marshal(claimed)
	return string(data)
}

// Backoff returns the delay before the given attempt is retried, doubling
// from five seconds and capped at five minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
