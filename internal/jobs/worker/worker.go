package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/engramlabs/engram-backend/internal/jobs/queue"
	"github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

const (
	DefaultConcurrency = 4

	reaperInterval = 5 * time.Second
)

// Worker hosts a pool of goroutines claiming jobs off the queue and
// dispatching them through the registry, plus a reaper promoting due
// retries. Run blocks until ctx is canceled and all in-flight jobs have
// drained.
type Worker struct {
	queue       *queue.Queue
	registry    *runtime.Registry
	log         *logger.Logger
	concurrency int
}

func New(q *queue.Queue, registry *runtime.Registry, baseLog *logger.Logger, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		queue:       q,
		registry:    registry,
		log:         baseLog.With("component", "JobWorker"),
		concurrency: concurrency,
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.log.Info("starting worker pool", "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		workerID := "worker-" + strconv.Itoa(i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx, workerID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reaperLoop(ctx)
	}()

	wg.Wait()
	w.log.Info("worker pool drained")
}

func (w *Worker) claimLoop(ctx context.Context, workerID string) {
	log := w.log.With("worker_id", workerID)
	for {
		if ctx.Err() != nil {
			log.Info("claim loop stopped")
			return
		}
		env, err := w.queue.Claim(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("claim failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if env == nil {
			continue
		}
		w.dispatch(ctx, workerID, env)
	}
}

// dispatch runs one claimed job to completion. Success acks; on error the
// kind decides the fate: Validation and LLMParse dead-letter, everything
// else retries with backoff.
func (w *Worker) dispatch(ctx context.Context, workerID string, env *queue.Envelope) {
	tracer := otel.Tracer("jobs")
	jobCtx, span := tracer.Start(ctx, "job.run")
	span.SetAttributes(
		attribute.String("job.id", env.ID),
		attribute.String("job.name", env.Name),
		attribute.Int("job.attempt", env.Attempt),
	)
	defer span.End()

	jc := runtime.NewContext(jobCtx, w.log, env)

	h, ok := w.registry.Get(env.Name)
	if !ok {
		jc.Log.Warn("no handler registered")
		span.SetStatus(codes.Error, "no handler")
		w.finish(ctx, workerID, env, errs.Validationf("no handler registered for job_name=%s", env.Name))
		return
	}

	runErr := w.runProtected(jc, h)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	w.finish(ctx, workerID, env, runErr)
}

// runProtected converts a handler panic into a job error so one bad job
// cannot take the pool down.
func (w *Worker) runProtected(jc *runtime.Context, h runtime.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jc.Log.Error("job handler panic", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(jc)
}

func (w *Worker) finish(ctx context.Context, workerID string, env *queue.Envelope, runErr error) {
	// Ack/retry must land even if the job context was canceled mid-run.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := w.queue.Ack(opCtx, workerID, env); err != nil {
			w.log.Warn("ack failed", "job_id", env.ID, "error", err)
		}
		return
	}

	switch errs.KindOf(runErr) {
	case errs.KindValidation, errs.KindLLMParse:
		w.log.Warn("job dead-lettered",
			"job_id", env.ID, "job_name", env.Name, "error", runErr)
		if err := w.queue.DeadLetter(opCtx, workerID, env); err != nil {
			w.log.Warn("dead-letter failed", "job_id", env.ID, "error", err)
		}
	default:
		w.log.Warn("job failed, retrying",
			"job_id", env.ID, "job_name", env.Name, "attempt", env.Attempt, "error", runErr)
		if err := w.queue.Retry(opCtx, workerID, env); err != nil {
			w.log.Warn("retry scheduling failed", "job_id", env.ID, "error", err)
		}
	}
}

func (w *Worker) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := w.queue.PromoteDueRetries(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("retry promotion failed", "error", err)
				}
				continue
			}
			if moved > 0 {
				w.log.Debug("promoted retries", "count", moved)
			}
		}
	}
}
