package runtime

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/engramlabs/engram-backend/internal/jobs/queue"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// Context is the execution handle for one claimed job. Handlers decode
// their payload through it and report failure by returning an error; the
// worker owns ack, retry and dead-letter decisions.
type Context struct {
	Ctx context.Context
	Log *logger.Logger
	Env *queue.Envelope
}

func NewContext(ctx context.Context, baseLog *logger.Logger, env *queue.Envelope) *Context {
	return &Context{
		Ctx: ctx,
		Log: baseLog.With("job_id", env.ID, "job_name", env.Name, "attempt", env.Attempt),
		Env: env,
	}
}

// Decode unmarshals the envelope payload into v, rejecting unknown fields
// so a malformed or mis-routed payload dead-letters instead of half-running.
func (c *Context) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(c.Env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("decode %s payload: %v", c.Env.Name, err)
	}
	return nil
}
