package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/engramlabs/engram-backend/internal/jobs/queue"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

func testContext(t *testing.T, payload string) *Context {
	t.Helper()
	log, err := logger.New("development", false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewContext(context.Background(), log, &queue.Envelope{
		ID:      "job-1",
		Name:    "summarize",
		Payload: json.RawMessage(payload),
		Attempt: 1,
	})
}

func TestDecodeTypedPayload(t *testing.T) {
	jc := testContext(t, `{"userId":"u1"}`)

	var body struct {
		UserID string `json:"userId"`
	}
	if err := jc.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "u1" {
		t.Fatalf("wrong userId: %q", body.UserID)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	jc := testContext(t, `{"userId":"u1","extra":"boom"}`)

	var body struct {
		UserID string `json:"userId"`
	}
	err := jc.Decode(&body)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	// Drifted payloads must dead-letter, not retry.
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation kind, got %v", errs.KindOf(err))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubHandler{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(stubHandler{}); err == nil {
		t.Fatal("duplicate register should fail")
	}
	if _, ok := r.Get("stub"); !ok {
		t.Fatal("handler not retrievable")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected handler for unregistered name")
	}
}

type stubHandler struct{}

func (stubHandler) Type() string          { return "stub" }
func (stubHandler) Run(jc *Context) error { return nil }
