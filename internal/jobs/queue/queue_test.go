package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		ID:         "0b8f6c2e-4d1a-4e61-9b1a-1f2e3d4c5b6a",
		Name:       "ingest-conversation",
		Payload:    json.RawMessage(`{"userId":"u1","conversationId":"c1"}`),
		Attempt:    2,
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != env.ID || got.Name != env.Name || got.Attempt != 2 {
		t.Fatalf("fields lost: %#v", got)
	}
	if string(got.Payload) != string(env.Payload) {
		t.Fatalf("payload not preserved byte-for-byte: %s", got.Payload)
	}
	if !got.EnqueuedAt.Equal(env.EnqueuedAt) {
		t.Fatalf("timestamp drifted: %v", got.EnqueuedAt)
	}
}

func TestOriginalDataMatchesClaimedBytes(t *testing.T) {
	env := Envelope{
		ID:         "job-1",
		Name:       "summarize",
		Payload:    json.RawMessage(`{"userId":"u1"}`),
		Attempt:    0,
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	wire, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Claiming bumps the attempt; the processing list still holds the
	// pre-bump bytes.
	claimed := env
	claimed.Attempt++

	q := &Queue{}
	if got := q.originalData(&claimed); got != string(wire) {
		t.Fatalf("reconstructed bytes differ:\n  want %s\n  got  %s", wire, got)
	}
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{10, 5 * time.Minute},
		{100, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := Backoff(c.attempt); got != c.want {
			t.Fatalf("Backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
