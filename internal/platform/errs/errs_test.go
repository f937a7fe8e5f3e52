package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Transientf("store timeout")
	wrapped := fmt.Errorf("ingest conversation: %w", base)
	if !IsTransient(wrapped) {
		t.Fatalf("expected transient, got %v", KindOf(wrapped))
	}
	if IsValidation(wrapped) {
		t.Fatalf("wrapped transient reported as validation")
	}
}

func TestMarkNil(t *testing.T) {
	if Mark(KindLogic, nil) != nil {
		t.Fatalf("marking nil should stay nil")
	}
}

func TestClassifyPgCodes(t *testing.T) {
	cases := []struct {
		code string
		want Kind
	}{
		{"23505", KindConflictIgnored},
		{"23503", KindValidation},
		{"23502", KindValidation},
		{"40001", KindTransient},
		{"40P01", KindTransient},
		{"08006", KindTransient},
		{"53300", KindTransient},
		{"42703", KindUnknown},
	}
	for _, c := range cases {
		err := fmt.Errorf("query: %w", &pgconn.PgError{Code: c.code})
		if got := KindOf(err); got != c.want {
			t.Fatalf("code %s: got %v want %v", c.code, got, c.want)
		}
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	err := fmt.Errorf("embed: %w", context.DeadlineExceeded)
	if !IsTransient(err) {
		t.Fatalf("deadline should classify transient")
	}
}

func TestExplicitKindWinsOverClassification(t *testing.T) {
	pg := &pgconn.PgError{Code: "23505"}
	err := Mark(KindValidation, fmt.Errorf("insert: %w", pg))
	if !IsValidation(err) {
		t.Fatalf("explicit kind should win, got %v", KindOf(err))
	}
}

func TestKindString(t *testing.T) {
	if KindLLMParse.String() != "llm_parse" {
		t.Fatalf("unexpected: %s", KindLLMParse.String())
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors are unknown")
	}
}
