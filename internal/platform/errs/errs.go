package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies failures for retry and reporting policy. Transient errors
// re-enqueue the owning job with backoff; Validation errors never retry;
// Logic errors skip the offending item and continue; ConflictIgnored is not
// an error at all, only a signal that an idempotent insert hit an existing
// row; LLMParse fails the job while preserving committed partial effects.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransient
	KindLogic
	KindConflictIgnored
	KindLLMParse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindLogic:
		return "logic"
	case KindConflictIgnored:
		return "conflict_ignored"
	case KindLLMParse:
		return "llm_parse"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Mark tags err with a kind without changing its message.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

func Validationf(format string, args ...any) error {
	return &kindError{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

func Transientf(format string, args ...any) error {
	return &kindError{kind: KindTransient, err: fmt.Errorf(format, args...)}
}

func Logicf(format string, args ...any) error {
	return &kindError{kind: KindLogic, err: fmt.Errorf(format, args...)}
}

func LLMParsef(format string, args ...any) error {
	return &kindError{kind: KindLLMParse, err: fmt.Errorf(format, args...)}
}

// KindOf walks the wrap chain and returns the first explicit kind, falling
// back to classification of well-known backend errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return classify(err)
}

func IsValidation(err error) bool      { return KindOf(err) == KindValidation }
func IsTransient(err error) bool       { return KindOf(err) == KindTransient }
func IsLogic(err error) bool           { return KindOf(err) == KindLogic }
func IsConflictIgnored(err error) bool { return KindOf(err) == KindConflictIgnored }
func IsLLMParse(err error) bool        { return KindOf(err) == KindLLMParse }

// classify maps driver-level errors onto kinds: unique violations are
// ConflictIgnored, constraint violations are Validation, connection and
// serialization classes are Transient.
func classify(err error) Kind {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return KindConflictIgnored
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return KindConflictIgnored
		case strings.HasPrefix(pgErr.Code, "23"):
			return KindValidation
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return KindTransient
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			pgErr.Code == "57P01":
			return KindTransient
		}
	}
	return KindUnknown
}
