package engine

import (
	"errors"
	"testing"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	var err error = &ValidationError{Field: "entity_id", Reason: "must not be empty"}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is(err, ErrValidation) to be true")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected errors.As to extract *ValidationError")
	}
}

func TestVersionConflictErrorMatchesSentinel(t *testing.T) {
	var err error = &VersionConflictError{StreamID: "s1", ExpectedVersion: 1, ActualVersion: 2}
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatal("expected errors.Is(err, ErrVersionConflict) to be true")
	}
}

func TestQuotaExceededErrorMatchesSentinel(t *testing.T) {
	var err error = &QuotaExceededError{TenantID: "t1", Quota: "events_per_day", Limit: 10, Usage: 11}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("expected errors.Is(err, ErrQuotaExceeded) to be true")
	}
}

func TestEntityNotFoundErrorMatchesSentinel(t *testing.T) {
	var err error = &EntityNotFoundError{StreamID: "missing"}
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatal("expected errors.Is(err, ErrEntityNotFound) to be true")
	}
}

func TestStorageErrorUnwrapsAndMatchesSentinel(t *testing.T) {
	inner := errors.New("disk full")
	var err error = &StorageError{Op: "wal.Append", Err: inner}
	if !errors.Is(err, ErrStorage) {
		t.Fatal("expected errors.Is(err, ErrStorage) to be true")
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the wrapped cause")
	}
}

func TestConcurrencyErrorIsAlwaysRetryable(t *testing.T) {
	err := &ConcurrencyError{Op: "AppendToStream", Err: errors.New("serialization failure")}
	if !errors.Is(err, ErrConcurrency) {
		t.Fatal("expected errors.Is(err, ErrConcurrency) to be true")
	}
	if !err.Retryable() {
		t.Fatal("ConcurrencyError must always be retryable")
	}
}

func TestSerializationErrorUnwrapsAndMatchesSentinel(t *testing.T) {
	inner := errors.New("invalid utf8")
	var err error = &SerializationError{EventType: "account.opened", Err: inner}
	if !errors.Is(err, ErrSerialization) {
		t.Fatal("expected errors.Is(err, ErrSerialization) to be true")
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the wrapped cause")
	}
}
