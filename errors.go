package engine

import (
	"fmt"
)

// Sentinel errors for the engine's error taxonomy. Every error surfaced
// on the ingest or query path wraps one of these with %w so callers can
// test with errors.Is/errors.As.
var (
	// ErrValidation indicates a value-object or domain invariant violation.
	// Never retried.
	ErrValidation = fmt.Errorf("engine: validation error")

	// ErrVersionConflict indicates an optimistic concurrency clash on a
	// stream append. The caller may retry with a fresh expected version.
	ErrVersionConflict = fmt.Errorf("engine: version conflict")

	// ErrQuotaExceeded indicates a tenant quota blocked the operation.
	// Not retried until the usage window resets.
	ErrQuotaExceeded = fmt.Errorf("engine: quota exceeded")

	// ErrTenantInactive indicates the tenant's active flag is false.
	// Not retried.
	ErrTenantInactive = fmt.Errorf("engine: tenant inactive")

	// ErrEntityNotFound indicates the read path addressed a non-existent
	// stream.
	ErrEntityNotFound = fmt.Errorf("engine: entity not found")

	// ErrStorage indicates a persistence failure: I/O error, mid-segment
	// CRC mismatch, corrupt columnar file, or short write. The ingest
	// caller did not durably commit and may retry after diagnosis.
	ErrStorage = fmt.Errorf("engine: storage error")

	// ErrConcurrency indicates the underlying store reported a conflict
	// the version check did not catch (e.g. a serialization failure).
	// Retryable.
	ErrConcurrency = fmt.Errorf("engine: concurrency error")

	// ErrSerialization indicates a codec failure. Fatal for that record.
	ErrSerialization = fmt.Errorf("engine: serialization error")
)

// ValidationError carries the field and reason for a rejected value object.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// VersionConflictError provides structured information about a version
// mismatch detected during an optimistic-concurrency append.
type VersionConflictError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on stream %s: expected=%d actual=%d", e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is allows errors.Is(err, ErrVersionConflict) to match this type.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// QuotaExceededError names which quota was blocking and its limit/usage.
type QuotaExceededError struct {
	TenantID TenantId
	Quota    string
	Limit    int64
	Usage    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s exceeded %s quota (usage=%d limit=%d)", e.TenantID, e.Quota, e.Usage, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// EntityNotFoundError names the stream that was addressed but not found.
type EntityNotFoundError struct {
	StreamID string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity not found: %s", e.StreamID)
}

func (e *EntityNotFoundError) Is(target error) bool { return target == ErrEntityNotFound }

// StorageError wraps an underlying persistence failure with the operation
// that failed, for diagnosis.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ConcurrencyError indicates the store detected a conflict the version
// check did not catch. Retryable returns true for every instance: this
// error kind is always worth a retry.
type ConcurrencyError struct {
	Op  string
	Err error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency error during %s: %v", e.Op, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// Retryable reports whether the caller may retry the operation.
func (e *ConcurrencyError) Retryable() bool { return true }

// SerializationError wraps a codec failure: the payload could not be
// encoded or decoded. Fatal for the record it names; never retried.
type SerializationError struct {
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error for event type %s: %v", e.EventType, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }
