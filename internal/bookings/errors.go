package bookings

import "errors"

// Error kinds returned by every booking operation. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrNotFound is returned when a booking, request or membership does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyJoined marks a duplicate join. It is informational and must not be retried.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrCapacityExceeded is returned when another seat would break the capacity limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrInvalidState is returned when the booking or request status forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrPermissionDenied is returned when a non-host calls a host-only operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConcurrencyConflict is returned once optimistic retries are exhausted.
	// The whole operation is safe to retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// errVersionConflict means the record changed between read and conditional write.
// It never leaves this package.
var errVersionConflict = errors.New("version conflict")
