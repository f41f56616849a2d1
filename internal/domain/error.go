package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("operation failed")

	// Pipeline errors
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleState        = errors.New("output is no longer in the expected state")
	ErrEmptyScript       = errors.New("script is empty")
	ErrMissingAvatar     = errors.New("avatar id is not set")
	ErrMissingVoice      = errors.New("voice id is not set")
	ErrUnknownJobType    = errors.New("unknown job type")
	ErrQueueClosed       = errors.New("queue closed")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock held by another process")
)

// ErrorKind classifies stage failures by how the pipeline reacts to them.
type ErrorKind string

const (
	// KindPrecondition failures are never retried: repeating will not change the outcome.
	KindPrecondition ErrorKind = "precondition"
	// KindTransient failures are retried by the queue backoff policy.
	KindTransient ErrorKind = "transient"
	// KindExternal is a failure reported asynchronously by a provider webhook.
	KindExternal ErrorKind = "external"
	// KindTimeout marks an output reclaimed by the timeout monitor.
	KindTimeout ErrorKind = "timeout"
)

// StageError carries the failure kind alongside the operation that produced it.
type StageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Precondition wraps err as a non-retryable precondition failure.
func Precondition(op string, err error) error {
	return &StageError{Kind: KindPrecondition, Op: op, Err: err}
}

// Transient wraps err as a retryable provider failure. Errors an adapter
// already classified keep their kind.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: KindTransient, Op: op, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are treated as transient.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEmptyScript), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnknownJobType):
		return KindPrecondition
	}
	return KindTransient
}

// IsPermanent reports whether the queue should stop retrying err.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindPrecondition, KindExternal, KindTimeout:
		return true
	}
	return false
}
