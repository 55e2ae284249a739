package grantkit

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrStorageRequired is returned by [Builder.Build] when no storage
	// backend was supplied.
	ErrStorageRequired = errors.New("storage backend required")
	// ErrGrantInvalid is returned when a grant fails validation at creation.
	ErrGrantInvalid = errors.New("invalid grant")
	// ErrPatternSyntax is returned when an action, resource, or principal
	// matcher pattern is malformed. Pattern errors are always surfaced at
	// grant construction, never at evaluation time.
	ErrPatternSyntax = errors.New("matcher pattern syntax error")
	// ErrConditionSyntax is returned when a grant condition expression does
	// not compile or does not produce a boolean.
	ErrConditionSyntax = errors.New("condition syntax error")
	// ErrConditionEval is returned when a stored condition fails during
	// evaluation. It is surfaced to the caller, never masked as a decision.
	ErrConditionEval = errors.New("condition evaluation error")
	// ErrRequestInvalid is returned when an authorization request is missing
	// a principal, action, or resource.
	ErrRequestInvalid = errors.New("invalid authorization request")
	// ErrGrantNotFound is returned when no grant exists with the given ID.
	// DeleteGrant reports it too: deleting an absent grant is an error in
	// every backend, so a second delete of the same ID always fails the
	// same way.
	ErrGrantNotFound = errors.New("grant not found")
	// ErrGrantExists is returned when creating a grant whose ID is already
	// stored.
	ErrGrantExists = errors.New("grant already exists")
	// ErrLatchNotFound is returned when no latch exists with the given ID.
	ErrLatchNotFound = errors.New("latch not found")
	// ErrLatchState is returned when a latch transition is attempted out of
	// protocol, e.g. completing a latch not currently claimed by the caller.
	ErrLatchState = errors.New("latch state transition rejected")
	// ErrLeaseDuration is returned when a latch claim is attempted with a
	// nonpositive lease.
	ErrLeaseDuration = errors.New("lease duration must be positive")
	// ErrTokenInvalid is returned when a continuation token is malformed,
	// tampered with, or reused against different query parameters than the
	// ones that produced it.
	ErrTokenInvalid = errors.New("continuation token invalid for query")
	// ErrPageSize is returned when a page size is zero or negative.
	ErrPageSize = errors.New("page size must be positive")
	// ErrPartitionCount is returned by CreateLatches when the partition
	// count is not positive.
	ErrPartitionCount = errors.New("partition count must be positive")
	// ErrPartitionDescriptor is returned when a partition descriptor is not
	// one issued by the backend interpreting it.
	ErrPartitionDescriptor = errors.New("unknown partition descriptor")
)

// StorageError wraps a backend failure that surfaced through an Engine
// operation. The engine never converts a storage failure into an
// authorization outcome; callers observe the failure and decide whether to
// retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapStorage classifies an error coming back from the storage contract.
// Contract-level sentinels (not-found, conflict, token mismatch, latch
// protocol) pass through untouched so callers can match them with errors.Is;
// anything else is a backend I/O failure and gets the StorageError wrapper.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrGrantNotFound),
		errors.Is(err, ErrGrantExists),
		errors.Is(err, ErrLatchNotFound),
		errors.Is(err, ErrLatchState),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrPageSize),
		errors.Is(err, ErrLeaseDuration),
		errors.Is(err, ErrPartitionCount),
		errors.Is(err, ErrPartitionDescriptor),
		errors.Is(err, ErrGrantInvalid):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
