package grantkit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Storage is the contract every backend must satisfy. The engine, the audit
// pagination, and the latch coordinator depend only on this interface; an
// in-memory map, a SQL table, or a distributed KV store are interchangeable
// as long as the observable behavior below holds.
//
// # Pagination
//
// Listing operations return at most pageSize items in a stable,
// backend-defined order that is consistent across pages of the same query.
// Continuation tokens are opaque and bound to the query parameters that
// produced them; reuse against different parameters fails with
// [ErrTokenInvalid]. Pagination is live, not snapshot-isolated: grants
// created or deleted mid-iteration may or may not appear, but a static
// grant set is always enumerated completely and without duplicates. Callers
// needing snapshot semantics must quiesce writes themselves.
//
// # Atomicity
//
// Every method is individually atomic with respect to concurrent callers.
// ClaimLatch in particular must uphold at-most-one-active-claimant across
// processes, using the backend's native primitive (mutex, conditional
// write, Lua script, transaction).
type Storage interface {
	// CreateGrant validates and stores a grant, minting a UUID when the
	// grant's ID is zero. Fails with ErrGrantExists when the ID is already
	// stored.
	CreateGrant(ctx context.Context, grant Grant) (uuid.UUID, error)

	// GetGrant returns the grant with the given ID or ErrGrantNotFound.
	GetGrant(ctx context.Context, id uuid.UUID) (Grant, error)

	// DeleteGrant revokes a grant. Deleting an absent ID fails with
	// ErrGrantNotFound in every backend, so repeated deletes are observably
	// consistent.
	DeleteGrant(ctx context.Context, id uuid.UUID) error

	// ListGrants returns one page of grants matching the filter plus a
	// continuation token, empty when exhausted.
	ListGrants(ctx context.Context, filter GrantFilter, pageSize int, token string) (GrantPage, error)

	// CreateLatches partitions the grant keyspace into `partitions` pending
	// latches and returns their IDs.
	CreateLatches(ctx context.Context, partitions int) ([]uuid.UUID, error)

	// ClaimLatch atomically claims one pending (or lease-expired claimed)
	// latch for workerID with expiry now+lease, returning nil when nothing
	// is claimable. Reclaiming an expired claim increments the retry count.
	ClaimLatch(ctx context.Context, workerID string, lease time.Duration) (*Latch, error)

	// CompleteLatch marks a latch done. Fails with ErrLatchState unless the
	// latch is currently claimed by workerID.
	CompleteLatch(ctx context.Context, id uuid.UUID, workerID string) error

	// FailLatch reverts a claimed latch to pending and increments its retry
	// count. Same ownership rules as CompleteLatch.
	FailLatch(ctx context.Context, id uuid.UUID, workerID string) error

	// ListLatches returns one page of latches by effective state: a claimed
	// latch whose lease has expired is reported as pending.
	ListLatches(ctx context.Context, filter LatchFilter, pageSize int, token string) (LatchPage, error)

	// ListPartition pages through the grants belonging to one latch
	// partition. The descriptor must be one this backend issued; anything
	// else fails with ErrPartitionDescriptor.
	ListPartition(ctx context.Context, descriptor string, pageSize int, token string) (GrantPage, error)
}
