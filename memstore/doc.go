// Package memstore is the in-memory reference implementation of the
// grantkit storage contract.
//
// It exists for tests, examples, and single-process deployments, and doubles
// as the executable reference for backend behavior: the redistore tests
// assert parity against it. All storage is lost when the process exits.
//
// # Concurrency
//
// One RWMutex guards everything. Reads (get, list) take the read lock;
// create, delete, and all latch transitions take the write lock, so every
// contract operation is atomic and ClaimLatch cannot double-claim.
package memstore
