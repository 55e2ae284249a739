// Package grantkit provides a policy-based authorization engine: stored
// allow/deny grants are evaluated against requests with strict deny
// precedence, and the full grant set can be audited through stateless,
// resumable pagination or partitioned latch-driven sweeps.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// grantkit is the public surface. It exposes [Engine], [Builder], [Config],
// the [Storage] contract, and value types (Grant, Request, Decision, Latch,
// GrantPage). Concrete backends live in their own packages (memstore,
// redistore) and depend only on the contract. Continuation-token signing and
// partition arithmetic live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Interpret a storage failure as an authorization decision. Backend
//     errors always surface to the caller wrapped in [*StorageError].
//   - Hold cursor state between Audit calls. All positional state lives in
//     the opaque continuation token held by the caller.
//   - Impose a retry ceiling on latches. Retry counts are exposed; the
//     policy belongs to the caller.
//
// # Evaluation contract
//
// Authorize fetches deny grants before allow grants and never reorders the
// two passes. Any matching deny grant ends evaluation with OutcomeDeny. With
// no matching grant at all the outcome is OutcomeImplicitDeny: the engine is
// default-closed.
package grantkit
