// Package redistore implements the grantkit storage contract on Redis.
//
// It is the backend for multi-process deployments: several engines can share
// one grant set, and a fleet of workers can run latch sweeps against it with
// the at-most-one-claimant rule enforced by Redis-side Lua scripts rather
// than process-local locking.
//
// # Key layout
//
// Everything lives under a configurable prefix (default "gk"):
//
//	<p>:g:<id>       grant hash: blob (JSON), effect, seq
//	<p>:gz           zset of all grant IDs scored by insertion sequence
//	<p>:gz:allow     zset of allow-grant IDs
//	<p>:gz:deny      zset of deny-grant IDs
//	<p>:gseq         grant sequence counter
//	<p>:l:<id>       latch hash
//	<p>:lz           zset of all latch IDs scored by insertion sequence
//	<p>:lz:pending   zset of pending latch IDs scored by sequence
//	<p>:lz:claimed   zset of claimed latch IDs scored by lease expiry
//	<p>:lseq         latch sequence counter
//
// The sequence zsets are what make pagination stable and continuation
// tokens cheap: a token is just the sequence of the last item handed out,
// signed and bound to the query that produced it.
//
// # What this package must NOT do
//
// No evaluation logic. Pattern and condition matching for authorization
// happens in the engine; this package only narrows listings with the same
// filter semantics as memstore. No clock reads inside Redis either; the
// caller's clock is passed into every script.
package redistore
