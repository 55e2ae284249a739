// Package match implements the pattern language grant matchers are written
// in: colon-segmented names with single-segment and hierarchical-suffix
// wildcards.
//
// # Design
//
// Patterns compile once, at grant creation, into a segment list plus a
// prefix flag. Matching is a single pass over the candidate value with no
// allocation beyond the split. Malformed patterns are rejected by Compile so
// the evaluation path never sees a syntax error.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import grantkit or any sibling package.
package match
