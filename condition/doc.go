// Package condition evaluates grant condition expressions written in CEL
// (Common Expression Language).
//
// Conditions see four variables: principal, action, resource, and the
// request context map. They must evaluate to a boolean; anything else is a
// compile-time rejection. Programs are cached per expression source behind a
// read-mostly lock, so steady-state evaluation takes the read path only.
package condition
