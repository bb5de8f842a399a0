// Package refresh implements client-side coordination for opaque rotating
// refresh tokens.
//
// # Why single flight
//
// Rotation makes refresh tokens single use: the moment one refresh succeeds,
// the token every other concurrent caller is holding is spent, and replaying
// it revokes the session. [Group] collapses concurrent refreshes per session
// into one execution so well-behaved clients never trip reuse detection.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import the root package, jwt, or session.
//   - Implement rotation or replay logic.
package refresh
