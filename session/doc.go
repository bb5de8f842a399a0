// Package session provides the Redis-backed session registry and a compact
// binary session encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a fixed-offset binary header followed by
// length-prefixed strings. The mutable fields (revoked flag, refresh hash,
// last-activity timestamp) live at fixed offsets so the store's Lua scripts
// can splice them atomically without parsing the whole record.
//
// # Revocation model
//
// Revocation is a tombstone, not a delete: the record keeps its remaining
// TTL with the revoked flag set. A refresh token replayed against a revoked
// session gets a distinct revocation error instead of a generic not-found,
// which is what makes reuse detection observable.
//
// # What this package must NOT do
//
//   - Import the root package or jwt (no upward imports).
//   - Interpret access tokens or enforce authentication policy.
//   - Store plaintext secrets in [Session] fields.
package session
