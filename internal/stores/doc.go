// Package stores provides Redis-backed record stores for the password
// security pipeline: single-use password reset challenges and the capped
// password reuse history.
//
// # Design
//
// The reset store persists a versioned, binary-encoded record with a TTL.
// Consume uses a WATCH/MULTI optimistic transaction with automatic retry on
// contention, so a reset token can be redeemed at most once no matter how
// many confirmations race. Secret comparisons use constant-time compare.
// The history store is a capped Redis list of PHC hash strings.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
