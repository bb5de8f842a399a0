// Package internal contains helper utilities that are intentionally private to
// vikauth, including secure random generation and opaque token codecs.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed-window rate limit primitives
//   - stores — Redis stores for password reset records and password history
//
// # What this package must NOT do
//
//   - Export types that appear in the public vikauth API.
//   - Be imported by any package outside this module.
package internal
