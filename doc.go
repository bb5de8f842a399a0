// Package vikauth is the account-security core for a hotel-booking platform:
// JWT access tokens, rotating opaque refresh tokens, a Redis session registry
// with tombstone revocation, an argon2id password pipeline, and the
// email/federated authentication-method state machine.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// vikauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [AccountProvider] and [Notifier] host interfaces, and value types
// (Claims, CredentialPair, SessionInfo, MetricsSnapshot). Session encoding,
// rate limiting, and the reset/history stores live under internal/ and are
// never exported. The host application owns account storage, routing, and
// delivery channels; the engine owns everything credential-shaped.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Store a plaintext secret anywhere: refresh and reset secrets exist only
//     inside the opaque tokens handed out, with SHA-256 digests server-side.
//   - Reveal account existence through error shapes or response timing on
//     login and password-reset paths.
//   - Run its own background timers; cleanup is driven by the host scheduler.
//
// # Performance contract
//
// ValidateAccess is the hot path: signature and expiry only, no Redis
// round-trips. Refresh performs its rotation in a single atomic Lua script.
package vikauth
