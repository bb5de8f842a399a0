// Package password implements the password security pipeline: Argon2id
// hashing, composition policy evaluation, strength scoring, and secure
// password generation.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The [Hasher] supports transparent parameter upgrades: if the stored hash was
// produced with weaker parameters, [Hasher.NeedsUpgrade] returns true so the
// caller can re-hash on the next successful verification.
//
// # Policy evaluation
//
// [Validate] runs every configured check and returns all violations together
// with a 0..100 strength score. Reuse history is checked through the
// [HistoryChecker] interface so this package never touches storage directly.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords or hash parameters at runtime.
package password
