// Package rate provides the Redis-backed fixed-window rate limit primitive
// shared by every throttled operation.
//
// # Window semantics
//
// Windows are aligned to floor(now/window) and encoded into the Redis key,
// so counters roll over deterministically and independent processes agree on
// the active window. Counting is a single atomic Lua INCR + PEXPIRE.
//
// # What this package must NOT do
//
//   - Decide which operations are limited or with what budgets.
//   - Be imported outside this module.
package rate
