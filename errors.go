package vikauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/armanmishra1000/AirvikBook-sub000/password"
)

var (
	// ErrUnauthorized is the umbrella failure for unauthenticated callers.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for a wrong email/password pair.
	// It deliberately does not distinguish unknown accounts from wrong
	// passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned when an explicit account lookup misses.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountDisabled is returned for administratively disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned for security-locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDeleted is returned for soft-deleted accounts.
	ErrAccountDeleted = errors.New("account deleted")

	// ErrTokenInvalid is returned when an access token fails signature or
	// claim validation.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenClockSkew is returned when a token's iat is unreasonably far
	// in the future.
	ErrTokenClockSkew = errors.New("token clock skew exceeded")

	// ErrRefreshInvalid is returned for structurally broken refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-rotated refresh token is
	// replayed. The session is revoked as a side effect.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned when the session behind a token no
	// longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session behind a token has
	// passed its absolute expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is returned when the session was explicitly revoked.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionCreationFailed is returned when a login cannot persist its
	// session.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrPasswordPolicy is the sentinel behind every policy rejection; the
	// concrete violations ride on [PolicyError].
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current
	// one or a recent historical one.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrPasswordAlreadySet is returned when SetPassword hits an account
	// that already has a password.
	ErrPasswordAlreadySet = errors.New("password already set")
	// ErrNoPasswordSet is returned when a password operation requires an
	// existing password and the account has none.
	ErrNoPasswordSet = errors.New("no password set on account")
	// ErrPasswordSoleAuthMethod blocks removing the only way into an
	// account.
	ErrPasswordSoleAuthMethod = errors.New("password is the only authentication method")
	// ErrFederatedNotLinked is returned when a federated login hits an
	// account without a linked federated identity.
	ErrFederatedNotLinked = errors.New("no federated identity linked")

	// ErrPasswordResetDisabled is returned when the reset flow is switched off.
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	// ErrPasswordResetInvalid is returned for unknown, expired, or
	// already-consumed reset challenges.
	ErrPasswordResetInvalid = errors.New("password reset challenge invalid")
	// ErrPasswordResetAttempts is returned once a reset challenge burned
	// all its verification attempts.
	ErrPasswordResetAttempts = errors.New("password reset attempts exceeded")

	// ErrRateLimited is the sentinel behind every throttled operation; the
	// retry hint rides on [RateLimitError].
	ErrRateLimited = errors.New("rate limited")

	// ErrStoreUnavailable wraps transient storage failures. Callers may
	// retry; fail-closed semantics mean no operation falls back to an
	// unverified success.
	ErrStoreUnavailable = errors.New("storage backend unavailable")

	// ErrInvariantViolation reports state that the design says cannot
	// exist, such as an account with neither a password nor a federated
	// identity.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrEngineNotReady is returned by a zero or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// PolicyError carries the complete set of policy violations for a rejected
// password, plus the strength assessment. errors.Is(err, ErrPasswordPolicy)
// matches it.
type PolicyError struct {
	Violations []password.Violation
	Score      int
	Label      password.StrengthLabel
}

func (e *PolicyError) Error() string {
	if len(e.Violations) == 0 {
		return ErrPasswordPolicy.Error()
	}

	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = string(v.Code)
	}
	return fmt.Sprintf("password policy violation: %s", strings.Join(codes, ", "))
}

func (e *PolicyError) Unwrap() error {
	return ErrPasswordPolicy
}

// RateLimitError identifies which operation was throttled and when the
// window rolls over. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Op, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ErrorKind buckets every engine error into the coarse category an API
// layer needs for status mapping.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindNotFound        ErrorKind = "not_found"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUnavailable     ErrorKind = "unavailable"
	KindInvariant       ErrorKind = "invariant"
	KindUnknown         ErrorKind = "unknown"
)

// KindOf classifies an engine error. Unknown errors, including nil, map to
// KindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenClockSkew),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrRefreshReuse),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrPasswordResetAttempts):
		return KindUnauthenticated
	case errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountDeleted),
		errors.Is(err, ErrPasswordResetDisabled):
		return KindForbidden
	case errors.Is(err, ErrPasswordPolicy):
		return KindValidation
	case errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrPasswordAlreadySet),
		errors.Is(err, ErrNoPasswordSet),
		errors.Is(err, ErrPasswordSoleAuthMethod),
		errors.Is(err, ErrFederatedNotLinked):
		return KindConflict
	case errors.Is(err, ErrAccountNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrSessionCreationFailed),
		errors.Is(err, ErrEngineNotReady):
		return KindUnavailable
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	default:
		return KindUnknown
	}
}
