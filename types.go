package vikauth

import (
	"context"
	"time"
)

// AccountStatus is the administrative state of an account as reported by
// the host application's [AccountProvider].
type AccountStatus uint8

const (
	// AccountActive accounts can authenticate normally.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are administratively blocked.
	AccountDisabled
	// AccountLocked accounts are blocked pending a security review.
	AccountLocked
	// AccountDeleted accounts are soft deleted and never authenticate.
	AccountDeleted
)

// AuthType is derived from which credentials an account holds; it is never
// stored independently, so it cannot drift out of sync with the underlying
// fields.
type AuthType uint8

const (
	// AuthTypeEmailOnly accounts authenticate with email and password only.
	AuthTypeEmailOnly AuthType = iota
	// AuthTypeFederatedOnly accounts authenticate through a linked
	// federated identity and hold no password.
	AuthTypeFederatedOnly
	// AuthTypeMixed accounts hold both a password and a federated identity.
	AuthTypeMixed
)

func (t AuthType) String() string {
	switch t {
	case AuthTypeEmailOnly:
		return "email_only"
	case AuthTypeFederatedOnly:
		return "federated_only"
	case AuthTypeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// DeriveAuthType computes the authentication type from credential presence.
// An account with neither credential cannot exist; observing one is a
// storage corruption signal, not a user error.
func DeriveAuthType(hasPassword, hasFederated bool) (AuthType, error) {
	switch {
	case hasPassword && hasFederated:
		return AuthTypeMixed, nil
	case hasPassword:
		return AuthTypeEmailOnly, nil
	case hasFederated:
		return AuthTypeFederatedOnly, nil
	default:
		return 0, ErrInvariantViolation
	}
}

// AccountRecord is the engine's read model of a host application account.
// PasswordHash is empty for federated-only accounts.
//
// AccountRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountRecord struct {
	AccountID string
	Email     string
	FirstName string
	LastName  string
	Role      string

	PasswordHash     string
	HasFederatedAuth bool

	Status            AccountStatus
	PasswordChangedAt int64
}

// HasPassword reports whether the account holds a password credential.
func (r AccountRecord) HasPassword() bool {
	return r.PasswordHash != ""
}

// AuthType derives the account's authentication type from its credentials.
func (r AccountRecord) AuthType() (AuthType, error) {
	return DeriveAuthType(r.HasPassword(), r.HasFederatedAuth)
}

// AccountProvider is the host integration surface. The engine owns tokens,
// sessions, and password security; the provider owns account storage.
// Implementations must be safe for concurrent use.
type AccountProvider interface {
	// GetAccountByID fetches an account by its stable identifier. Missing
	// accounts must return an error wrapping [ErrAccountNotFound]; any
	// other error is treated as a transient storage failure and is
	// retried once, never as proof the account is gone.
	GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error)

	// GetAccountByEmail fetches an account by email under the same error
	// contract as GetAccountByID. The engine never reveals through its
	// own errors whether the email existed.
	GetAccountByEmail(ctx context.Context, email string) (AccountRecord, error)

	// UpdatePasswordHash atomically replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error

	// ClearPasswordHash removes the password credential entirely. Only
	// called after the engine verified another authentication method
	// remains.
	ClearPasswordHash(ctx context.Context, accountID string) error
}

// NotifyEvent names a security notification delivered to the account owner.
type NotifyEvent string

const (
	NotifyPasswordChanged NotifyEvent = "password_changed"
	NotifyPasswordSet     NotifyEvent = "password_set"
	NotifyPasswordRemoved NotifyEvent = "password_removed"
	NotifyPasswordReset   NotifyEvent = "password_reset"
	NotifyNewDeviceLogin  NotifyEvent = "new_device_login"
)

// Notifier delivers security notifications. Calls are fire and forget: the
// engine records failures in metrics and audit but never fails the
// triggering operation over a notification.
type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent, email string, meta map[string]string) error
}

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, NotifyEvent, string, map[string]string) error {
	return nil
}

// Claims is the validated identity extracted from an access token.
type Claims struct {
	AccountID string
	Email     string
	Role      string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialPair is the result of any operation that mints credentials: a
// short-lived access token and the opaque refresh token that renews it.
type CredentialPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionInfo is the caller-facing projection of a session for device
// listings. It never exposes token material.
type SessionInfo struct {
	SessionID      string
	DeviceName     string
	IPAddress      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Current        bool
	Revoked        bool
}
