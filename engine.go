package vikauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/armanmishra1000/AirvikBook-sub000/internal"
	"github.com/armanmishra1000/AirvikBook-sub000/internal/rate"
	"github.com/armanmishra1000/AirvikBook-sub000/internal/stores"
	"github.com/armanmishra1000/AirvikBook-sub000/jwt"
	"github.com/armanmishra1000/AirvikBook-sub000/password"
	"github.com/armanmishra1000/AirvikBook-sub000/session"
)

// Engine is the account-security core: token lifecycle, session registry,
// password pipeline, and the authentication-method state machine. Build one
// through [Builder] and share it; all methods are safe for concurrent use.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config     Config
	provider   AccountProvider
	notifier   Notifier
	sessions   *session.Store
	limiter    *rate.Limiter
	resetStore *stores.PasswordResetStore
	history    *stores.PasswordHistoryStore
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	audit      *auditDispatcher
	metrics    *Metrics
	now        func() time.Time
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a deep copy of the engine counters. An engine
// built without metrics returns empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates an email/password pair and mints a credential pair.
// Wrong password, unknown email, and password-less (federated only) accounts
// all fail with [ErrInvalidCredentials] so the response shape never reveals
// whether the email is registered.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*CredentialPair, error) {
	if e == nil || e.hasher == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLoginLimit(ctx, email); err != nil {
		return nil, err
	}

	if plaintext == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "empty_password",
			}
		})
		return nil, ErrInvalidCredentials
	}

	account, err := e.getAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricLoginFailure)
			return nil, err
		}
		e.enumerationDelay(ctx)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_not_found",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if !account.HasPassword() {
		// Federated-only accounts cannot password-login, but the caller
		// must not learn that from the error shape.
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "no_password_credential",
			}
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "password_mismatch",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", statusErr, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_status",
			}
		})
		return nil, statusErr
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.hasher.NeedsUpgrade(account.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := e.hasher.Hash(plaintext); err == nil {
				// Rehash is best-effort and must not block a successful login.
				if err := e.provider.UpdatePasswordHash(ctx, account.AccountID, upgraded); err != nil {
					log.Print("vikauth: password hash upgrade update failed")
				}
			} else {
				log.Print("vikauth: password hash upgrade generation failed")
			}
		}
	}
	plaintext = ""

	pair, sessionID, err := e.createSession(ctx, account)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "session_creation",
			}
		})
		return nil, err
	}

	e.resetLoginLimit(ctx, email)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.AccountID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})

	return pair, nil
}

// FederatedLogin mints a credential pair for an account whose federated
// identity the host application has already verified with the external
// provider. The engine only checks that a federated identity is actually
// linked and that the account may authenticate.
//
// FederatedLogin may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) FederatedLogin(ctx context.Context, accountID string) (*CredentialPair, error) {
	if e == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimit(ctx, "login", accountID, e.config.RateLimits.Login); err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitRateLimit(ctx, "login", accountID, nil)
		return nil, err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		e.emitAudit(ctx, auditEventFederatedLoginFailure, false, accountID, "", ErrAccountNotFound, nil)
		return nil, ErrAccountNotFound
	}

	if !account.HasFederatedAuth {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedLoginFailure, false, account.AccountID, "", ErrFederatedNotLinked, nil)
		return nil, ErrFederatedNotLinked
	}

	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedLoginFailure, false, account.AccountID, "", statusErr, nil)
		return nil, statusErr
	}

	pair, sessionID, err := e.createSession(ctx, account)
	if err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedLoginFailure, false, account.AccountID, "", err, nil)
		return nil, err
	}

	e.resetLoginLimit(ctx, accountID)
	e.metricInc(MetricFederatedLoginSuccess)
	e.emitAudit(ctx, auditEventFederatedLoginSuccess, true, account.AccountID, sessionID, nil, nil)

	return pair, nil
}

// createSession persists a new session for the account and issues its
// credential pair. The new-device check runs against the sessions that
// existed before this login so the fresh session never matches itself.
func (e *Engine) createSession(ctx context.Context, account AccountRecord) (*CredentialPair, string, error) {
	sid, err := internal.NewTokenID()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewSecret()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	var uaHash [32]byte
	userAgent := userAgentFromContext(ctx)
	if userAgent != "" {
		uaHash = internal.HashDeviceValue(userAgent)
	}

	knownDevice := true
	if e.config.Security.NotifyOnNewDevice && userAgent != "" {
		knownDevice = e.deviceSeenBefore(ctx, account.AccountID, uaHash)
	}

	now := e.now()
	sess := &session.Session{
		SessionID:      sessionID,
		AccountID:      account.AccountID,
		Role:           account.Role,
		DeviceName:     deviceNameFromContext(ctx),
		IPAddress:      clientIPFromContext(ctx),
		UserAgentHash:  uaHash,
		RefreshHash:    internal.HashSecret(refreshSecret),
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(e.config.Token.RefreshTTL).Unix(),
		SchemaVersion:  session.CurrentSchemaVersion,
	}

	if err := e.sessions.Save(ctx, sess, e.config.Token.RefreshTTL); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	access, err := e.jwtManager.CreateAccess(account.AccountID, account.Email, account.Role, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	refreshToken, err := internal.EncodeOpaqueToken(sessionID, refreshSecret)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionCreated)

	if !knownDevice {
		e.notify(ctx, NotifyNewDeviceLogin, account.Email, map[string]string{
			"device_name": sess.DeviceName,
			"ip":          sess.IPAddress,
		})
		e.emitAudit(ctx, auditEventNewDeviceLogin, true, account.AccountID, sessionID, nil, nil)
	}

	return &CredentialPair{AccessToken: access, RefreshToken: refreshToken}, sessionID, nil
}

// deviceSeenBefore reports whether any existing session of the account was
// created from the same user agent. Lookup failures count as seen so a
// degraded Redis never floods accounts with new-device mail.
func (e *Engine) deviceSeenBefore(ctx context.Context, accountID string, uaHash [32]byte) bool {
	existing, err := e.sessions.ListForAccount(ctx, accountID)
	if err != nil {
		return true
	}
	for _, s := range existing {
		if s.UserAgentHash == uaHash {
			return true
		}
	}
	return false
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates an opaque refresh token: the provided secret is atomically
// compared and swapped against the stored hash, so of two concurrent
// rotations of the same token exactly one wins. A replayed (already rotated)
// token revokes the whole session line and returns [ErrRefreshReuse].
// Claims in the fresh access token reflect the account record as it is now,
// not as it was at login.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*CredentialPair, error) {
	if e == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrRefreshInvalid
	}

	if err := e.checkLimit(ctx, "refresh", sessionID, e.config.RateLimits.Refresh); err != nil {
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, err, nil)
		e.emitRateLimit(ctx, "refresh", "", func() map[string]string {
			return map[string]string{
				"session_id": sessionID,
			}
		})
		return nil, err
	}

	nextSecret, err := internal.NewSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := e.sessions.RotateRefreshHash(
		ctx,
		sessionID,
		internal.HashSecret(providedSecret),
		internal.HashSecret(nextSecret),
	)
	if err != nil {
		return nil, e.mapRotateError(ctx, sessionID, err)
	}

	account, err := e.getAccount(ctx, sess.AccountID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if !errors.Is(err, ErrAccountNotFound) {
			// A degraded account store says nothing about the session;
			// leave it alive so the caller can retry.
			return nil, err
		}
		// The session outlived its account; end the line.
		_, _ = e.sessions.Revoke(ctx, sessionID)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.AccountID, sessionID, ErrAccountNotFound, func() map[string]string {
			return map[string]string{
				"reason": "account_not_found",
			}
		})
		return nil, ErrAccountNotFound
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		_, _ = e.sessions.Revoke(ctx, sessionID)
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.AccountID, sessionID, statusErr, func() map[string]string {
			return map[string]string{
				"reason": "account_status",
			}
		})
		return nil, statusErr
	}

	access, err := e.jwtManager.CreateAccess(account.AccountID, account.Email, account.Role, sessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	newRefresh, err := internal.EncodeOpaqueToken(sessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.AccountID, sessionID, nil, nil)

	return &CredentialPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

func (e *Engine) mapRotateError(ctx context.Context, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrRotateMismatch):
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, ErrRefreshReuse, nil)
		return ErrRefreshReuse
	case errors.Is(err, session.ErrRotateRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionRevoked, func() map[string]string {
			return map[string]string{
				"reason": "session_revoked",
			}
		})
		return ErrSessionRevoked
	case errors.Is(err, session.ErrRotateExpired):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionExpired, func() map[string]string {
			return map[string]string{
				"reason": "session_expired",
			}
		})
		return ErrSessionExpired
	case errors.Is(err, session.ErrRotateNotFound):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
			return map[string]string{
				"reason": "session_not_found",
			}
		})
		return ErrSessionNotFound
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, err, func() map[string]string {
			return map[string]string{
				"reason": "rotate_failed",
			}
		})
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

/*
====================================
VALIDATE
====================================
*/

// ValidateAccess verifies an access token using signature and expiry alone.
// No storage is touched: a token stays valid for its full lifetime even
// after the session behind it was revoked, which is the accepted trade for
// a zero-latency hot path.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently.
func (e *Engine) ValidateAccess(_ context.Context, tokenStr string) (*Claims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		if jwt.IsExpired(err) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if e.config.Security.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(e.now().Add(e.config.Security.MaxClockSkew)) {
			e.metricInc(MetricValidateFailure)
			return nil, ErrTokenClockSkew
		}
	}

	out := &Claims{
		AccountID: claims.AID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}

	e.metricInc(MetricValidateSuccess)
	return out, nil
}

/*
====================================
SESSION MANAGEMENT
====================================
*/

// RevokeSession marks a session revoked. Idempotent: revoking a missing or
// already revoked session succeeds without effect.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	changed, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if changed {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, nil, nil)
	return nil
}

// Logout revokes the session behind a refresh token.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	sessionID, _, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return ErrRefreshInvalid
	}

	if err := e.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	return nil
}

// LogoutAll revokes every session of the account and returns how many
// transitioned to revoked.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, accountID, "", err, nil)
		return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, nil)
	return revoked, nil
}

// Sessions lists the account's tracked sessions for a device-management
// view. When currentRefreshToken identifies one of them it is listed first;
// the rest follow in descending last-activity order.
//
// Sessions may return an error when input validation, dependency calls, or security checks fail.
// Sessions does not mutate shared global state and can be used concurrently.
func (e *Engine) Sessions(ctx context.Context, accountID, currentRefreshToken string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	currentID := ""
	if currentRefreshToken != "" {
		if sid, _, err := internal.DecodeOpaqueToken(currentRefreshToken); err == nil {
			currentID = sid
		}
	}

	list, err := e.listSessionsWithRetry(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info := SessionInfo{
			SessionID:      s.SessionID,
			DeviceName:     s.DeviceName,
			IPAddress:      s.IPAddress,
			CreatedAt:      time.Unix(s.CreatedAt, 0).UTC(),
			LastActivityAt: time.Unix(s.LastActivityAt, 0).UTC(),
			ExpiresAt:      time.Unix(s.ExpiresAt, 0).UTC(),
			Current:        s.SessionID == currentID,
			Revoked:        s.Revoked,
		}
		if info.Current {
			out = append([]SessionInfo{info}, out...)
			continue
		}
		out = append(out, info)
	}

	return out, nil
}

// listSessionsWithRetry reads the account's sessions with one transient
// retry; the listing is a pure read so retrying is safe.
func (e *Engine) listSessionsWithRetry(ctx context.Context, accountID string) ([]*session.Session, error) {
	var list []*session.Session
	err := e.retryRead(ctx, func(err error) bool {
		return errors.Is(err, session.ErrRedisUnavailable)
	}, func() error {
		var err error
		list, err = e.sessions.ListForAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// TouchSession updates a session's last-activity timestamp. Best effort:
// callers may ignore the error.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PurgeExpiredSessions drops account-index entries whose sessions expired.
// Intended to be driven by an external scheduler; the engine never runs its
// own timers.
func (e *Engine) PurgeExpiredSessions(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	purged, err := e.sessions.PurgeExpired(ctx, accountID)
	if err != nil {
		return purged, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return purged, nil
}

/*
====================================
SHARED HELPERS
====================================
*/

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountLocked:
		return ErrAccountLocked
	case AccountDeleted:
		return ErrAccountDeleted
	default:
		// Unknown statuses fail closed.
		return ErrAccountDisabled
	}
}

// checkLimit consumes one attempt from the fixed-window budget. A zero
// budget disables the limiter for that operation. Limiter storage failures
// fail closed.
func (e *Engine) checkLimit(ctx context.Context, op, key string, budget RateLimitWindow) error {
	if e.limiter == nil || budget.Window <= 0 || budget.Max <= 0 {
		return nil
	}

	decision, err := e.limiter.Check(ctx, op, key, budget.Window, budget.Max)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !decision.Allowed {
		return &RateLimitError{Op: op, RetryAfter: decision.RetryAfter}
	}
	return nil
}

// checkLoginLimit throttles login attempts per identifier and, when enabled,
// per client IP. Both buckets burn on every attempt so a failed password
// and a throttled attempt are indistinguishable in cost.
func (e *Engine) checkLoginLimit(ctx context.Context, identifier string) error {
	budget := e.config.RateLimits.Login

	if err := e.checkLimit(ctx, "login", identifier, budget); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", err, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			e.emitRateLimit(ctx, "login", "", func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
		}
		return err
	}

	if e.config.RateLimits.EnableIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			if err := e.checkLimit(ctx, "login_ip", ip, budget); err != nil {
				if errors.Is(err, ErrRateLimited) {
					e.metricInc(MetricLoginRateLimited)
					e.emitRateLimit(ctx, "login_ip", "", nil)
				}
				return err
			}
		}
	}

	return nil
}

// LoginAttemptsUsed reports how many attempts the identifier burned in the
// current login window, without consuming one. Zero when login rate
// limiting is disabled. Intended for support tooling.
func (e *Engine) LoginAttemptsUsed(ctx context.Context, identifier string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	budget := e.config.RateLimits.Login
	if budget.Window <= 0 || budget.Max <= 0 {
		return 0, nil
	}

	used, err := e.limiter.Peek(ctx, "login", identifier, budget.Window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return used, nil
}

// resetLoginLimit clears the login windows after a successful
// authentication so earlier fumbled attempts stop counting against the
// account owner. Best effort: the login already succeeded.
func (e *Engine) resetLoginLimit(ctx context.Context, identifier string) {
	budget := e.config.RateLimits.Login
	if e.limiter == nil || budget.Window <= 0 || budget.Max <= 0 {
		return
	}

	if err := e.limiter.Reset(ctx, "login", identifier, budget.Window); err != nil {
		log.Print("vikauth: login rate limit reset failed")
	}
	if e.config.RateLimits.EnableIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			if err := e.limiter.Reset(ctx, "login_ip", ip, budget.Window); err != nil {
				log.Print("vikauth: login rate limit reset failed")
			}
		}
	}
}

// transientRetryBackoff separates the two attempts of a retried read.
const transientRetryBackoff = 25 * time.Millisecond

// retryRead runs an idempotent read and repeats it once after a short
// backoff when the first attempt failed transiently. Never route writes
// through here.
func (e *Engine) retryRead(ctx context.Context, transient func(error) bool, read func() error) error {
	err := read()
	if err == nil || !transient(err) {
		return err
	}

	timer := time.NewTimer(transientRetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	return read()
}

// getAccount fetches an account by ID with one transient retry. Unknown
// accounts surface as [ErrAccountNotFound]; every other provider failure
// is a storage problem, not a verdict about the account.
func (e *Engine) getAccount(ctx context.Context, accountID string) (AccountRecord, error) {
	var account AccountRecord
	err := e.retryRead(ctx, isProviderTransient, func() error {
		var err error
		account, err = e.provider.GetAccountByID(ctx, accountID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return account, nil
}

// getAccountByEmail is the email-keyed twin of getAccount.
func (e *Engine) getAccountByEmail(ctx context.Context, email string) (AccountRecord, error) {
	var account AccountRecord
	err := e.retryRead(ctx, isProviderTransient, func() error {
		var err error
		account, err = e.provider.GetAccountByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return account, nil
}

func isProviderTransient(err error) bool {
	return !errors.Is(err, ErrAccountNotFound)
}

// enumerationDelay sleeps for a randomized interval inside the configured
// bounds. Applied to paths whose fast exit would otherwise reveal that an
// email is not registered.
func (e *Engine) enumerationDelay(ctx context.Context) {
	min := e.config.Security.EnumerationDelayMin
	max := e.config.Security.EnumerationDelayMax
	if max <= 0 {
		return
	}

	delay := min
	if span := max - min; span > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(span))); err == nil {
			delay += time.Duration(n.Int64())
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// notify delivers a security notification. Fire and forget: failures are
// counted and audited but never surfaced to the triggering operation.
func (e *Engine) notify(ctx context.Context, event NotifyEvent, email string, meta map[string]string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, email, meta); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.emitAudit(ctx, auditEventNotifyFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"event": string(event),
			}
		})
		log.Print("vikauth: notification delivery failed")
	}
}
